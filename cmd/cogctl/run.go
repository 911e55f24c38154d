package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
	"github.com/while-basic/celaya-parachain-sub000/internal/config"
	"github.com/while-basic/celaya-parachain-sub000/internal/engine"
	"github.com/while-basic/celaya-parachain-sub000/internal/services"
	"github.com/while-basic/celaya-parachain-sub000/internal/stream"
)

type runOptions struct {
	configPath string
	timeout    time.Duration
	quiet      bool
	reportPath string
	verbose    bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a cognition definition in-process",
		Long: `Run a definition with an in-process engine and print its event stream in
the wire framing, one "type:<type> payload:<json>" line per event.

The ledger and content store are in-process unless nats.url is configured.
The exit code reflects how the execution ended.

Examples:
  # Run and watch every event
  cogctl run examples/cognitions/sentinel-audit.yaml

  # Run with a tighter budget and keep the sealed report
  cogctl run --timeout 30s --quiet --report out.json examples/cognitions/gossip-round.toml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDefinition(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", os.Getenv("COGNITIOND_CONFIG"), "path to config.yaml")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "override the definition's timeout")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print events")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "write the final report as JSON to this path")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at the configured level instead of warn")
	return cmd
}

func runDefinition(cmd *cobra.Command, path string, opts *runOptions) error {
	def, err := cognition.LoadFile(path)
	if err != nil {
		return err
	}
	if opts.timeout > 0 {
		def.Timeout = config.Duration(opts.timeout)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	cfg.NATS.Embedded = false
	if !opts.verbose {
		cfg.Logging.Level = "warn"
	}

	ctx := cmd.Context()
	reg, err := services.New(ctx, cfg, services.Options{Version: version, LogToStderr: true})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = reg.Close(closeCtx)
	}()
	eng := reg.Engine()

	id, err := eng.StartExecution(ctx, def, engine.StartOptions{Discard: opts.quiet})
	if err != nil {
		return err
	}

	if !opts.quiet {
		events, err := eng.StreamEvents(ctx, id)
		if err != nil {
			return err
		}
		enc := stream.NewEncoder(cmd.OutOrStdout())
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				return fmt.Errorf("writing event: %w", err)
			}
		}
	}

	_, runErr := eng.Wait(ctx, id)

	if opts.reportPath != "" {
		if err := writeReport(eng, id, opts.reportPath); err != nil && runErr == nil {
			return err
		}
	}
	return runErr
}

func writeReport(eng *engine.Engine, id, path string) error {
	rep, err := eng.GetReport(id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
