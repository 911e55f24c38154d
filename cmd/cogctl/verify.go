package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/bus"
	"github.com/while-basic/celaya-parachain-sub000/internal/config"
	"github.com/while-basic/celaya-parachain-sub000/internal/engine"
	"github.com/while-basic/celaya-parachain-sub000/internal/report"
	"github.com/while-basic/celaya-parachain-sub000/internal/sealer"
)

// errVerification marks a report whose integrity checks failed.
var errVerification = errors.New("report failed verification")

type verifyOptions struct {
	natsURL string
	stream  string
	bucket  string
}

func newVerifyCmd() *cobra.Command {
	defaults := config.Default().NATS
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify <report.json>",
		Short: "Verify a sealed report",
		Long: `Recompute a report's merkle root and check its signature. With --nats the
stored content and the ledger entry are checked as well.

Examples:
  # Offline: root and signature only
  cogctl verify out.json

  # Full check against a cognitiond NATS cluster
  cogctl verify --nats nats://localhost:4222 out.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.natsURL, "nats", "", "NATS URL holding the ledger and content store")
	cmd.Flags().StringVar(&opts.stream, "ledger-stream", defaults.LedgerStream, "JetStream ledger stream")
	cmd.Flags().StringVar(&opts.bucket, "content-bucket", defaults.ContentBucket, "object store bucket")
	return cmd
}

func runVerify(cmd *cobra.Command, path string, opts *verifyOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading report: %w", err)
	}
	var rep report.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return fmt.Errorf("decoding report %s: %w", path, err)
	}

	var (
		v     *sealer.Verification
		valid bool
	)
	if opts.natsURL == "" {
		if v, err = sealer.VerifyIntegrity(&rep); err != nil {
			return err
		}
		valid = v.RootMatches && v.SignatureValid
	} else {
		if v, err = verifyAgainstNATS(cmd, &rep, opts); err != nil {
			return err
		}
		valid = v.Valid
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if !valid {
		return &exitError{code: engine.ExitFailure, err: errVerification}
	}
	return nil
}

func verifyAgainstNATS(cmd *cobra.Command, rep *report.Report, opts *verifyOptions) (*sealer.Verification, error) {
	conn, err := bus.Connect(config.NATSConfig{URL: opts.natsURL}, zap.NewNop())
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ledger, err := sealer.NewJetStreamLedger(conn.NC, opts.stream)
	if err != nil {
		return nil, err
	}
	content, err := sealer.NewObjectContentStore(conn.NC, opts.bucket)
	if err != nil {
		return nil, err
	}
	s := sealer.New(content, ledger, nil, sealer.Config{}, nil)
	return s.Verify(cmd.Context(), rep)
}
