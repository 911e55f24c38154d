// Package main implements cogctl, the operator CLI for cognition definitions,
// in-process runs and sealed report verification.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/while-basic/celaya-parachain-sub000/internal/engine"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitError carries an explicit process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps err to a process exit code, honouring exitError first.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return engine.ExitCode(err)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cogctl",
		Short: "Operate on cognition definitions and sealed reports",
		Long: `cogctl validates cognition definitions, runs them in-process, verifies
sealed reports and reads framed event streams.

Exit codes follow the engine: 2 validation, 3 not found, 4 quorum,
5 timeout, 6 backpressure, 7 sealing, 1 anything else.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newValidateCmd(),
		newRunCmd(),
		newVerifyCmd(),
		newKeygenCmd(),
		newParseCmd(),
	)
	return root
}
