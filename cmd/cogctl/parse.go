package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/while-basic/celaya-parachain-sub000/internal/stream"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse",
		Short: "Pretty-print a framed event stream from stdin",
		Long: `Read "type:<type> payload:<json>" frames from stdin and print each event
with its data indented. Malformed frames are reported and skipped; unknown
event types are counted and ignored.

Examples:
  cogctl run examples/cognitions/sentinel-audit.yaml | cogctl parse
  curl -sN localhost:9190/api/v1/executions/<id>/events | cogctl parse`,
		Args: cobra.NoArgs,
		RunE: runParse,
	}
}

func runParse(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	dec := stream.NewDecoder(cmd.InOrStdin())

	var events, malformed int
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var ferr *stream.FrameError
		if errors.As(err, &ferr) || errors.Is(err, stream.ErrIncompleteFrame) {
			malformed++
			fmt.Fprintf(errOut, "skipping frame: %v\n", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		events++
		printEvent(out, ev)
	}

	fmt.Fprintf(errOut, "%d events, %d malformed, %d unknown\n", events, malformed, dec.Skipped())
	return nil
}

func printEvent(w io.Writer, ev stream.Event) {
	fmt.Fprintf(w, "#%-4d %-18s %s %s\n", ev.Seq, ev.Type, ev.ExecutionID, ev.Timestamp.Format(time.RFC3339Nano))
	if len(ev.Data) == 0 {
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, ev.Data, "      ", "  "); err != nil {
		fmt.Fprintf(w, "      %s\n", ev.Data)
		return
	}
	fmt.Fprintf(w, "      %s\n", buf.String())
}
