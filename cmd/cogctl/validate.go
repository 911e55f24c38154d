package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a cognition definition file",
		Long: `Parse and validate a definition in YAML, TOML or JSON. Every problem
is listed, not just the first.

Examples:
  cogctl validate examples/cognitions/sentinel-audit.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	def, err := cognition.LoadFile(args[0])
	if err != nil {
		var verr *cognition.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "%s: invalid\n", args[0])
			for _, p := range verr.Problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
		}
		return err
	}
	fmt.Fprintf(out, "%s: valid (id=%s, %d participants, %d phases)\n",
		args[0], def.ID, len(def.Participants), len(def.Phases))
	return nil
}
