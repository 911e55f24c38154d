package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/while-basic/celaya-parachain-sub000/internal/sealer"
)

func newKeygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen <path>",
		Short: "Generate a report signing key",
		Long: `Write a new hex-encoded ed25519 seed to path with 0600 permissions and
print its public key. Point sealing.key_path at the file.

Examples:
  cogctl keygen ~/.config/cognitiond/seal.key`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil {
				if !force {
					return fmt.Errorf("%s already exists (use --force to replace it)", path)
				}
				if err := os.Remove(path); err != nil {
					return fmt.Errorf("removing old key: %w", err)
				}
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}

			s, err := sealer.LoadOrGenerateSigner(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\npublic key: %s\n", path, hex.EncodeToString(s.PublicKey()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key")
	return cmd
}
