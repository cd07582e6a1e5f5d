package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/seshat/internal/runtime"
)

func hashTokenCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash for server.admin_token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := runtime.HashAdminToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
