package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func syncCMD(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile queue schedules with active content topics once",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := flags.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeService(svc)

			res, err := svc.Syncer.Sync(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
