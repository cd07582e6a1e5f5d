package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/seshat/config"
	"github.com/mohammad-safakhou/seshat/internal/errors"
)

func relayCMD(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the Redis schedule dispatcher and delivery loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := flags.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeService(svc)
			if svc.Relay == nil {
				return errors.Misconfigured("relay needs queue.provider=%s", config.QueueRedis)
			}
			svc.Logger.Info("relay started")
			return svc.Relay.Run(cmd.Context())
		},
	}
}
