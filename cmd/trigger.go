package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/seshat/models"
)

func triggerCMD(flags *globalFlags) *cobra.Command {
	var payload models.GenerationPayload
	var trigger = &cobra.Command{
		Use:   "trigger",
		Short: "Start one generation for a stored topic or free text",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := flags.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeService(svc)

			res, err := svc.Trigger.Trigger(cmd.Context(), payload.Encode())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Queued {
				fmt.Fprintf(out, "queued message %s\n", res.MessageID)
				return nil
			}
			fmt.Fprintf(out, "worker answered %d: %s\n", res.StatusCode, res.Body)
			if res.StatusCode >= 300 {
				return fmt.Errorf("generation failed with status %d", res.StatusCode)
			}
			return nil
		},
	}
	trigger.Flags().StringVar(&payload.TopicID, "topic-id", "", "id of a stored content topic")
	trigger.Flags().StringVar(&payload.Topic, "topic", "", "free text subject for an ad hoc post")

	return trigger
}
