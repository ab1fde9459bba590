package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ucdavis-hpc/cheeto/internal/hippo"
)

func newHippoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hippo",
		Short: "Inspect and process inbound HiPPO account-lifecycle events",
	}
	cmd.AddCommand(newHippoEventsCmd(), newHippoProcessCmd())
	return cmd
}

func newHippoEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "List pending events from the upstream event queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			client := hippo.NewClient(a.cfg.Hippo.BaseURL, a.cfg.Hippo.APIKey)
			events, err := client.FetchPending(cmd.Context())
			if err != nil {
				return err
			}
			for _, env := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", env.ID, env.Action)
			}
			return nil
		},
	}
}

func newHippoProcessCmd() *cobra.Command {
	var postBack bool
	var filterID, filterType string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Fetch and apply pending HiPPO events against the canonical store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			proc := hippo.NewProcessor(a.svc, a.notify, a.cfg.Hippo, a.log)
			return proc.Run(cmd.Context(), hippo.ProcessOptions{
				PostBack:   postBack,
				FilterID:   filterID,
				FilterType: filterType,
			})
		},
	}
	cmd.Flags().BoolVar(&postBack, "post-back", true, "report processed status back to the upstream queue")
	cmd.Flags().StringVar(&filterID, "id", "", "process only the event with this id")
	cmd.Flags().StringVar(&filterType, "type", "", "process only events of this action type")
	return cmd
}
