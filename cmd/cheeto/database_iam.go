package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ucdavis-hpc/cheeto/internal/errs"
	"github.com/ucdavis-hpc/cheeto/internal/iam"
)

func newDatabaseIAMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iam",
		Short: "Synchronize users against the institutional IAM directory",
	}
	cmd.AddCommand(newIAMSyncCmd(), newIAMNewUserCmd(), newIAMNewUsersCmd())
	return cmd
}

func newIAMSyncCmd() *cobra.Command {
	var max int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync all GlobalUsers pending an IAM reconciliation pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			syncer := iam.NewSyncer(a.svc, iam.NewClient(a.cfg.IAM), a.log)
			result, err := syncer.SyncPending(cmd.Context(), max)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced=%d skipped=%d failed=%d\n", result.Synced, result.Skipped, result.Failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&max, "max", 500, "maximum number of users to sync in this batch")
	return cmd
}

func newIAMNewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new-user USERNAME",
		Short: "Resolve a username to its IAM id (prints the id; does not create the user)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			client := iam.NewClient(a.cfg.IAM)
			person, err := client.QueryUserIAMID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if person == nil {
				return errs.NotFoundf("IAMEntry", "username=%s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s to iam id %s; create via 'database user new system' then 'database iam sync'\n", args[0], person.IAMID)
			return nil
		},
	}
	return cmd
}

func newIAMNewUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-users",
		Short: "not implemented: bulk IAM-seeded account intake (external batch feed, see DESIGN.md)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("database iam new-users: not yet implemented")
		},
	}
}
