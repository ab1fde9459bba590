package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ucdavis-hpc/cheeto/internal/scheduler"
)

func newSlurmCmd() *cobra.Command {
	var sitename, recordPath string
	var apply, sudo bool
	cmd := &cobra.Command{
		Use:   "slurm",
		Short: "Reconcile a site's canonical scheduler state against sacctmgr",
	}
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Diff desired vs actual scheduler state and optionally apply the plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			rec := scheduler.NewReconciler(a.svc, a.cfg.Slurm, a.log)
			report, err := rec.Sync(cmd.Context(), sitename, scheduler.SyncOptions{
				Sudo:         sudo,
				ApplyChanges: apply,
				RecordPath:   recordPath,
			})
			if err != nil {
				return err
			}
			for op, g := range report {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tcommands=%d successes=%d failures=%d\n", op, g.Commands, g.Successes, g.Failures)
			}
			return nil
		},
	}
	sync.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	sync.Flags().BoolVar(&apply, "apply", false, "execute the generated plan against the scheduler")
	sync.Flags().BoolVar(&sudo, "sudo", false, "prefix sacctmgr invocations with sudo")
	sync.Flags().StringVar(&recordPath, "record", "", "record generated commands to this file instead of running them")
	cmd.AddCommand(sync)
	return cmd
}
