package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ucdavis-hpc/cheeto/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the long-running periodic reconciliation mode",
	}
	cmd.AddCommand(newDaemonRunCmd())
	return cmd
}

func newDaemonRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler loop for hippo/directory/slurm/iam reconciliation and block until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			d, err := daemon.New(a.svc, a.cfg, a.log)
			if err != nil {
				return err
			}
			if err := d.Start(cmd.Context()); err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			<-sigs

			return d.Stop()
		},
	}
}
