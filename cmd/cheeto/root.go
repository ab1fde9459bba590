// Command cheeto is the identity/group/storage/scheduler-association
// control plane CLI (spec.md §6), grounded on the teacher's
// cmd/server/main.go cobra root-command wiring.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ucdavis-hpc/cheeto/internal/config"
	"github.com/ucdavis-hpc/cheeto/internal/logging"
	"github.com/ucdavis-hpc/cheeto/internal/notification"
	"github.com/ucdavis-hpc/cheeto/internal/store"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cheeto:", err)
		os.Exit(exitCodeFor(err))
	}
}

// cliFlags holds the common flags every subcommand accepts (spec.md §6:
// "--log PATH, --quiet, --config PATH, --profile NAME").
type cliFlags struct {
	logPath    string
	quiet      bool
	configPath string
	profile    string
}

// app is the bootstrapped runtime handed to every leaf command: the
// resolved config, logger, database handle, and the CRUD/query service
// built on top of it.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *gorm.DB
	svc    *store.Service
	notify *notification.Service
}

func (a *app) Close() {
	_ = a.log.Sync()
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

type appKey struct{}

func appFromContext(ctx context.Context) *app {
	a, _ := ctx.Value(appKey{}).(*app)
	return a
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:   "cheeto",
		Short: "cheeto — identity, group, storage, and scheduler-association control plane",
		Long: `cheeto maintains the canonical directory of users, groups, sites, storage
mounts, and batch-scheduler associations for a multi-cluster HPC
environment, and reconciles that directory outward to LDAP, the Slurm
accounting database, and a legacy YAML configuration-management tree.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Subcommands that don't touch the store (stub externals, config
			// write) carry the no-bootstrap annotation and skip bootstrap
			// entirely; everything else needs it.
			if cmd.Annotations["no-bootstrap"] == "true" {
				return nil
			}
			a, err := bootstrap(flags)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a := appFromContext(cmd.Context()); a != nil {
				a.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&flags.logPath, "log", "", "write logs to PATH instead of stderr")
	root.PersistentFlags().BoolVar(&flags.quiet, "quiet", false, "suppress informational log output")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file path (default: $XDG_CONFIG_HOME/cheeto/config.yaml)")
	root.PersistentFlags().StringVar(&flags.profile, "profile", "default", "config profile name")

	root.AddCommand(
		newConfigCmd(),
		newDatabaseCmd(),
		newHippoCmd(),
		newSlurmCmd(),
		newDaemonCmd(),
		newNocloudCmd(),
		newMonitorCmd(),
		newPuppetCmd(),
	)
	return root
}

// bootstrap loads config, builds the logger, opens the store, and runs
// pending migrations — the explicit init step spec.md §9's design notes
// call for ("no hidden globals"; store connection, LDAP pool, and logger
// are process-wide and established once, then passed by reference).
func bootstrap(flags *cliFlags) (*app, error) {
	level := "info"
	if flags.quiet {
		level = "warn"
	}
	log, err := logging.New(level)
	if err != nil {
		return nil, err
	}
	if flags.logPath != "" {
		f, err := os.OpenFile(flags.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", flags.logPath, err)
		}
		log, err = logging.NewToFile(level, f)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(flags.configPath, flags.profile)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(store.Config{
		Driver:             cfg.Store.Driver,
		DSN:                cfg.Store.DSN,
		Logger:             log,
		LogLevel:           logging.GORMLevel(level),
		SlowQueryThreshold: time.Duration(cfg.Store.SlowQueryMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	st := store.New(db, log)
	svc := store.NewService(st)

	var smtp *notification.SMTPConfig
	if cfg.SMTP != nil {
		smtp = &notification.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			TLS:      cfg.SMTP.TLS,
		}
	}
	notify := notification.NewService(smtp, log)

	return &app{cfg: cfg, log: log, db: db, svc: svc, notify: notify}, nil
}
