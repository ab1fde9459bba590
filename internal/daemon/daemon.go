// Package daemon implements cheeto's optional long-running mode
// (`cheeto daemon run`), an additive supplement to spec.md §6's one-shot
// CLI commands (SPEC_FULL.md §5/§6). It wraps the event processor,
// directory reconciler, scheduler reconciler, and identity sync in
// gocron jobs, each run in singleton mode so a slow tick is skipped rather
// than overlapped — the same shape the teacher's internal/scheduler uses
// for per-policy backup jobs, generalized from "one job per policy" to
// "one job per reconciliation kind".
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/ucdavis-hpc/cheeto/internal/config"
	"github.com/ucdavis-hpc/cheeto/internal/directory"
	"github.com/ucdavis-hpc/cheeto/internal/hippo"
	"github.com/ucdavis-hpc/cheeto/internal/iam"
	"github.com/ucdavis-hpc/cheeto/internal/notification"
	"github.com/ucdavis-hpc/cheeto/internal/scheduler"
	"github.com/ucdavis-hpc/cheeto/internal/store"
)

// tickTimeout bounds a single job run, matching §5's "every external call
// carries a timeout" at the reconciliation-pass granularity.
const tickTimeout = 10 * time.Minute

// Daemon owns the gocron scheduler and the four reconciliation jobs.
type Daemon struct {
	cron gocron.Scheduler
	svc  *store.Service
	cfg  config.DaemonConfig
	log  *zap.Logger

	hippoProc  *hippo.Processor
	directory  *directory.Reconciler
	schedulerR *scheduler.Reconciler
	iamSyncer  *iam.Syncer
}

// New builds a Daemon. cfg.Daemon's schedules select which jobs are
// registered; a blank schedule string skips that job entirely.
func New(svc *store.Service, cfg *config.Config, log *zap.Logger) (*Daemon, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("daemon: create gocron scheduler: %w", err)
	}

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

	return &Daemon{
		cron:       cron,
		svc:        svc,
		cfg:        cfg.Daemon,
		log:        log.Named("daemon"),
		hippoProc:  hippo.NewProcessor(svc, notify, cfg.Hippo, log),
		directory:  directory.NewReconciler(svc, cfg.LDAP, log),
		schedulerR: scheduler.NewReconciler(svc, cfg.Slurm, log),
		iamSyncer:  iam.NewSyncer(svc, iam.NewClient(cfg.IAM), log),
	}, nil
}

// Start registers every configured job and starts the scheduler. It
// returns immediately; jobs run on their own goroutines per tick.
func (d *Daemon) Start(ctx context.Context) error {
	registered := 0
	if d.cfg.HippoSchedule != "" {
		if err := d.addJob("hippo", d.cfg.HippoSchedule, d.runHippo); err != nil {
			return err
		}
		registered++
	}
	if d.cfg.DirectorySchedule != "" {
		if err := d.addJob("directory", d.cfg.DirectorySchedule, d.runDirectory); err != nil {
			return err
		}
		registered++
	}
	if d.cfg.SlurmSchedule != "" {
		if err := d.addJob("slurm", d.cfg.SlurmSchedule, d.runSlurm); err != nil {
			return err
		}
		registered++
	}
	if d.cfg.IAMSchedule != "" {
		if err := d.addJob("iam", d.cfg.IAMSchedule, d.runIAM); err != nil {
			return err
		}
		registered++
	}

	d.log.Info("daemon started", zap.Int("jobs_registered", registered))
	d.cron.Start()
	return nil
}

// Stop waits for any in-flight job to finish, then shuts the scheduler down.
func (d *Daemon) Stop() error {
	if err := d.cron.Shutdown(); err != nil {
		return fmt.Errorf("daemon: shutdown: %w", err)
	}
	d.log.Info("daemon stopped")
	return nil
}

func (d *Daemon) addJob(name, cronExpr string, fn func(ctx context.Context)) error {
	_, err := d.cron.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
			defer cancel()
			fn(ctx)
		}),
		gocron.WithTags(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("daemon: schedule %s job (cron %q): %w", name, cronExpr, err)
	}
	return nil
}

// sites resolves the per-site fan-out list: the configured override, or
// every site currently in the store.
func (d *Daemon) sites(ctx context.Context) ([]string, error) {
	if len(d.cfg.Sites) > 0 {
		return d.cfg.Sites, nil
	}
	all, err := d.svc.Store().ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("daemon: list sites: %w", err)
	}
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.Sitename
	}
	return names, nil
}

func (d *Daemon) runHippo(ctx context.Context) {
	if err := d.hippoProc.Run(ctx, hippo.ProcessOptions{PostBack: true}); err != nil {
		d.log.Error("hippo tick failed", zap.Error(err))
	}
}

func (d *Daemon) runDirectory(ctx context.Context) {
	sites, err := d.sites(ctx)
	if err != nil {
		d.log.Error("directory tick: resolve sites", zap.Error(err))
		return
	}
	for _, sitename := range sites {
		if err := d.directory.SyncSite(ctx, sitename, false); err != nil {
			d.log.Error("directory tick failed", zap.String("site", sitename), zap.Error(err))
		}
	}
}

func (d *Daemon) runSlurm(ctx context.Context) {
	sites, err := d.sites(ctx)
	if err != nil {
		d.log.Error("slurm tick: resolve sites", zap.Error(err))
		return
	}
	for _, sitename := range sites {
		report, err := d.schedulerR.Sync(ctx, sitename, scheduler.SyncOptions{ApplyChanges: true})
		if err != nil {
			d.log.Error("slurm tick failed", zap.String("site", sitename), zap.Error(err))
			continue
		}
		for op, gr := range report {
			if gr.Failures > 0 {
				d.log.Warn("slurm tick had command failures",
					zap.String("site", sitename), zap.String("op", string(op)),
					zap.Int("failures", gr.Failures))
			}
		}
	}
}

func (d *Daemon) runIAM(ctx context.Context) {
	max := d.cfg.IAMBatchSize
	if max <= 0 {
		max = 100
	}
	result, err := d.iamSyncer.SyncPending(ctx, max)
	if err != nil {
		d.log.Error("iam tick failed", zap.Error(err))
		return
	}
	d.log.Info("iam tick complete",
		zap.Int("synced", result.Synced), zap.Int("skipped", result.Skipped), zap.Int("failed", result.Failed))
}
