package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ucdavis-hpc/cheeto/internal/config"
	"github.com/ucdavis-hpc/cheeto/internal/legacy"
	"github.com/ucdavis-hpc/cheeto/internal/store"
)

// Reconciler drives §4.7's sync entrypoint: build desired state, fetch or
// parse actual state, diff, plan, and execute — grounded on slurm.py's
// sync()/cmds/slurm.py's sync() command handlers.
type Reconciler struct {
	svc *store.Service
	cfg config.SlurmConfig
	log *zap.Logger
}

func NewReconciler(svc *store.Service, cfg config.SlurmConfig, log *zap.Logger) *Reconciler {
	return &Reconciler{svc: svc, cfg: cfg, log: log.Named("scheduler")}
}

// SyncOptions parameterizes one reconciliation run.
type SyncOptions struct {
	Sudo bool
	// ApplyChanges executes the generated plan; otherwise it is only
	// dumped or recorded per ExecuteOptions.
	ApplyChanges bool
	RecordPath   string

	// AssociationsFile/QOSFile, when set, substitute for a live `sacctmgr
	// show -P ...` invocation (the original's --slurm-associations/
	// --slurm-qoses file overrides, used in tests and dry runs).
	AssociationsFile io.Reader
	QOSFile          io.Reader

	// YAMLSource, when set, builds desired state from a merged legacy
	// YAML forest instead of the canonical store.
	YAMLSource *legacy.AccountMap
}

// Sync runs the full §4.7 pipeline for one site and returns the execution
// report.
func (r *Reconciler) Sync(ctx context.Context, sitename string, opts SyncOptions) (Report, error) {
	var desired State
	var err error
	if opts.YAMLSource != nil {
		desired, err = BuildDesiredFromYAML(*opts.YAMLSource)
	} else {
		desired, err = BuildDesiredFromStore(ctx, r.svc, sitename)
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: sync %s: %w", sitename, err)
	}

	mgr := NewSAcctMgr(r.cfg, opts.Sudo)

	actualQOS, err := r.loadActualQOS(ctx, mgr, opts.QOSFile)
	if err != nil {
		return nil, fmt.Errorf("scheduler: sync %s: %w", sitename, err)
	}
	actualAccounts, actualUsers, err := r.loadActualAssociations(ctx, mgr, opts.AssociationsFile)
	if err != nil {
		return nil, fmt.Errorf("scheduler: sync %s: %w", sitename, err)
	}
	actual := State{QOS: actualQOS, Accounts: actualAccounts, Users: actualUsers}

	reconciliation := Reconcile(actual, desired)
	plan := GeneratePlan(reconciliation, mgr)

	report, err := Execute(ctx, plan, ExecuteOptions{Apply: opts.ApplyChanges, RecordPath: opts.RecordPath}, r.log)
	if err != nil {
		return nil, fmt.Errorf("scheduler: sync %s: %w", sitename, err)
	}
	return report, nil
}

func (r *Reconciler) loadActualQOS(ctx context.Context, mgr *SAcctMgr, file io.Reader) (map[string]QOS, error) {
	if file != nil {
		return ParseActualQOS(file)
	}
	out, err := mgr.Capture(ctx, mgr.ShowQOS())
	if err != nil {
		return nil, err
	}
	return ParseActualQOS(bytes.NewReader(out))
}

func (r *Reconciler) loadActualAssociations(ctx context.Context, mgr *SAcctMgr, file io.Reader) (map[string]Account, map[AssocKey]string, error) {
	if file != nil {
		return ParseActualAssociations(file)
	}
	out, err := mgr.Capture(ctx, mgr.ShowAssociations())
	if err != nil {
		return nil, nil, err
	}
	return ParseActualAssociations(bytes.NewReader(out))
}
