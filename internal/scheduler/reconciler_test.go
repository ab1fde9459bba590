package scheduler

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ucdavis-hpc/cheeto/internal/config"
)

func TestSyncDumpsPlanWithoutApplyingAgainstFileBackedActualState(t *testing.T) {
	svc := newTestSchedulerService(t)
	sitename, _, _, _, qosname := seedSchedulerFixture(t, svc)

	r := NewReconciler(svc, config.SlurmConfig{}, zap.NewNop())
	report, err := r.Sync(context.Background(), sitename, SyncOptions{
		ApplyChanges:     false,
		AssociationsFile: strings.NewReader(""),
		QOSFile:          strings.NewReader(""),
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	var sawAddQOS bool
	for op, gr := range report {
		if op == OpAddQOS && gr.Commands > 0 {
			sawAddQOS = true
		}
	}
	if !sawAddQOS {
		t.Errorf("report = %+v, want an ADD_QOS group with commands for the missing %q QOS", report, qosname)
	}
}

func TestSyncSiteWithNoAssociationsDoesNotError(t *testing.T) {
	svc := newTestSchedulerService(t)
	r := NewReconciler(svc, config.SlurmConfig{}, zap.NewNop())
	_, err := r.Sync(context.Background(), "nonexistent", SyncOptions{
		AssociationsFile: strings.NewReader(""),
		QOSFile:          strings.NewReader(""),
	})
	if err != nil {
		t.Fatalf("Sync against a site with no associations should not error, got: %v", err)
	}
}
