package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ucdavis-hpc/cheeto/internal/notification"
	"github.com/ucdavis-hpc/cheeto/internal/store"
)

// newTestApp builds an *app backed by a migrated in-memory sqlite store,
// bypassing bootstrap's config/logging-file setup (tested separately in
// internal/config and internal/logging).
func newTestApp(t *testing.T) *app {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.Open(store.Config{Driver: "sqlite", DSN: dsn, Logger: zap.NewNop(), LogLevel: gormlogger.Silent})
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	st := store.New(db, zap.NewNop())
	return &app{
		log:    zap.NewNop(),
		db:     db,
		svc:    store.NewService(st),
		notify: notification.NewService(nil, zap.NewNop()),
	}
}

// runCmd executes cmd's RunE with args against a's context, capturing stdout.
func runCmd(t *testing.T, a *app, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	ctx := context.WithValue(context.Background(), appKey{}, a)
	cmd.SetContext(ctx)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewRootCmdRegistersAllSubcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"config", "database", "hippo", "slurm", "daemon", "nocloud", "monitor", "puppet"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected root command to register a %q subcommand", name)
		}
	}
}

func TestUserShowDisplaysUserAndSiteMemberships(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if _, err := a.svc.CreateSite(ctx, "hpc1", "hpc1.example.edu"); err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	u, err := a.svc.CreateUser(ctx, "alice", "alice@example.edu", 4100000001, "Alice Example", store.NewUserOptions{
		Sitenames: []string{"hpc1"},
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	out, err := runCmd(t, a, newUserShowCmd(), "alice")
	if err != nil {
		t.Fatalf("user show: %v", err)
	}
	if !strings.Contains(out, "alice") || !strings.Contains(out, fmt.Sprintf("uid=%d", u.UID)) {
		t.Errorf("output = %q, want it to mention the user", out)
	}
	if !strings.Contains(out, "site=hpc1") {
		t.Errorf("output = %q, want it to list the hpc1 site membership", out)
	}
}

func TestUserShowUnknownUserReturnsError(t *testing.T) {
	a := newTestApp(t)
	if _, err := runCmd(t, a, newUserShowCmd(), "nobody"); err == nil {
		t.Fatalf("expected an error for an unknown username")
	}
}

func TestUserNewSystemCreatesSystemUser(t *testing.T) {
	a := newTestApp(t)
	out, err := runCmd(t, a, newUserNewSystemCmd(), "svc-backup", "--email", "svc@example.edu")
	if err != nil {
		t.Fatalf("user new system: %v", err)
	}
	if !strings.Contains(out, "svc-backup") {
		t.Errorf("output = %q, want it to mention the created user", out)
	}

	u, err := a.svc.Store().GetGlobalUserByUsername(context.Background(), "svc-backup")
	if err != nil {
		t.Fatalf("expected svc-backup to have been created: %v", err)
	}
	if u.Type != "system" {
		t.Errorf("Type = %q, want system", u.Type)
	}
}

func TestUserSetStatusMutatesGlobalUser(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if _, err := a.svc.CreateUser(ctx, "bob", "bob@example.edu", 4100000002, "Bob", store.NewUserOptions{}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if _, err := runCmd(t, a, newUserSetStatusCmd(), "bob", "inactive", "--reason", "left the lab"); err != nil {
		t.Fatalf("user set status: %v", err)
	}

	u, err := a.svc.Store().GetGlobalUserByUsername(ctx, "bob")
	if err != nil {
		t.Fatalf("GetGlobalUserByUsername: %v", err)
	}
	if u.Status != "inactive" {
		t.Errorf("Status = %q, want inactive", u.Status)
	}
}

func TestUserRemoveSiteReturnsNotImplementedError(t *testing.T) {
	a := newTestApp(t)
	if _, err := runCmd(t, a, newUserRemoveSiteCmd(), "alice", "hpc1"); err == nil {
		t.Fatalf("expected the not-yet-implemented error")
	}
}

func TestStubExternalCmdSkipsBootstrapAndPrintsReason(t *testing.T) {
	cmd := stubExternalCmd("render", "owned by a separate tool")
	if cmd.Annotations["no-bootstrap"] != "true" {
		t.Errorf("expected the no-bootstrap annotation to be set")
	}

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	if err := cmd.Execute(); err != nil {
		t.Fatalf("stub command: %v", err)
	}
	if !strings.Contains(out.String(), "owned by a separate tool") {
		t.Errorf("output = %q, want it to include the reason", out.String())
	}
}
