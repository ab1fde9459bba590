package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ucdavis-hpc/cheeto/internal/config"
)

func TestExecuteRecordModeWritesCommandsWithoutRunning(t *testing.T) {
	mgr := NewSAcctMgr(noopConfig(), false)
	plan := []CommandGroup{
		{Name: "Add New Accounts", Op: OpAddAccount, Commands: []Command{mgr.AddAccount("grp", Account{})}},
	}

	path := filepath.Join(t.TempDir(), "plan.txt")
	report, err := Execute(context.Background(), plan, ExecuteOptions{Apply: false, RecordPath: path}, zap.NewNop())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	gr := report[OpAddAccount]
	if gr.Commands != 1 || gr.Successes != 0 || gr.Failures != 0 {
		t.Errorf("report[OpAddAccount] = %+v, want {1 0 0} (record mode never runs commands)", gr)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading record file: %v", err)
	}
	if !strings.Contains(string(contents), "add account grp") {
		t.Errorf("record file %q missing rendered command, got %q", path, contents)
	}
}

func TestExecuteApplyTalliesFailures(t *testing.T) {
	mgr := NewSAcctMgr(config.SlurmConfig{SacctmgrPath: filepath.Join(t.TempDir(), "no-such-binary")}, false)
	plan := []CommandGroup{
		{Name: "Delete Accounts", Op: OpDeleteAccount, Commands: []Command{mgr.RemoveAccount("nope")}},
	}

	report, err := Execute(context.Background(), plan, ExecuteOptions{Apply: true}, zap.NewNop())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	gr := report[OpDeleteAccount]
	if gr.Failures != 1 || gr.Successes != 0 {
		t.Errorf("report[OpDeleteAccount] = %+v, want one failure (binary does not exist)", gr)
	}
}
