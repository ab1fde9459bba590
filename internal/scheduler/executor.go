package scheduler

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// GroupReport tallies one command group's outcome, matching the original's
// {'successes', 'failures', 'commands'} report shape.
type GroupReport struct {
	Commands  int `json:"commands"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// Report is the full JSON report emitted after a sync run: {op: {...}}.
type Report map[Op]GroupReport

// ExecuteOptions controls how a plan is realized: applied against the live
// scheduler, dumped as text, or recorded to a file — never more than one of
// RecordPath/Apply actually running commands.
type ExecuteOptions struct {
	// Apply executes each command against the scheduler. When false, the
	// plan is either printed (dump-only) or written to RecordPath, which
	// is truncated first.
	Apply bool
	// RecordPath, when set and Apply is false, receives one rendered
	// command line per mutation instead of stdout.
	RecordPath string
}

// Execute runs (or dumps) a generated plan group by group, producing a
// per-op tally. Failures within a group do not abort the remaining
// commands in that group or later groups — the planner's ordering already
// minimizes referential failures, and partial application is recorded in
// the report rather than rolled back (sacctmgr has no cross-command
// transaction of its own).
func Execute(ctx context.Context, plan []CommandGroup, opts ExecuteOptions, log *zap.Logger) (Report, error) {
	report := Report{}

	var recordFile *os.File
	if !opts.Apply && opts.RecordPath != "" {
		f, err := os.Create(opts.RecordPath)
		if err != nil {
			return nil, fmt.Errorf("scheduler: open record file: %w", err)
		}
		defer f.Close()
		recordFile = f
	}

	for _, group := range plan {
		gr := GroupReport{Commands: len(group.Commands)}
		report[group.Op] = gr
		if len(group.Commands) == 0 {
			continue
		}

		if !opts.Apply {
			for _, cmd := range group.Commands {
				if recordFile != nil {
					fmt.Fprintln(recordFile, cmd.String())
				} else {
					fmt.Println(cmd.String())
				}
			}
			continue
		}

		for _, cmd := range group.Commands {
			if err := cmd.Run(ctx); err != nil {
				log.Error("sacctmgr command failed", zap.String("group", group.Name), zap.String("command", cmd.String()), zap.Error(err))
				gr.Failures++
			} else {
				gr.Successes++
			}
		}
		report[group.Op] = gr
	}

	return report, nil
}
