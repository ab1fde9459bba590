// Package scheduler implements the scheduler reconciler (C7): it diffs the
// canonical desired state (the store, or a merged legacy YAML forest)
// against the Slurm accounting database's actual state and drives sacctmgr
// to close the gap, grounded on original_source/cheeto/slurm.py and
// database/slurm.py.
package scheduler

import "github.com/ucdavis-hpc/cheeto/internal/types"

// Account is a scheduler account's job-limit set, one per group with at
// least one association (§4.7).
type Account struct {
	MaxUserJobs   *int64
	MaxGroupJobs  *int64
	MaxSubmitJobs *int64
	MaxJobLength  *int64
}

func (a Account) equal(b Account) bool {
	return equalPtr(a.MaxUserJobs, b.MaxUserJobs) &&
		equalPtr(a.MaxGroupJobs, b.MaxGroupJobs) &&
		equalPtr(a.MaxSubmitJobs, b.MaxSubmitJobs) &&
		equalPtr(a.MaxJobLength, b.MaxJobLength)
}

func equalPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// QOS mirrors SiteSlurmQOS/SlurmQOS's group/user/job TRES triple plus
// priority and flags.
type QOS struct {
	Group    types.TRES
	User     types.TRES
	Job      types.TRES
	Priority int64
	Flags    []string
}

func (q QOS) equal(o QOS) bool {
	return tresEqual(q.Group, o.Group) && tresEqual(q.User, o.User) && tresEqual(q.Job, o.Job) &&
		q.Priority == o.Priority && stringsEqual(q.Flags, o.Flags)
}

func tresEqual(a, b types.TRES) bool {
	if !equalPtr(a.CPUs, b.CPUs) || !equalPtr(a.GPUs, b.GPUs) {
		return false
	}
	if a.Mem == nil || b.Mem == nil {
		return a.Mem == b.Mem
	}
	return a.Mem.Megs() == b.Mem.Megs()
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := map[string]bool{}
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			return false
		}
	}
	return true
}

// AssocKey identifies a single per-user association row.
type AssocKey struct {
	User      string
	Account   string
	Partition string
}

// State is one side (desired or actual) of the reconciliation: the
// account/QOS/user-association maps described in §4.7.
type State struct {
	Accounts map[string]Account
	QOS      map[string]QOS
	Users    map[AssocKey]string // -> qosname
}

func newState() State {
	return State{
		Accounts: map[string]Account{},
		QOS:      map[string]QOS{},
		Users:    map[AssocKey]string{},
	}
}

// QOSName returns the canonical per-partition QOS name used for inline
// (unreferenced) QOS definitions, per get_qos_name.
func QOSName(groupname, partitionname string) string {
	return groupname + "-" + partitionname + "-qos"
}
