package scheduler

import (
	"github.com/ucdavis-hpc/cheeto/internal/errs"
	"github.com/ucdavis-hpc/cheeto/internal/legacy"
	"github.com/ucdavis-hpc/cheeto/internal/types"
)

// BuildDesiredFromYAML implements §4.7's "merged YAML forest" desired-state
// source, grounded on slurm.py's build_puppet_association_state/
// build_puppet_qos_state: every group with a slurm block contributes an
// account, every partition entry resolves to an inline or referenced QOS,
// and every user inherits associations from both their group memberships
// and their explicit slurm.account list.
func BuildDesiredFromYAML(data legacy.AccountMap) (State, error) {
	desired := newState()

	qosRefs := map[string]bool{}
	for groupname, g := range data.Group {
		if g.Slurm == nil {
			continue
		}
		desired.Accounts[groupname] = Account{}
		for partname, entry := range g.Slurm.Partitions {
			if entry.QOS != nil {
				qosname := QOSName(groupname, partname)
				desired.QOS[qosname] = yamlQOS(*entry.QOS)
			} else if entry.QOSName != "" {
				qosRefs[entry.QOSName] = true
			}
		}
	}
	for name := range qosRefs {
		if _, ok := desired.QOS[name]; !ok {
			return desired, errs.Validationf("slurm.partitions.qos", "referenced qos %q does not resolve to any inline definition", name)
		}
	}

	for username, u := range data.User {
		var accounts []string
		if u.Groups != nil {
			accounts = append(accounts, u.Groups...)
		}
		if u.Slurm != nil {
			accounts = append(accounts, u.Slurm.Account...)
		}
		seen := map[string]bool{}
		for _, account := range accounts {
			if seen[account] {
				continue
			}
			seen[account] = true
			group, ok := data.Group[account]
			if !ok || group.Slurm == nil {
				continue
			}
			for partname, entry := range group.Slurm.Partitions {
				var qosname string
				if entry.QOS != nil {
					qosname = QOSName(account, partname)
				} else {
					qosname = entry.QOSName
				}
				desired.Users[AssocKey{User: username, Account: account, Partition: partname}] = qosname
			}
		}
	}

	return desired, nil
}

func yamlQOS(q legacy.QOS) QOS {
	return QOS{
		Group:    yamlTRES(q.GroupLimits),
		User:     yamlTRES(q.UserLimits),
		Job:      yamlTRES(q.JobLimits),
		Priority: q.Priority,
		Flags:    q.Flags,
	}
}

func yamlTRES(t *legacy.TRESLimits) types.TRES {
	if t == nil {
		return types.TRES{}
	}
	out := types.TRES{CPUs: t.CPUs, GPUs: t.GPUs}
	if t.Mem != nil {
		q, err := types.ParseDataQuota("mem", *t.Mem)
		if err == nil {
			out.Mem = &q
		}
	}
	return out
}
