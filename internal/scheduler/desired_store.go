package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ucdavis-hpc/cheeto/internal/store"
	"github.com/ucdavis-hpc/cheeto/internal/types"
)

// BuildDesiredFromStore implements §4.7's desired-state build over the
// canonical store: accounts from every SiteGroup with at least one
// association, QOS from SchedulerQOS rows, and one user entry per
// member-or-slurmer of each group crossed with every partition the group's
// associations attach it to.
func BuildDesiredFromStore(ctx context.Context, svc *store.Service, sitename string) (State, error) {
	desired := newState()

	assocs, err := svc.Store().ListAssociations(ctx, sitename)
	if err != nil {
		return desired, fmt.Errorf("scheduler: build desired state: %w", err)
	}
	if len(assocs) == 0 {
		return desired, nil
	}

	groups, err := svc.Store().ListSiteGroupsBySite(ctx, sitename)
	if err != nil {
		return desired, fmt.Errorf("scheduler: build desired state: %w", err)
	}
	groupsByID := make(map[string]*store.SiteGroup, len(groups))
	for i := range groups {
		groupsByID[groups[i].ID.String()] = &groups[i]
	}

	qoses, err := svc.Store().ListQOS(ctx, sitename)
	if err != nil {
		return desired, fmt.Errorf("scheduler: build desired state: %w", err)
	}
	qosByID := make(map[string]store.SchedulerQOS, len(qoses))
	for _, q := range qoses {
		qosByID[q.ID.String()] = q
		desired.QOS[q.Name] = QOS{
			Group:    types.TRES{CPUs: q.GroupCPUs, GPUs: q.GroupGPUs, Mem: memPtr(q.GroupMem)},
			User:     types.TRES{CPUs: q.UserCPUs, GPUs: q.UserGPUs, Mem: memPtr(q.UserMem)},
			Job:      types.TRES{CPUs: q.JobCPUs, GPUs: q.JobGPUs, Mem: memPtr(q.JobMem)},
			Priority: q.Priority,
			Flags:    []string(q.Flags),
		}
	}

	partitionNames := map[string]string{} // id -> name
	for _, a := range assocs {
		if _, ok := partitionNames[a.PartitionID.String()]; ok {
			continue
		}
		var p store.SchedulerPartition
		if err := svc.Store().DB().WithContext(ctx).First(&p, "id = ?", a.PartitionID).Error; err != nil {
			return desired, fmt.Errorf("scheduler: resolve partition %s: %w", a.PartitionID, err)
		}
		partitionNames[a.PartitionID.String()] = p.Name
	}

	for _, a := range assocs {
		group, ok := groupsByID[a.GroupID.String()]
		if !ok {
			continue
		}
		if _, ok := desired.Accounts[group.Groupname]; !ok {
			desired.Accounts[group.Groupname] = Account{
				MaxUserJobs:   group.MaxUserJobs,
				MaxGroupJobs:  group.MaxGroupJobs,
				MaxSubmitJobs: group.MaxSubmitJobs,
				MaxJobLength:  group.MaxJobLength,
			}
		}

		qos, ok := qosByID[a.QOSID.String()]
		if !ok {
			continue
		}
		partition := partitionNames[a.PartitionID.String()]

		for _, m := range group.Members {
			username, err := siteUsername(ctx, svc, m.SiteUserID)
			if err != nil {
				continue
			}
			desired.Users[AssocKey{User: username, Account: group.Groupname, Partition: partition}] = qos.Name
		}
		for _, s := range group.Slurmers {
			username, err := siteUsername(ctx, svc, s.SiteUserID)
			if err != nil {
				continue
			}
			desired.Users[AssocKey{User: username, Account: group.Groupname, Partition: partition}] = qos.Name
		}
	}

	return desired, nil
}

func memPtr(s string) *types.DataQuota {
	if s == "" {
		return nil
	}
	q := types.DataQuota(s)
	return &q
}

func siteUsername(ctx context.Context, svc *store.Service, siteUserID uuid.UUID) (string, error) {
	var su store.SiteUser
	if err := svc.Store().DB().WithContext(ctx).First(&su, "id = ?", siteUserID).Error; err != nil {
		return "", fmt.Errorf("scheduler: resolve site user %s: %w", siteUserID, err)
	}
	return su.Username, nil
}
