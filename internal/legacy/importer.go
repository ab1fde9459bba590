package legacy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ucdavis-hpc/cheeto/internal/errs"
	"github.com/ucdavis-hpc/cheeto/internal/store"
	"github.com/ucdavis-hpc/cheeto/internal/types"
)

// Importer drives import-to-store (§4.4): user/group/storage import followed
// by a deferred bulk group-membership pass, then scheduler-data import.
type Importer struct {
	svc *store.Service
	log *zap.Logger

	// MountSourceSite names a site for "mount-source-site" mode (§4.4). The
	// import path does not read it: importUserStorage always creates a new
	// mount source at the importing site.
	MountSourceSite string
}

func NewImporter(svc *store.Service, log *zap.Logger) *Importer {
	return &Importer{svc: svc, log: log.Named("legacy.import")}
}

// deriveType implements §4.4's type-derivation rule.
func deriveType(uid int64, groups []string) string {
	for _, g := range groups {
		if g == "hpccfgrp" {
			return "admin"
		}
	}
	if uid > 3_000_000_000 {
		return "system"
	}
	return "user"
}

// deriveStatus implements §4.4's status-derivation rule: non-system users
// with a disabled shell are inactive.
func deriveStatus(userType, shell string) string {
	if userType != "system" && types.DisabledShells[shell] {
		return "inactive"
	}
	return "active"
}

// deriveAccess implements §4.4's tag-to-access mapping.
func deriveAccess(userType string, tags []string, hasSSHKey bool) []string {
	if userType == "admin" {
		return []string{"compute-ssh", "root-ssh", "sudo"}
	}
	var access []string
	for _, t := range tags {
		switch t {
		case "ssh-tag":
			access = append(access, "compute-ssh")
		case "root-ssh-tag":
			access = append(access, "root-ssh")
		case "sudo-tag":
			access = append(access, "sudo")
		}
	}
	if len(access) > 0 {
		return access
	}
	if hasSSHKey {
		return []string{"login-ssh"}
	}
	return []string{"ondemand"}
}

// ImportUsers implements the user/group/storage portion of §4.4's import,
// deferring explicit group membership to a second bulk pass after every user
// exists (ImportMemberships).
func (imp *Importer) ImportUsers(ctx context.Context, sitename string, data AccountMap) (map[string][]string, error) {
	deferredMemberships := map[string][]string{} // username -> groups

	usernames := sortedKeys(data.User)
	for _, username := range usernames {
		u := data.User[username]

		userType := u.Type
		if userType == "" {
			userType = deriveType(u.UID, u.Groups)
		}
		status := deriveStatus(userType, u.Shell)
		access := deriveAccess(userType, u.Tag, len(u.SSHKey) > 0)

		password := u.Password
		if password == "x" {
			password = ""
		}

		opts := store.NewUserOptions{
			Type:      userType,
			Shell:     u.Shell,
			Status:    status,
			SSHKeys:   u.SSHKey,
			Access:    access,
			Sitenames: []string{sitename},
		}

		var created *store.GlobalUser
		_, err := imp.svc.Store().GetGlobalUserByUsername(ctx, username)
		switch {
		case err == nil:
			// already imported, nothing to create
		case errs.Is(err, errs.NotFound):
			created, err = imp.svc.CreateUser(ctx, username, u.Email, u.UID, u.Fullname, opts)
			if err != nil && !errs.Is(err, errs.Duplicate) {
				return nil, fmt.Errorf("legacy: import user %s: %w", username, err)
			}
		default:
			return nil, fmt.Errorf("legacy: import user %s: checking for existing account: %w", username, err)
		}
		if password != "" && created != nil {
			if err := imp.svc.SetUserPassword(ctx, username, password); err != nil {
				imp.log.Warn("setting imported password failed", zap.String("user", username), zap.Error(err))
			}
		}

		if u.Storage != nil {
			if err := imp.importUserStorage(ctx, sitename, username, u.Storage); err != nil {
				imp.log.Warn("importing user storage failed", zap.String("user", username), zap.Error(err))
			}
		}

		if len(u.Groups) > 0 {
			deferredMemberships[username] = u.Groups
		}
	}

	return deferredMemberships, nil
}

func (imp *Importer) importUserStorage(ctx context.Context, sitename, username string, s *Storage) error {
	if s.Autofs == nil {
		return nil
	}
	site, err := imp.svc.Store().GetSiteByName(ctx, sitename)
	if err != nil {
		return err
	}

	source := &store.StorageMountSource{
		SiteID:   site.ID,
		Host:     s.Autofs.Host,
		HostPath: s.Autofs.Path,
		Owner:    username,
		Options:  store.StringList(s.Autofs.Options),
	}
	if s.ZFS != nil {
		source.Kind = "zfs"
		source.Quota = s.ZFS.Quota
	} else {
		source.Kind = "nfs"
	}
	if err := imp.svc.Store().CreateStorageMountSource(ctx, source); err != nil {
		return err
	}
	_, err = imp.svc.CreateHomeStorage(ctx, sitename, username, source)
	return err
}

// ImportMemberships applies the deferred bulk group-membership updates
// collected by ImportUsers, once every user and group exists.
func (imp *Importer) ImportMemberships(ctx context.Context, sitename string, deferred map[string][]string) error {
	usernames := sortedKeys(deferred)
	for _, username := range usernames {
		for _, groupname := range deferred[username] {
			if err := imp.svc.GroupMutateRole(ctx, sitename, []string{groupname}, []string{username}, store.RoleMember, true); err != nil {
				imp.log.Warn("adding deferred membership failed",
					zap.String("user", username), zap.String("group", groupname), zap.Error(err))
			}
		}
	}
	return nil
}

// ImportGroups creates GlobalGroup/SiteGroup rows (and any group-level
// storage) for every declared group, prior to ImportMemberships.
func (imp *Importer) ImportGroups(ctx context.Context, sitename string, data AccountMap) error {
	site, err := imp.svc.Store().GetSiteByName(ctx, sitename)
	if err != nil {
		return err
	}

	groupnames := sortedKeys(data.Group)
	for _, groupname := range groupnames {
		g := data.Group[groupname]
		group, err := imp.svc.CreateGroup(ctx, groupname, g.GID, "group")
		if err != nil && !errs.Is(err, errs.Duplicate) {
			return fmt.Errorf("legacy: import group %s: %w", groupname, err)
		}
		if group == nil {
			group, err = imp.svc.Store().GetGlobalGroupByName(ctx, groupname)
			if err != nil {
				return fmt.Errorf("legacy: import group %s: %w", groupname, err)
			}
		}
		if _, err := imp.svc.Store().GetSiteGroup(ctx, sitename, groupname); err != nil {
			sg := &store.SiteGroup{SiteID: site.ID, Sitename: sitename, GlobalGroupID: group.ID, Groupname: groupname}
			if err := imp.svc.Store().CreateSiteGroup(ctx, sg); err != nil {
				return fmt.Errorf("legacy: import group %s: create site group: %w", groupname, err)
			}
		}
		for _, sponsor := range g.Sponsors {
			if err := imp.svc.GroupMutateRole(ctx, sitename, []string{groupname}, []string{sponsor}, store.RoleSponsor, true); err != nil {
				imp.log.Warn("adding sponsor failed", zap.String("group", groupname), zap.String("sponsor", sponsor), zap.Error(err))
			}
		}
		for _, sudoer := range g.Sudoers {
			if err := imp.svc.GroupMutateRole(ctx, sitename, []string{groupname}, []string{sudoer}, store.RoleSudoer, true); err != nil {
				imp.log.Warn("adding sudoer failed", zap.String("group", groupname), zap.String("sudoer", sudoer), zap.Error(err))
			}
		}
		for _, slurmer := range g.Slurmers {
			if err := imp.svc.GroupMutateRole(ctx, sitename, []string{groupname}, []string{slurmer}, store.RoleSlurmer, true); err != nil {
				imp.log.Warn("adding slurmer failed", zap.String("group", groupname), zap.String("slurmer", slurmer), zap.Error(err))
			}
		}
	}
	return nil
}

// schedulerImportPlan is the collected, not-yet-validated set of scheduler
// entities discovered while walking group.slurm.partitions (§4.4's
// scheduler-data import).
type schedulerImportPlan struct {
	partitions map[string]bool
	qos        map[string]QOS // canonical/explicit name -> inline definition
	qosRefs    map[string]bool // explicitly-referenced (not inlined) names
	// association key: groupname|partitionname -> qos name
	associations map[string]string
}

// ImportScheduler implements §4.4's scheduler-data import: walk every
// group's slurm.partitions, collect inline/referenced QOSes, validate all
// references resolve, then create partitions/QOS/associations, and finally
// add each user's slurm.account entries as slurmers.
func (imp *Importer) ImportScheduler(ctx context.Context, sitename string, data AccountMap) error {
	site, err := imp.svc.Store().GetSiteByName(ctx, sitename)
	if err != nil {
		return err
	}

	plan := &schedulerImportPlan{
		partitions:   map[string]bool{},
		qos:          map[string]QOS{},
		qosRefs:      map[string]bool{},
		associations: map[string]string{},
	}

	groupnames := sortedKeys(data.Group)
	for _, groupname := range groupnames {
		g := data.Group[groupname]
		if g.Slurm == nil {
			continue
		}
		partnames := sortedKeys(g.Slurm.Partitions)
		for _, partname := range partnames {
			entry := g.Slurm.Partitions[partname]
			plan.partitions[partname] = true

			var qosname string
			if entry.QOS != nil {
				qosname = fmt.Sprintf("%s-%s-qos", groupname, partname)
				plan.qos[qosname] = *entry.QOS
			} else {
				qosname = entry.QOSName
				plan.qosRefs[qosname] = true
			}
			plan.associations[groupname+"|"+partname] = qosname
		}
	}

	for name := range plan.qosRefs {
		if _, inlined := plan.qos[name]; inlined {
			continue
		}
		if _, err := imp.svc.Store().GetQOS(ctx, sitename, name); err != nil {
			return fmt.Errorf("legacy: import scheduler: referenced qos %q does not resolve: %w", name, err)
		}
	}

	for _, name := range sortedKeys(plan.qos) {
		q := plan.qos[name]
		row := &store.SchedulerQOS{SiteID: site.ID, Sitename: sitename, Name: name, Priority: q.Priority, Flags: store.StringList(q.Flags)}
		applyTRESLimits(row, q)
		if err := imp.svc.Store().CreateQOS(ctx, row); err != nil && !errs.Is(err, errs.Duplicate) {
			return fmt.Errorf("legacy: import scheduler: create qos %s: %w", name, err)
		}
	}

	for partname := range plan.partitions {
		p := &store.SchedulerPartition{SiteID: site.ID, Sitename: sitename, Name: partname}
		if err := imp.svc.Store().CreatePartition(ctx, p); err != nil {
			return fmt.Errorf("legacy: import scheduler: create partition %s: %w", partname, err)
		}
	}

	for key, qosname := range plan.associations {
		parts := strings.SplitN(key, "|", 2)
		groupname, partname := parts[0], parts[1]
		sg, err := imp.svc.Store().GetSiteGroup(ctx, sitename, groupname)
		if err != nil {
			return fmt.Errorf("legacy: import scheduler: group %s: %w", groupname, err)
		}
		part, err := imp.svc.Store().GetPartition(ctx, sitename, partname)
		if err != nil {
			return fmt.Errorf("legacy: import scheduler: partition %s: %w", partname, err)
		}
		qos, err := imp.svc.Store().GetQOS(ctx, sitename, qosname)
		if err != nil {
			return fmt.Errorf("legacy: import scheduler: qos %s: %w", qosname, err)
		}
		assoc := &store.SchedulerAssociation{SiteID: site.ID, Sitename: sitename, GroupID: sg.ID, PartitionID: part.ID, QOSID: qos.ID}
		if err := imp.svc.Store().CreateAssociation(ctx, assoc); err != nil {
			return fmt.Errorf("legacy: import scheduler: association %s/%s: %w", groupname, partname, err)
		}
	}

	for _, username := range sortedKeys(data.User) {
		u := data.User[username]
		if u.Slurm == nil {
			continue
		}
		for _, groupname := range u.Slurm.Account {
			if err := imp.svc.GroupMutateRole(ctx, sitename, []string{groupname}, []string{username}, store.RoleSlurmer, true); err != nil {
				imp.log.Warn("adding slurm account slurmer failed",
					zap.String("user", username), zap.String("group", groupname), zap.Error(err))
			}
		}
	}

	return nil
}

func applyTRESLimits(row *store.SchedulerQOS, q QOS) {
	if q.GroupLimits != nil {
		row.GroupCPUs, row.GroupMem, row.GroupGPUs = q.GroupLimits.CPUs, derefStr(q.GroupLimits.Mem), q.GroupLimits.GPUs
	}
	if q.UserLimits != nil {
		row.UserCPUs, row.UserMem, row.UserGPUs = q.UserLimits.CPUs, derefStr(q.UserLimits.Mem), q.UserLimits.GPUs
	}
	if q.JobLimits != nil {
		row.JobCPUs, row.JobMem, row.JobGPUs = q.JobLimits.CPUs, derefStr(q.JobLimits.Mem), q.JobLimits.GPUs
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
