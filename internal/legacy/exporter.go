package legacy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ucdavis-hpc/cheeto/internal/store"
	"github.com/ucdavis-hpc/cheeto/internal/types"
)

// disabledLoginShell and inactiveLoginShell are the legacy shell rewrites
// applied on export (§4.4): a user whose effective status is inactive exports
// inactiveLoginShell, and any other user whose shell is one of the disabled
// shells exports disabledLoginShell.
const (
	inactiveLoginShell = "/usr/sbin/nologin-account-disabled"
	disabledLoginShell = "/usr/bin/bash"
)

// Exporter re-materializes a site's canonical store state into the legacy
// YAML shape, reversing Importer (§4.4's "Export to YAML" bullet).
type Exporter struct {
	svc *store.Service

	// MountSourceSite names a site for "mount-source-site" mode. The export
	// path does not read it: every exported storage block carries its own
	// mount source in full.
	MountSourceSite string
}

func NewExporter(svc *store.Service) *Exporter {
	return &Exporter{svc: svc}
}

// ExportSite builds the AccountMap's user entries for every SiteUser at
// sitename; its group map is left empty (group records come from
// ExportGroups).
func (exp *Exporter) ExportSite(ctx context.Context, sitename string) (AccountMap, error) {
	out := AccountMap{User: map[string]UserRecord{}, Group: map[string]GroupRecord{}}

	siteUsers, err := exp.svc.Store().ListSiteUsersBySite(ctx, sitename)
	if err != nil {
		return out, fmt.Errorf("legacy: export site %s: %w", sitename, err)
	}
	for _, su := range siteUsers {
		user, err := exp.svc.Store().GetGlobalUserByID(ctx, su.GlobalUserID)
		if err != nil {
			continue
		}
		out.User[user.Username] = exp.exportUser(ctx, sitename, user, &su)
	}

	return out, nil
}

func (exp *Exporter) exportUser(ctx context.Context, sitename string, user *store.GlobalUser, su *store.SiteUser) UserRecord {
	shell := user.Shell
	status := su.EffectiveStatus(user.Status)
	switch status {
	case "inactive":
		shell = inactiveLoginShell
	default:
		if types.DisabledShells[shell] {
			shell = disabledLoginShell
		}
	}

	rec := UserRecord{
		Fullname: user.Fullname,
		Email:    user.Email,
		UID:      user.UID,
		GID:      user.GID,
		Shell:    shell,
		SSHKey:   user.SSHKeys,
		Type:     user.Type,
	}

	if storageRow, err := exp.svc.Store().GetStorageByName(ctx, user.Username); err == nil {
		rec.Storage = exp.exportStorage(ctx, storageRow)
	}

	return rec
}

// exportStorage reassembles a Storage row's bound StorageMountSource as an
// autofs/zfs block.
func (exp *Exporter) exportStorage(ctx context.Context, st *store.Storage) *Storage {
	var source store.StorageMountSource
	if err := exp.svc.Store().DB().WithContext(ctx).First(&source, "id = ?", st.SourceID).Error; err != nil {
		return nil
	}
	autofs := &Autofs{Host: source.Host, Path: source.HostPath, Options: []string(source.Options)}
	if source.Kind == "zfs" {
		return &Storage{Autofs: autofs, ZFS: &ZFS{Quota: source.Quota}}
	}
	return &Storage{Autofs: autofs}
}

// ExportGroups builds group records (gid, sponsors, sudoers, slurmers) for
// each named group at sitename, skipping names with no SiteGroup there. No
// storage block is emitted for groups.
func (exp *Exporter) ExportGroups(ctx context.Context, sitename string, groupnames []string) (map[string]GroupRecord, error) {
	out := map[string]GroupRecord{}
	for _, groupname := range groupnames {
		sg, err := exp.svc.Store().GetSiteGroup(ctx, sitename, groupname)
		if err != nil {
			continue
		}
		var global store.GlobalGroup
		if err := exp.svc.Store().DB().WithContext(ctx).First(&global, "id = ?", sg.GlobalGroupID).Error; err != nil {
			continue
		}
		rec := GroupRecord{GID: global.GID}
		for _, m := range sg.Sponsors {
			if name, ok := exp.siteUsername(ctx, m.SiteUserID); ok {
				rec.Sponsors = append(rec.Sponsors, name)
			}
		}
		for _, m := range sg.Sudoers {
			if name, ok := exp.siteUsername(ctx, m.SiteUserID); ok {
				rec.Sudoers = append(rec.Sudoers, name)
			}
		}
		for _, m := range sg.Slurmers {
			if name, ok := exp.siteUsername(ctx, m.SiteUserID); ok {
				rec.Slurmers = append(rec.Slurmers, name)
			}
		}
		out[groupname] = rec
	}
	return out, nil
}

func (exp *Exporter) siteUsername(ctx context.Context, siteUserID uuid.UUID) (string, bool) {
	var su store.SiteUser
	if err := exp.svc.Store().DB().WithContext(ctx).First(&su, "id = ?", siteUserID).Error; err != nil {
		return "", false
	}
	return su.Username, true
}
