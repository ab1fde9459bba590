package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ucdavis-hpc/cheeto/internal/config"
	"github.com/ucdavis-hpc/cheeto/internal/store"
)

// Reconciler drives §4.6's sync_site entrypoint, reimplementing
// database/ldap.py's ldap_sync/ldap_sync_group/ldap_sync_globaluser/
// ldap_sync_siteuser over the relational store.
type Reconciler struct {
	svc *store.Service
	cfg config.LDAPConfig
	log *zap.Logger
}

func NewReconciler(svc *store.Service, cfg config.LDAPConfig, log *zap.Logger) *Reconciler {
	return &Reconciler{svc: svc, cfg: cfg, log: log.Named("directory")}
}

// SyncSite implements §4.6's four-step ordering. Each step's failures are
// logged and skipped per-entity (leaving ldap_synced=false so a later pass
// retries) rather than aborting the whole run.
func (r *Reconciler) SyncSite(ctx context.Context, sitename string, force bool) error {
	mgr, err := Dial(r.cfg)
	if err != nil {
		return fmt.Errorf("directory: sync site %s: %w", sitename, err)
	}
	defer mgr.Close()

	siteUsers, err := r.svc.Store().ListSiteUsersBySite(ctx, sitename)
	if err != nil {
		return fmt.Errorf("directory: sync site %s: %w", sitename, err)
	}

	// Step 1: GlobalUser entries.
	seenGlobal := map[string]bool{}
	for _, su := range siteUsers {
		user, err := r.svc.Store().GetGlobalUserByID(ctx, su.GlobalUserID)
		if err != nil {
			r.log.Error("resolving global user failed", zap.String("site_user", su.Username), zap.Error(err))
			continue
		}
		if seenGlobal[user.Username] {
			continue
		}
		seenGlobal[user.Username] = true
		if !force && user.LDAPSynced {
			continue
		}
		if err := r.syncGlobalUser(ctx, mgr, user, force); err != nil {
			r.log.Error("syncing global user failed", zap.String("user", user.Username), zap.Error(err))
		}
	}

	// Step 2: SiteGroup entries.
	groups, err := r.svc.Store().ListSiteGroupsBySite(ctx, sitename)
	if err != nil {
		return fmt.Errorf("directory: sync site %s: %w", sitename, err)
	}
	special := r.specialGroupnames()
	for i := range groups {
		g := &groups[i]
		if !force && g.LDAPSynced {
			continue
		}
		if err := r.syncGroup(ctx, mgr, sitename, g, special, force); err != nil {
			r.log.Error("syncing group failed", zap.String("group", g.Groupname), zap.Error(err))
		}
	}

	// Step 3: per-SiteUser status/access group membership and system key
	// fan-in. Runs unconditionally: spec.md names no synced-flag gate here.
	adminKeys := r.adminRootKeys(ctx, siteUsers)
	for _, su := range siteUsers {
		user, err := r.svc.Store().GetGlobalUserByID(ctx, su.GlobalUserID)
		if err != nil {
			r.log.Error("resolving global user failed", zap.String("site_user", su.Username), zap.Error(err))
			continue
		}
		if err := r.syncSiteUser(ctx, mgr, sitename, user, &su, adminKeys); err != nil {
			r.log.Error("syncing site user failed", zap.String("user", su.Username), zap.Error(err))
		}
	}

	// Step 4: automount rewrite.
	site, err := r.svc.Store().GetSiteByName(ctx, sitename)
	if err != nil {
		return fmt.Errorf("directory: sync site %s: %w", sitename, err)
	}
	for _, kind := range []string{"home", "group"} {
		if err := r.syncAutomounts(ctx, mgr, site.ID, sitename, kind); err != nil {
			r.log.Error("syncing automounts failed", zap.String("kind", kind), zap.Error(err))
		}
	}

	return nil
}

func (r *Reconciler) specialGroupnames() map[string]bool {
	out := map[string]bool{}
	for _, g := range r.cfg.UserAccessGroups {
		out[g] = true
	}
	for _, g := range r.cfg.UserStatusGroups {
		out[g] = true
	}
	return out
}

// syncGlobalUser implements ldap_sync_globaluser.
func (r *Reconciler) syncGlobalUser(ctx context.Context, mgr *Manager, user *store.GlobalUser, force bool) error {
	if force {
		if err := mgr.DeleteUser(ctx, user.Username); err != nil {
			return err
		}
	}

	attrs := UserAttrs{
		Email:         user.Email,
		UID:           user.UID,
		GID:           user.GID,
		Shell:         user.Shell,
		HomeDirectory: user.HomeDirectory,
		Fullname:      user.Fullname,
		Surname:       lastToken(user.Fullname),
	}
	if user.Password != "" {
		attrs.Password = "{CRYPT}" + user.Password
	}
	if len(user.SSHKeys) > 0 {
		attrs.SSHKeys = user.SSHKeys
	}

	exists, err := mgr.UserExists(ctx, user.Username)
	if err != nil {
		return err
	}
	if exists {
		fields := []string{"email", "uid", "gid", "shell", "home", "fullname", "surname", "password"}
		if len(attrs.SSHKeys) > 0 {
			fields = append(fields, "sshKeys")
		}
		if err := mgr.UpdateUser(ctx, user.Username, attrs, fields...); err != nil {
			return err
		}
	} else {
		if err := mgr.AddUser(ctx, user.Username, attrs); err != nil {
			return err
		}
	}

	synced := true
	return r.svc.Store().UpdateGlobalUserSyncFlags(ctx, user.ID, &synced, nil)
}

// syncGroup implements ldap_sync_group.
func (r *Reconciler) syncGroup(ctx context.Context, mgr *Manager, sitename string, g *store.SiteGroup, special map[string]bool, force bool) error {
	if force {
		if err := mgr.DeleteDN(ctx, mgr.groupDN(g.Groupname, sitename)); err != nil {
			return err
		}
	}

	members := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		if name, err := r.siteUsername(ctx, m.SiteUserID); err == nil {
			members = append(members, name)
		}
	}

	exists, err := mgr.GroupExists(ctx, g.Groupname, sitename)
	if err != nil {
		return err
	}
	if !exists {
		var group store.GlobalGroup
		if err := r.svc.Store().DB().WithContext(ctx).First(&group, "id = ?", g.GlobalGroupID).Error; err != nil {
			return fmt.Errorf("directory: resolve global group %s: %w", g.Groupname, err)
		}
		if err := mgr.AddGroup(ctx, g.Groupname, sitename, group.GID, members); err != nil {
			return err
		}
		return r.markGroupSynced(ctx, g)
	}

	if special[g.Groupname] {
		r.log.Info("skipping membership sync for special group", zap.String("group", g.Groupname))
		return nil
	}

	current, err := mgr.QueryGroupMembers(ctx, g.Groupname, sitename)
	if err != nil {
		return err
	}
	desired := map[string]bool{}
	for _, m := range members {
		desired[m] = true
	}

	var toAdd, toRemove []string
	for m := range desired {
		if !current[m] {
			toAdd = append(toAdd, m)
		}
	}
	for m := range current {
		if !desired[m] {
			toRemove = append(toRemove, m)
		}
	}
	if err := mgr.RemoveUsersFromGroup(ctx, toRemove, g.Groupname, sitename); err != nil {
		return err
	}
	if err := mgr.AddUsersToGroup(ctx, toAdd, g.Groupname, sitename); err != nil {
		return err
	}
	return r.markGroupSynced(ctx, g)
}

func (r *Reconciler) markGroupSynced(ctx context.Context, g *store.SiteGroup) error {
	g.LDAPSynced = true
	return r.svc.Store().UpdateSiteGroup(ctx, g)
}

func (r *Reconciler) siteUsername(ctx context.Context, siteUserID uuid.UUID) (string, error) {
	var su store.SiteUser
	if err := r.svc.Store().DB().WithContext(ctx).First(&su, "id = ?", siteUserID).Error; err != nil {
		return "", fmt.Errorf("directory: resolve site user %s: %w", siteUserID, err)
	}
	return su.Username, nil
}

// syncSiteUser implements ldap_sync_siteuser: status-group and
// access-group membership, plus the system-user merged key push.
func (r *Reconciler) syncSiteUser(ctx context.Context, mgr *Manager, sitename string, user *store.GlobalUser, su *store.SiteUser, adminKeys []string) error {
	exists, err := mgr.UserExists(ctx, su.Username)
	if err != nil {
		return err
	}
	if !exists {
		if err := r.syncGlobalUser(ctx, mgr, user, false); err != nil {
			return err
		}
	}

	memberships, err := mgr.QueryUserMemberships(ctx, su.Username, sitename)
	if err != nil {
		return err
	}

	status := su.EffectiveStatus(user.Status)
	for s, groupname := range r.cfg.UserStatusGroups {
		inGroup := memberships[groupname]
		switch {
		case s == status && !inGroup:
			if err := mgr.AddUsersToGroup(ctx, []string{su.Username}, groupname, sitename); err != nil {
				return err
			}
		case s != status && inGroup:
			if err := mgr.RemoveUsersFromGroup(ctx, []string{su.Username}, groupname, sitename); err != nil {
				return err
			}
		}
	}

	access := store.EffectiveAccess(user.Access, su.LocalAccess)
	accessSet := map[string]bool{}
	for _, a := range access {
		accessSet[a] = true
	}
	for accessType, groupname := range r.cfg.UserAccessGroups {
		inGroup := memberships[groupname]
		switch {
		case accessSet[accessType] && !inGroup:
			if err := mgr.AddUsersToGroup(ctx, []string{su.Username}, groupname, sitename); err != nil {
				return err
			}
		case !accessSet[accessType] && inGroup:
			if err := mgr.RemoveUsersFromGroup(ctx, []string{su.Username}, groupname, sitename); err != nil {
				return err
			}
		}
	}

	if user.Type == "system" {
		keys := mergeUnique(adminKeys, user.SSHKeys)
		if err := mgr.UpdateUser(ctx, su.Username, UserAttrs{SSHKeys: keys}, "sshKeys"); err != nil {
			return err
		}
	}

	return nil
}

// adminRootKeys implements query_admin_keys(sitename): ssh keys of every
// admin-type user at the site with root-ssh access.
func (r *Reconciler) adminRootKeys(ctx context.Context, siteUsers []store.SiteUser) []string {
	var keys []string
	for _, su := range siteUsers {
		user, err := r.svc.Store().GetGlobalUserByID(ctx, su.GlobalUserID)
		if err != nil || user.Type != "admin" {
			continue
		}
		access := store.EffectiveAccess(user.Access, su.LocalAccess)
		hasRoot := false
		for _, a := range access {
			if a == "root-ssh" {
				hasRoot = true
				break
			}
		}
		if hasRoot {
			keys = append(keys, user.SSHKeys...)
		}
	}
	return keys
}

// syncAutomounts implements the storage loop in ldap_sync: delete and
// re-add each automount DN under the given map kind ("home" or "group").
func (r *Reconciler) syncAutomounts(ctx context.Context, mgr *Manager, siteID uuid.UUID, sitename, kind string) error {
	storages, err := r.svc.Store().ListStoragesByMapTablename(ctx, siteID, kind)
	if err != nil {
		return fmt.Errorf("directory: sync %s automounts: %w", kind, err)
	}
	if len(storages) == 0 {
		r.log.Warn("no storages found for automount map", zap.String("kind", kind), zap.String("site", sitename))
		return nil
	}

	for _, st := range storages {
		var source store.StorageMountSource
		if err := r.svc.Store().DB().WithContext(ctx).First(&source, "id = ?", st.SourceID).Error; err != nil {
			r.log.Error("resolving storage mount source failed", zap.String("storage", st.Name), zap.Error(err))
			continue
		}

		var automount store.Automount
		owner := st.Name
		if st.MountID != nil {
			if err := r.svc.Store().DB().WithContext(ctx).First(&automount, "id = ?", *st.MountID).Error; err == nil {
				owner = automount.Name
			}
		}

		host := source.Host + "${HOST_SUFFIX}"
		if err := mgr.DeleteDN(ctx, mgr.AutomountDN(owner, kind, sitename)); err != nil {
			r.log.Error("deleting automount DN failed", zap.String("name", owner), zap.Error(err))
			continue
		}

		var addErr error
		if kind == "home" {
			addErr = mgr.AddHomeAutomount(ctx, owner, sitename, host, source.HostPath, []string(source.Options))
		} else {
			addErr = mgr.AddGroupAutomount(ctx, owner, sitename, host, source.HostPath, []string(source.Options))
		}
		if addErr != nil {
			r.log.Error("adding automount failed", zap.String("name", owner), zap.Error(addErr))
		}
	}
	return nil
}

func lastToken(fullname string) string {
	fields := strings.Fields(fullname)
	if len(fields) == 0 {
		return fullname
	}
	return fields[len(fields)-1]
}

func mergeUnique(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
