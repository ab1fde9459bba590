package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ucdavis-hpc/cheeto/internal/errs"
	"github.com/ucdavis-hpc/cheeto/internal/types"
)

// Service implements the CRUD/query service (C3): the invariant-preserving,
// idempotent operations layered over the Store's raw entity access.
type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Store exposes the underlying Store for callers (the legacy importer,
// scheduler reconciler) that need direct entity access beyond the service
// operations.
func (svc *Service) Store() *Store { return svc.store }

// NewUserOptions carries create_user's optional fields.
type NewUserOptions struct {
	Type      string
	Shell     string
	Status    string
	Password  string // plaintext; hashed before storage if non-empty
	SSHKeys   []string
	Access    []string
	GID       *int64
	IAMID     *int64
	Sitenames []string
}

// CreateSite implements §4.3 create_site.
func (svc *Service) CreateSite(ctx context.Context, name, fqdn string) (*Site, error) {
	if _, err := svc.store.GetSiteByName(ctx, name); err == nil {
		return nil, errs.Duplicatef("Site", "sitename %q already exists", name)
	}
	site := &Site{Sitename: name, FQDN: fqdn}
	if err := svc.store.CreateSite(ctx, site); err != nil {
		return nil, err
	}
	return site, nil
}

// CreateUser implements §4.3 create_user: atomically creates the GlobalUser,
// its per-user GlobalGroup, indexes search terms, hashes an optional
// password, and attaches to any listed sites.
func (svc *Service) CreateUser(ctx context.Context, username, email string, uid int64, fullname string, opts NewUserOptions) (*GlobalUser, error) {
	if err := types.ValidateKerberosID("username", username); err != nil {
		return nil, err
	}
	if err := types.ValidateEmail("email", email); err != nil {
		return nil, err
	}
	if _, err := svc.store.GetGlobalUserByUsername(ctx, username); err == nil {
		return nil, errs.Duplicatef("GlobalUser", "username %q already exists", username)
	}

	gid := uid
	if opts.GID != nil {
		gid = *opts.GID
	}
	userType := opts.Type
	if userType == "" {
		userType = "user"
	}
	shell := opts.Shell
	if shell == "" {
		shell = types.DefaultShell
	}
	status := opts.Status
	if status == "" {
		status = "active"
	}

	var hashed string
	if opts.Password != "" {
		h, err := HashPassword(opts.Password)
		if err != nil {
			return nil, err
		}
		hashed = h
	}

	var user *GlobalUser
	err := svc.store.Transaction(ctx, func(tx *Store) error {
		group := &GlobalGroup{Groupname: username, GID: gid, Type: "user"}
		if err := tx.CreateGlobalGroup(ctx, group); err != nil {
			return err
		}

		user = &GlobalUser{
			Username:      username,
			UID:           uid,
			GID:           gid,
			Email:         email,
			Fullname:      fullname,
			Shell:         shell,
			HomeDirectory: "/home/" + username,
			Type:          userType,
			Status:        status,
			Password:      hashed,
			SSHKeys:       opts.SSHKeys,
			Access:        opts.Access,
			IAMID:         opts.IAMID,
		}
		if err := tx.CreateGlobalUser(ctx, user); err != nil {
			return err
		}
		if err := tx.db.WithContext(ctx).Model(&GlobalGroup{}).
			Where("id = ?", group.ID).Update("owner_id", user.ID).Error; err != nil {
			return fmt.Errorf("store: create user: set group owner: %w", err)
		}
		if err := tx.IndexUser(ctx, user); err != nil {
			return fmt.Errorf("store: create user: indexing: %w", err)
		}
		for _, sitename := range opts.Sitenames {
			if err := svc.addSiteUserTx(ctx, tx, sitename, user); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// AddSiteUser implements §4.3 add_site_user: atomic creation of a SiteUser
// and its per-user SiteGroup containing the SiteUser as member.
func (svc *Service) AddSiteUser(ctx context.Context, sitename string, user *GlobalUser) (*SiteUser, error) {
	var su *SiteUser
	err := svc.store.Transaction(ctx, func(tx *Store) error {
		var err error
		su, err = svc.addSiteUserTxReturn(ctx, tx, sitename, user)
		return err
	})
	return su, err
}

func (svc *Service) addSiteUserTx(ctx context.Context, tx *Store, sitename string, user *GlobalUser) error {
	_, err := svc.addSiteUserTxReturn(ctx, tx, sitename, user)
	return err
}

func (svc *Service) addSiteUserTxReturn(ctx context.Context, tx *Store, sitename string, user *GlobalUser) (*SiteUser, error) {
	site, err := tx.GetSiteByName(ctx, sitename)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetSiteUser(ctx, sitename, user.Username); err == nil {
		return nil, errs.Duplicatef("SiteUser", "site=%s username=%s", sitename, user.Username)
	}

	globalGroup, err := tx.GetGlobalGroupByName(ctx, user.Username)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, "NonExistentGlobalGroup", fmt.Sprintf("per-user group for %s missing", user.Username), err)
	}

	su := &SiteUser{SiteID: site.ID, Sitename: sitename, GlobalUserID: user.ID, Username: user.Username}
	if err := tx.CreateSiteUser(ctx, su); err != nil {
		return nil, err
	}

	sg := &SiteGroup{SiteID: site.ID, Sitename: sitename, GlobalGroupID: globalGroup.ID, Groupname: user.Username}
	if err := tx.CreateSiteGroup(ctx, sg); err != nil {
		return nil, err
	}
	if err := tx.AddRoleMember(ctx, RoleMember, sg.ID, su.ID); err != nil {
		return nil, err
	}

	if err := applyGlobalGroupTriggers(ctx, tx, site, su); err != nil {
		return nil, err
	}
	return su, nil
}

// applyGlobalGroupTriggers implements §4.2's "on SiteUser insert" trigger:
// add the user to every SiteGroup listed in the site's global_groups and
// global_slurmers.
func applyGlobalGroupTriggers(ctx context.Context, tx *Store, site *Site, su *SiteUser) error {
	var globalGroups []SiteGlobalGroup
	if err := tx.db.WithContext(ctx).Where("site_id = ?", site.ID).Order("position ASC").Find(&globalGroups).Error; err != nil {
		return fmt.Errorf("store: trigger: list global groups: %w", err)
	}
	for _, gg := range globalGroups {
		var sg SiteGroup
		if err := tx.db.WithContext(ctx).Where("site_id = ? AND global_group_id = ?", site.ID, gg.GroupnameAt).First(&sg).Error; err != nil {
			continue
		}
		if err := tx.AddRoleMember(ctx, RoleMember, sg.ID, su.ID); err != nil {
			return err
		}
	}

	var slurmerGroups []SiteGlobalSlurmerGroup
	if err := tx.db.WithContext(ctx).Where("site_id = ?", site.ID).Order("position ASC").Find(&slurmerGroups).Error; err != nil {
		return fmt.Errorf("store: trigger: list global slurmer groups: %w", err)
	}
	for _, gg := range slurmerGroups {
		var sg SiteGroup
		if err := tx.db.WithContext(ctx).Where("site_id = ? AND global_group_id = ?", site.ID, gg.GroupnameAt).First(&sg).Error; err != nil {
			continue
		}
		if err := tx.AddRoleMember(ctx, RoleSlurmer, sg.ID, su.ID); err != nil {
			return err
		}
	}
	return nil
}

// ReapplyGlobalGroupTriggers implements §4.2's "on Site update" rule:
// re-apply the global-group/slurmer membership trigger over every existing
// SiteUser at the site.
func (svc *Service) ReapplyGlobalGroupTriggers(ctx context.Context, sitename string) error {
	return svc.store.Transaction(ctx, func(tx *Store) error {
		site, err := tx.GetSiteByName(ctx, sitename)
		if err != nil {
			return err
		}
		users, err := tx.ListSiteUsersBySite(ctx, sitename)
		if err != nil {
			return err
		}
		for i := range users {
			if err := applyGlobalGroupTriggers(ctx, tx, site, &users[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateSystemUser implements create_system_user: allocates the next system
// uid and grants default access.
func (svc *Service) CreateSystemUser(ctx context.Context, username, email, fullname string, opts NewUserOptions) (*GlobalUser, error) {
	var uid int64
	err := svc.store.Transaction(ctx, func(tx *Store) error {
		var err error
		uid, err = NextSystemUID(ctx, tx.db)
		return err
	})
	if err != nil {
		return nil, err
	}
	opts.Type = "system"
	if len(opts.Access) == 0 {
		opts.Access = []string{"login-ssh", "compute-ssh"}
	}
	return svc.CreateUser(ctx, username, email, uid, fullname, opts)
}

// CreateClassUser implements create_class_user.
func (svc *Service) CreateClassUser(ctx context.Context, username, email, fullname string, opts NewUserOptions) (*GlobalUser, error) {
	var uid int64
	err := svc.store.Transaction(ctx, func(tx *Store) error {
		var err error
		uid, err = NextClassUID(ctx, tx.db)
		return err
	})
	if err != nil {
		return nil, err
	}
	opts.Type = "class"
	if len(opts.Access) == 0 {
		opts.Access = []string{"login-ssh", "compute-ssh"}
	}
	return svc.CreateUser(ctx, username, email, uid, fullname, opts)
}

// CreateGroup implements create_group.
func (svc *Service) CreateGroup(ctx context.Context, groupname string, gid int64, groupType string) (*GlobalGroup, error) {
	g := &GlobalGroup{Groupname: groupname, GID: gid, Type: groupType}
	if err := svc.store.CreateGlobalGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (svc *Service) CreateSystemGroup(ctx context.Context, groupname string) (*GlobalGroup, error) {
	var gid int64
	if err := svc.store.Transaction(ctx, func(tx *Store) error {
		var err error
		gid, err = NextSystemGID(ctx, tx.db)
		return err
	}); err != nil {
		return nil, err
	}
	return svc.CreateGroup(ctx, groupname, gid, "system")
}

func (svc *Service) CreateClassGroup(ctx context.Context, groupname string, numAccounts int, sponsorUsername, emailDomain string) (*GlobalGroup, []UsernamePassword, error) {
	var gid int64
	if err := svc.store.Transaction(ctx, func(tx *Store) error {
		var err error
		gid, err = NextClassGID(ctx, tx.db)
		return err
	}); err != nil {
		return nil, nil, err
	}
	group, err := svc.CreateGroup(ctx, groupname, gid, "class")
	if err != nil {
		return nil, nil, err
	}

	if _, err := svc.store.GetGlobalUserByUsername(ctx, sponsorUsername); err != nil {
		return nil, nil, err
	}

	var created []UsernamePassword
	for i := 0; i < numAccounts; i++ {
		var uid int64
		if err := svc.store.Transaction(ctx, func(tx *Store) error {
			var err error
			uid, err = NextClassUID(ctx, tx.db)
			return err
		}); err != nil {
			return nil, nil, err
		}
		username := fmt.Sprintf("%s%02d", groupname, i+1)
		password := GenerateClassPassword()
		if _, err := svc.CreateUser(ctx, username, fmt.Sprintf("%s@%s", username, emailDomain), uid, username, NewUserOptions{
			Type:     "class",
			Password: password,
			GID:      &gid,
		}); err != nil {
			return nil, nil, err
		}
		created = append(created, UsernamePassword{Username: username, Password: password})
	}
	return group, created, nil
}

// UsernamePassword is create_class_group's (username, password) return pair.
type UsernamePassword struct {
	Username string
	Password string
}

// CreateGroupFromSponsor implements create_group_from_sponsor: derives
// name/gid per invariant 5 and seeds membership + sponsorship with the
// sponsor.
func (svc *Service) CreateGroupFromSponsor(ctx context.Context, sitename string, sponsor *GlobalUser) (*GlobalGroup, error) {
	gid := SponsorGroupGID(sponsor.UID)
	groupname := SponsorGroupName(sponsor.Username)

	var group *GlobalGroup
	err := svc.store.Transaction(ctx, func(tx *Store) error {
		if existing, err := tx.GetGlobalGroupByName(ctx, groupname); err == nil {
			group = existing
		} else {
			group = &GlobalGroup{Groupname: groupname, GID: gid, Type: "group", OwnerID: &sponsor.ID}
			if err := tx.CreateGlobalGroup(ctx, group); err != nil {
				return err
			}
		}

		site, err := tx.GetSiteByName(ctx, sitename)
		if err != nil {
			return err
		}
		sponsorSiteUser, err := tx.GetSiteUser(ctx, sitename, sponsor.Username)
		if err != nil {
			return err
		}

		sg := &SiteGroup{SiteID: site.ID, Sitename: sitename, GlobalGroupID: group.ID, Groupname: groupname}
		if existing, err := tx.GetSiteGroup(ctx, sitename, groupname); err == nil {
			sg = existing
		} else if err := tx.CreateSiteGroup(ctx, sg); err != nil {
			return err
		}

		if err := tx.AddRoleMember(ctx, RoleMember, sg.ID, sponsorSiteUser.ID); err != nil {
			return err
		}
		return tx.AddRoleMember(ctx, RoleSponsor, sg.ID, sponsorSiteUser.ID)
	})
	return group, err
}

// SetUserStatus implements set_user_status: writes the scope-appropriate
// field. With no sitename it sets the GlobalUser's status and appends a
// timestamped comment; with a sitename it sets only the SiteUser's status
// override and records no comment (reason is not stored).
func (svc *Service) SetUserStatus(ctx context.Context, username, status, reason, sitename string) error {
	if err := types.ValidateOneOf("status", status, types.UserStatuses); err != nil {
		return err
	}
	return svc.store.Transaction(ctx, func(tx *Store) error {
		if sitename == "" {
			user, err := tx.GetGlobalUserByUsername(ctx, username)
			if err != nil {
				return err
			}
			user.Status = status
			user.Comments = append(user.Comments, timestampedComment(reason))
			return tx.UpdateGlobalUser(ctx, user)
		}
		su, err := tx.GetSiteUser(ctx, sitename, username)
		if err != nil {
			return err
		}
		su.LocalStatus = status
		return tx.UpdateSiteUser(ctx, su)
	})
}

func timestampedComment(reason string) string {
	return fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), reason)
}

func (svc *Service) SetUserShell(ctx context.Context, username, shell string) error {
	if err := types.ValidateShell("shell", shell); err != nil {
		return err
	}
	user, err := svc.store.GetGlobalUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	user.Shell = shell
	return svc.store.UpdateGlobalUser(ctx, user)
}

func (svc *Service) SetUserType(ctx context.Context, username, userType string) error {
	if err := types.ValidateOneOf("type", userType, types.UserTypes); err != nil {
		return err
	}
	user, err := svc.store.GetGlobalUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	user.Type = userType
	return svc.store.UpdateGlobalUser(ctx, user)
}

func (svc *Service) SetUserPassword(ctx context.Context, username, password string) error {
	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	user, err := svc.store.GetGlobalUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	user.Password = hashed
	return svc.store.UpdateGlobalUser(ctx, user)
}

func (svc *Service) AddUserAccess(ctx context.Context, username, access, sitename string) error {
	if err := types.ValidateOneOf("access", access, types.AccessTypes); err != nil {
		return err
	}
	return svc.mutateAccess(ctx, username, sitename, func(current []string) []string {
		for _, a := range current {
			if a == access {
				return current
			}
		}
		return append(current, access)
	})
}

func (svc *Service) RemoveUserAccess(ctx context.Context, username, access, sitename string) error {
	return svc.mutateAccess(ctx, username, sitename, func(current []string) []string {
		out := current[:0]
		for _, a := range current {
			if a != access {
				out = append(out, a)
			}
		}
		return out
	})
}

func (svc *Service) mutateAccess(ctx context.Context, username, sitename string, mutate func([]string) []string) error {
	if sitename == "" {
		user, err := svc.store.GetGlobalUserByUsername(ctx, username)
		if err != nil {
			return err
		}
		user.Access = mutate(user.Access)
		return svc.store.UpdateGlobalUser(ctx, user)
	}
	su, err := svc.store.GetSiteUser(ctx, sitename, username)
	if err != nil {
		return err
	}
	su.LocalAccess = mutate(su.LocalAccess)
	return svc.store.UpdateSiteUser(ctx, su)
}

// GroupMutateRole implements group_add/remove_user_element: bulk role edit
// across multiple groups and users.
func (svc *Service) GroupMutateRole(ctx context.Context, sitename string, groups, users []string, role RoleTable, add bool) error {
	return svc.store.Transaction(ctx, func(tx *Store) error {
		for _, groupname := range groups {
			sg, err := tx.GetSiteGroup(ctx, sitename, groupname)
			if err != nil {
				return err
			}
			for _, username := range users {
				su, err := tx.GetSiteUser(ctx, sitename, username)
				if err != nil {
					return err
				}
				if add {
					if err := tx.AddRoleMember(ctx, role, sg.ID, su.ID); err != nil {
						return err
					}
				} else if err := tx.RemoveRoleMember(ctx, role, sg.ID, su.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CreateHomeStorage implements create_home_storage: looks up the site's
// "home" source collection and automount map, creates a ZFS source (if none
// passed), a per-user automount, and a Storage binding all three.
// Idempotent on the unique constraints (testable scenario §8.2).
func (svc *Service) CreateHomeStorage(ctx context.Context, sitename, username string, existingSource *StorageMountSource) (*Storage, error) {
	if existing, err := svc.store.GetStorageByName(ctx, username); err == nil {
		return existing, nil
	}

	var storage *Storage
	err := svc.store.Transaction(ctx, func(tx *Store) error {
		site, err := tx.GetSiteByName(ctx, sitename)
		if err != nil {
			return err
		}

		source := existingSource
		if source == nil {
			collection, err := tx.GetSourceCollection(ctx, site.ID, "home")
			if err != nil {
				return err
			}
			source = &StorageMountSource{
				SiteID:   site.ID,
				Kind:     "zfs",
				Host:     collection.DefaultHost,
				HostPath: collection.Prefix + "/" + username,
				Owner:    username,
				Quota:    collection.Quota,
			}
			if err := tx.CreateStorageMountSource(ctx, source); err != nil {
				return err
			}
		}

		homeMap, err := tx.GetAutomountMap(ctx, site.ID, "home")
		if err != nil {
			return err
		}
		automount := &Automount{MapID: homeMap.ID, Name: username}
		if err := tx.CreateAutomount(ctx, automount); err != nil {
			return err
		}

		storage = &Storage{Name: username, SourceID: source.ID, MountID: &automount.ID}
		return tx.CreateStorage(ctx, storage)
	})
	if err != nil {
		return nil, err
	}
	return storage, nil
}

// SearchUsers delegates to the Store's weighted n-gram search.
func (svc *Service) SearchUsers(ctx context.Context, query, sitename string) ([]GlobalUser, error) {
	return svc.store.SearchUsers(ctx, query, sitename)
}

// QueryUserSlurm implements query_user_slurm: every SchedulerAssociation
// whose group contains user as member or slurmer.
func (svc *Service) QueryUserSlurm(ctx context.Context, sitename, username string) ([]SchedulerAssociation, error) {
	su, err := svc.store.GetSiteUser(ctx, sitename, username)
	if err != nil {
		return nil, err
	}
	var memberGroupIDs []uuid.UUID
	if err := svc.store.db.WithContext(ctx).Model(&SiteGroupMember{}).
		Where("site_user_id = ?", su.ID).Pluck("site_group_id", &memberGroupIDs).Error; err != nil {
		return nil, fmt.Errorf("store: query user slurm: %w", err)
	}
	var slurmerGroupIDs []uuid.UUID
	if err := svc.store.db.WithContext(ctx).Model(&SiteGroupSlurmer{}).
		Where("site_user_id = ?", su.ID).Pluck("site_group_id", &slurmerGroupIDs).Error; err != nil {
		return nil, fmt.Errorf("store: query user slurm: %w", err)
	}
	ids := dedupeGroupIDs(memberGroupIDs, slurmerGroupIDs)
	return svc.store.ListAssociationsByGroups(ctx, ids)
}

func dedupeGroupIDs(groups ...[]uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, list := range groups {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// QueryUserPartitions implements query_user_partitions: aggregates
// associations into {partition: {group: qos_attrs}}.
func (svc *Service) QueryUserPartitions(ctx context.Context, sitename, username string) (map[string]map[string]SchedulerQOS, error) {
	assocs, err := svc.QueryUserSlurm(ctx, sitename, username)
	if err != nil {
		return nil, err
	}
	out := map[string]map[string]SchedulerQOS{}
	for _, a := range assocs {
		var part SchedulerPartition
		if err := svc.store.db.WithContext(ctx).First(&part, "id = ?", a.PartitionID).Error; err != nil {
			continue
		}
		var group SiteGroup
		if err := svc.store.db.WithContext(ctx).First(&group, "id = ?", a.GroupID).Error; err != nil {
			continue
		}
		var qos SchedulerQOS
		if err := svc.store.db.WithContext(ctx).First(&qos, "id = ?", a.QOSID).Error; err != nil {
			continue
		}
		if out[part.Name] == nil {
			out[part.Name] = map[string]SchedulerQOS{}
		}
		out[part.Name][group.Groupname] = qos
	}
	return out, nil
}
