package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ucdavis-hpc/cheeto/internal/errs"
)

// ListOptions paginates List-style queries, the same shape the teacher uses
// throughout internal/repositories.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store is the canonical store's data-access layer (C2): a thin,
// transaction-aware wrapper over *gorm.DB exposing one method per entity
// operation, grounded on the teacher's repository-per-entity pattern
// (internal/repository/user.go, internal/repositories/agent.go) but unified
// into a single type since cheeto's entities are densely cross-referential
// (SiteUser/SiteGroup role lists, Storage/Automount bindings) and most
// operations touch several of them inside one transaction.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log.Named("store")}
}

// DB exposes the underlying *gorm.DB for callers (the CRUD service) that
// need to open their own transactional envelope spanning several Store
// calls.
func (s *Store) DB() *gorm.DB { return s.db }

// WithTx returns a Store bound to the given transaction handle, used inside
// db.Transaction(func(tx *gorm.DB) error { ... }) blocks.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, log: s.log}
}

// Transaction runs fn inside a transactional envelope, the shape every
// compound C3 operation (user+group creation, home-storage creation,
// sponsor-group creation, event handling) uses per §5's "transactional
// envelopes around compound operations" requirement.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.WithTx(tx))
	})
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// -----------------------------------------------------------------------------
// Site
// -----------------------------------------------------------------------------

func (s *Store) CreateSite(ctx context.Context, site *Site) error {
	if err := s.db.WithContext(ctx).Create(site).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.Duplicatef("Site", "sitename %q already exists", site.Sitename)
		}
		return fmt.Errorf("store: create site: %w", err)
	}
	return nil
}

func (s *Store) GetSiteByName(ctx context.Context, sitename string) (*Site, error) {
	var site Site
	err := s.db.WithContext(ctx).Where("sitename = ?", sitename).First(&site).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("Site", "sitename=%s", sitename)
		}
		return nil, fmt.Errorf("store: get site: %w", err)
	}
	return &site, nil
}

// AddGlobalGroup appends groupID to siteID's ordered global-group reference
// list (§4.2's "global_groups" list the SiteUser-insert trigger walks).
// Position is the next free slot so existing order is preserved.
func (s *Store) AddGlobalGroup(ctx context.Context, siteID, groupID uuid.UUID) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&SiteGlobalGroup{}).Where("site_id = ?", siteID).Count(&count).Error; err != nil {
		return fmt.Errorf("store: count global groups: %w", err)
	}
	entry := SiteGlobalGroup{SiteID: siteID, GroupnameAt: groupID, Position: int(count)}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("store: add global group: %w", err)
	}
	return nil
}

// AddGlobalSlurmerGroup mirrors AddGlobalGroup for the parallel
// "global_slurmers" reference list.
func (s *Store) AddGlobalSlurmerGroup(ctx context.Context, siteID, groupID uuid.UUID) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&SiteGlobalSlurmerGroup{}).Where("site_id = ?", siteID).Count(&count).Error; err != nil {
		return fmt.Errorf("store: count global slurmer groups: %w", err)
	}
	entry := SiteGlobalSlurmerGroup{SiteID: siteID, GroupnameAt: groupID, Position: int(count)}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("store: add global slurmer group: %w", err)
	}
	return nil
}

func (s *Store) ListSites(ctx context.Context) ([]Site, error) {
	var sites []Site
	if err := s.db.WithContext(ctx).Order("sitename ASC").Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("store: list sites: %w", err)
	}
	return sites, nil
}

func (s *Store) UpdateSite(ctx context.Context, site *Site) error {
	if err := s.db.WithContext(ctx).Save(site).Error; err != nil {
		return fmt.Errorf("store: update site: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// GlobalUser / SiteUser
// -----------------------------------------------------------------------------

func (s *Store) CreateGlobalUser(ctx context.Context, u *GlobalUser) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.Duplicatef("GlobalUser", "username %q or uid %d already exists", u.Username, u.UID)
		}
		return fmt.Errorf("store: create global user: %w", err)
	}
	return nil
}

func (s *Store) GetGlobalUserByUsername(ctx context.Context, username string) (*GlobalUser, error) {
	var u GlobalUser
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("GlobalUser", "username=%s", username)
		}
		return nil, fmt.Errorf("store: get global user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetGlobalUserByID(ctx context.Context, id uuid.UUID) (*GlobalUser, error) {
	var u GlobalUser
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("GlobalUser", "id=%s", id)
		}
		return nil, fmt.Errorf("store: get global user: %w", err)
	}
	return &u, nil
}

// UpdateGlobalUser saves all fields and clears ldap_synced (invariant 7)
// unless the caller is specifically updating sync flags (see
// UpdateGlobalUserSyncFlags).
func (s *Store) UpdateGlobalUser(ctx context.Context, u *GlobalUser) error {
	u.LDAPSynced = false
	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		return fmt.Errorf("store: update global user: %w", err)
	}
	return nil
}

func (s *Store) UpdateGlobalUserSyncFlags(ctx context.Context, id uuid.UUID, ldapSynced, iamSynced *bool) error {
	updates := map[string]any{}
	if ldapSynced != nil {
		updates["ldap_synced"] = *ldapSynced
	}
	if iamSynced != nil {
		updates["iam_synced"] = *iamSynced
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&GlobalUser{}).Where("id = ?", id).Updates(updates).Error
}

// ListGlobalUsersPendingIAMSync implements §4.8's selection predicate:
// iam_has_entry != false and iam_synced = false, oldest-created first, up to
// limit.
func (s *Store) ListGlobalUsersPendingIAMSync(ctx context.Context, limit int) ([]GlobalUser, error) {
	var users []GlobalUser
	q := s.db.WithContext(ctx).
		Where("iam_synced = ?", false).
		Where("iam_has_entry IS NULL OR iam_has_entry = ?", true).
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("store: list users pending iam sync: %w", err)
	}
	return users, nil
}

// SetGlobalUserIAMHasEntry records that no IAM record was found for a user
// (§4.8 step 1): it neither touches iam_synced nor any other field, so a
// subsequent manual iam_id assignment can still trigger a resync.
func (s *Store) SetGlobalUserIAMHasEntry(ctx context.Context, id uuid.UUID, hasEntry bool) error {
	return s.db.WithContext(ctx).Model(&GlobalUser{}).Where("id = ?", id).
		Update("iam_has_entry", hasEntry).Error
}

// ApplyIAMSync implements §4.8 step 3: persist the resolved iam_id (if
// newly assigned), fullname, and colleges, and mark iam_has_entry/iam_synced
// true, all in one statement so the update is atomic per the invariant that
// "all updates for one user are atomic".
func (s *Store) ApplyIAMSync(ctx context.Context, id uuid.UUID, iamID *int64, fullname string, colleges []string) error {
	updates := map[string]any{
		"fullname":      fullname,
		"colleges":      StringList(colleges),
		"iam_has_entry": true,
		"iam_synced":    true,
	}
	if iamID != nil {
		updates["iam_id"] = *iamID
	}
	if err := s.db.WithContext(ctx).Model(&GlobalUser{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("store: apply iam sync: %w", err)
	}
	return nil
}

func (s *Store) DeleteGlobalUser(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var siteUsers []SiteUser
		if err := tx.Where("global_user_id = ?", id).Find(&siteUsers).Error; err != nil {
			return fmt.Errorf("store: delete global user: listing site users: %w", err)
		}
		for _, su := range siteUsers {
			if err := cascadeDeleteSiteUser(tx, &su); err != nil {
				return err
			}
		}
		if err := tx.Delete(&GlobalUser{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("store: delete global user: %w", err)
		}
		return nil
	})
}

func (s *Store) CreateSiteUser(ctx context.Context, su *SiteUser) error {
	if err := s.db.WithContext(ctx).Create(su).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.Duplicatef("SiteUser", "site=%s username=%s", su.Sitename, su.Username)
		}
		return fmt.Errorf("store: create site user: %w", err)
	}
	return nil
}

func (s *Store) GetSiteUser(ctx context.Context, sitename, username string) (*SiteUser, error) {
	var su SiteUser
	err := s.db.WithContext(ctx).Where("sitename = ? AND username = ?", sitename, username).First(&su).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("SiteUser", "site=%s username=%s", sitename, username)
		}
		return nil, fmt.Errorf("store: get site user: %w", err)
	}
	return &su, nil
}

func (s *Store) ListSiteUsersBySite(ctx context.Context, sitename string) ([]SiteUser, error) {
	var out []SiteUser
	err := s.db.WithContext(ctx).Where("sitename = ?", sitename).Order("username ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("store: list site users: %w", err)
	}
	return out, nil
}

func (s *Store) ListSiteUsersByGlobalUser(ctx context.Context, globalUserID uuid.UUID) ([]SiteUser, error) {
	var out []SiteUser
	err := s.db.WithContext(ctx).Where("global_user_id = ?", globalUserID).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("store: list site users by global user: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateSiteUser(ctx context.Context, su *SiteUser) error {
	if err := s.db.WithContext(ctx).Save(su).Error; err != nil {
		return fmt.Errorf("store: update site user: %w", err)
	}
	return nil
}

// cascadeDeleteSiteUser implements the "SiteUser -> pull from all SiteGroup
// role lists" cascade from §4.2, run inside the caller's transaction.
func cascadeDeleteSiteUser(tx *gorm.DB, su *SiteUser) error {
	for _, tbl := range []any{&SiteGroupMember{}, &SiteGroupSponsor{}, &SiteGroupSudoer{}, &SiteGroupSlurmer{}} {
		if err := tx.Where("site_user_id = ?", su.ID).Delete(tbl).Error; err != nil {
			return fmt.Errorf("store: cascade delete site user role memberships: %w", err)
		}
	}
	if err := tx.Delete(&SiteUser{}, "id = ?", su.ID).Error; err != nil {
		return fmt.Errorf("store: cascade delete site user: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// GlobalGroup / SiteGroup
// -----------------------------------------------------------------------------

func (s *Store) CreateGlobalGroup(ctx context.Context, g *GlobalGroup) error {
	if err := s.db.WithContext(ctx).Create(g).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.Duplicatef("GlobalGroup", "groupname %q or gid %d already exists", g.Groupname, g.GID)
		}
		return fmt.Errorf("store: create global group: %w", err)
	}
	return nil
}

func (s *Store) GetGlobalGroupByName(ctx context.Context, groupname string) (*GlobalGroup, error) {
	var g GlobalGroup
	err := s.db.WithContext(ctx).Where("groupname = ?", groupname).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("GlobalGroup", "groupname=%s", groupname)
		}
		return nil, fmt.Errorf("store: get global group: %w", err)
	}
	return &g, nil
}

func (s *Store) CreateSiteGroup(ctx context.Context, sg *SiteGroup) error {
	if err := s.db.WithContext(ctx).Create(sg).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.Duplicatef("SiteGroup", "site=%s groupname=%s", sg.Sitename, sg.Groupname)
		}
		return fmt.Errorf("store: create site group: %w", err)
	}
	return nil
}

func (s *Store) GetSiteGroup(ctx context.Context, sitename, groupname string) (*SiteGroup, error) {
	var sg SiteGroup
	err := s.db.WithContext(ctx).
		Preload("Members").Preload("Sponsors").Preload("Sudoers").Preload("Slurmers").
		Where("sitename = ? AND groupname = ?", sitename, groupname).First(&sg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("SiteGroup", "site=%s groupname=%s", sitename, groupname)
		}
		return nil, fmt.Errorf("store: get site group: %w", err)
	}
	return &sg, nil
}

func (s *Store) UpdateSiteGroup(ctx context.Context, sg *SiteGroup) error {
	if err := s.db.WithContext(ctx).Save(sg).Error; err != nil {
		return fmt.Errorf("store: update site group: %w", err)
	}
	return nil
}

// ListSiteGroupsBySite returns every SiteGroup at a site with its role
// lists preloaded, for the directory reconciler's group-sync pass (§4.6
// step 2).
func (s *Store) ListSiteGroupsBySite(ctx context.Context, sitename string) ([]SiteGroup, error) {
	var out []SiteGroup
	err := s.db.WithContext(ctx).
		Preload("Members").Preload("Sponsors").Preload("Sudoers").Preload("Slurmers").
		Where("sitename = ?", sitename).Order("groupname ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("store: list site groups: %w", err)
	}
	return out, nil
}

// RoleTable names the four SiteGroup role lists for AddRoleMember/
// RemoveRoleMember (§4.3's group_add/remove_user_element).
type RoleTable string

const (
	RoleMember  RoleTable = "members"
	RoleSponsor RoleTable = "sponsors"
	RoleSudoer  RoleTable = "sudoers"
	RoleSlurmer RoleTable = "slurmers"
)

func (s *Store) AddRoleMember(ctx context.Context, role RoleTable, siteGroupID, siteUserID uuid.UUID) error {
	row, err := roleRow(role, siteGroupID, siteUserID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).
		Where(roleWhere(role), siteGroupID, siteUserID).
		FirstOrCreate(row).Error; err != nil {
		return fmt.Errorf("store: add role member: %w", err)
	}
	return nil
}

func (s *Store) RemoveRoleMember(ctx context.Context, role RoleTable, siteGroupID, siteUserID uuid.UUID) error {
	row, err := roleRow(role, siteGroupID, siteUserID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).
		Where(roleWhere(role), siteGroupID, siteUserID).
		Delete(row).Error; err != nil {
		return fmt.Errorf("store: remove role member: %w", err)
	}
	return nil
}

func roleWhere(role RoleTable) string {
	switch role {
	case RoleMember, RoleSponsor, RoleSudoer, RoleSlurmer:
		return "site_group_id = ? AND site_user_id = ?"
	default:
		return "1 = 0"
	}
}

func roleRow(role RoleTable, siteGroupID, siteUserID uuid.UUID) (any, error) {
	switch role {
	case RoleMember:
		return &SiteGroupMember{SiteGroupID: siteGroupID, SiteUserID: siteUserID}, nil
	case RoleSponsor:
		return &SiteGroupSponsor{SiteGroupID: siteGroupID, SiteUserID: siteUserID}, nil
	case RoleSudoer:
		return &SiteGroupSudoer{SiteGroupID: siteGroupID, SiteUserID: siteUserID}, nil
	case RoleSlurmer:
		return &SiteGroupSlurmer{SiteGroupID: siteGroupID, SiteUserID: siteUserID}, nil
	default:
		return nil, errs.Validationf("role", "unknown role %q", role)
	}
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// UpsertEvent inserts the event if its hippo_id is new, otherwise returns the
// existing row unchanged (C5 step 2: "upsert a persistent Event row").
func (s *Store) UpsertEvent(ctx context.Context, hippoID, action, payload string) (*Event, error) {
	var ev Event
	err := s.db.WithContext(ctx).Where("hippo_id = ?", hippoID).First(&ev).Error
	if err == nil {
		return &ev, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: upsert event: %w", err)
	}
	ev = Event{HippoID: hippoID, Action: action, Status: "Pending", Payload: payload}
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return nil, fmt.Errorf("store: upsert event: create: %w", err)
	}
	return &ev, nil
}

func (s *Store) UpdateEvent(ctx context.Context, ev *Event) error {
	if err := s.db.WithContext(ctx).Save(ev).Error; err != nil {
		return fmt.Errorf("store: update event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, id, action string) ([]Event, error) {
	q := s.db.WithContext(ctx).Model(&Event{})
	if id != "" {
		q = q.Where("hippo_id = ?", id)
	}
	if action != "" {
		q = q.Where("action = ?", action)
	}
	var out []Event
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	return out, nil
}
