// Package store implements the canonical store (C2) and the CRUD/query
// service (C3) built on top of it.
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base is embedded by every entity. The primary key is a time-ordered
// UUIDv7, generated in BeforeCreate when unset — grounded on the teacher's
// internal/db/models.go base struct, which uses the same scheme for
// B-tree-friendly, chronologically sortable primary keys.
type Base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// SoftDelete extends Base with a nullable DeletedAt, as the teacher does for
// entities that participate in cascades and must be recoverable.
type SoftDelete struct {
	Base
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Sites
// -----------------------------------------------------------------------------

// Site is an administrative cluster/domain.
type Site struct {
	SoftDelete
	Sitename           string `gorm:"uniqueIndex;not null"`
	FQDN               string `gorm:"not null"`
	DefaultHomeSource  *uuid.UUID `gorm:"type:text"`
	GlobalGroups       []SiteGlobalGroup `gorm:"foreignKey:SiteID"`
	GlobalSlurmerGroups []SiteGlobalSlurmerGroup `gorm:"foreignKey:SiteID"`
}

// SiteGlobalGroup records one of a Site's ordered "global group" references
// (§4.2's post-write trigger operates over this list). Role is always
// "member" here; the parallel SiteGlobalSlurmerGroup table covers "slurmer".
type SiteGlobalGroup struct {
	Base
	SiteID      uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_site_global_group"`
	GroupnameAt uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_site_global_group;column:global_group_id"`
	Position    int       `gorm:"not null"`
}

// SiteGlobalSlurmerGroup mirrors SiteGlobalGroup for the "global slurmers"
// reference list.
type SiteGlobalSlurmerGroup struct {
	Base
	SiteID      uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_site_global_slurmer"`
	GroupnameAt uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_site_global_slurmer;column:global_group_id"`
	Position    int       `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

// GlobalUser is the top-level, site-independent identity record.
type GlobalUser struct {
	SoftDelete
	Username      string `gorm:"uniqueIndex;not null"`
	UID           int64  `gorm:"uniqueIndex;not null"`
	GID           int64  `gorm:"not null"`
	Email         string `gorm:"not null"`
	Fullname      string `gorm:"not null"`
	Shell         string `gorm:"not null"`
	HomeDirectory string `gorm:"not null"`
	Type          string `gorm:"not null"` // user|admin|system|class
	Status        string `gorm:"not null;default:active"`
	Password      string `gorm:"default:''"` // hashed, see password.go; empty = no password set
	SSHKeys       StringList `gorm:"type:text"`
	Access        StringList `gorm:"type:text"`
	Comments      StringList `gorm:"type:text"` // append-only
	IAMID         *int64
	IAMHasEntry   *bool
	Colleges      StringList `gorm:"type:text"`
	LDAPSynced    bool `gorm:"not null;default:false"`
	IAMSynced     bool `gorm:"not null;default:false"`
}

// SiteUser is the per-site view of a GlobalUser.
type SiteUser struct {
	SoftDelete
	SiteID       uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_site_username"`
	Sitename     string    `gorm:"not null;uniqueIndex:idx_site_username"`
	GlobalUserID uuid.UUID `gorm:"type:text;not null;index"`
	Username     string    `gorm:"not null"`
	Expiry       *time.Time
	LocalStatus  string     `gorm:"column:status_override"` // "" = defer to parent
	LocalAccess  StringList `gorm:"type:text;column:access_override"`
}

// EffectiveStatus implements §3's derived field: parent.status if
// non-active, else the site-local override.
func (u *SiteUser) EffectiveStatus(parentStatus string) string {
	if parentStatus != "active" {
		return parentStatus
	}
	if u.LocalStatus != "" {
		return u.LocalStatus
	}
	return "active"
}

// EffectiveAccess implements §3's derived field: parent.access ∪ local.
func EffectiveAccess(parentAccess, localAccess []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range append(append([]string{}, parentAccess...), localAccess...) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Groups
// -----------------------------------------------------------------------------

// GlobalGroup is the top-level, site-independent group record.
type GlobalGroup struct {
	SoftDelete
	Groupname string     `gorm:"uniqueIndex;not null"`
	GID       int64      `gorm:"uniqueIndex;not null"`
	Type      string     `gorm:"not null"` // user|access|system|group|admin|class
	OwnerID   *uuid.UUID `gorm:"type:text"`
}

// SiteGroup is the per-site view of a GlobalGroup, carrying role lists and
// embedded scheduler-account limits.
type SiteGroup struct {
	SoftDelete
	SiteID        uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_site_groupname"`
	Sitename      string    `gorm:"not null;uniqueIndex:idx_site_groupname"`
	GlobalGroupID uuid.UUID `gorm:"type:text;not null;index"`
	Groupname     string    `gorm:"not null"`

	MaxUserJobs   *int64
	MaxGroupJobs  *int64
	MaxSubmitJobs *int64
	MaxJobLength  *int64

	LDAPSynced bool `gorm:"not null;default:false"`

	Members  []SiteGroupMember  `gorm:"foreignKey:SiteGroupID"`
	Sponsors []SiteGroupSponsor `gorm:"foreignKey:SiteGroupID"`
	Sudoers  []SiteGroupSudoer  `gorm:"foreignKey:SiteGroupID"`
	Slurmers []SiteGroupSlurmer `gorm:"foreignKey:SiteGroupID"`
}

// Role-list join tables. These are the relational translation of the
// original Mongo schema's embedded arrays-of-documents ($elemMatch /
// $addToSet upsert pattern in database.py) since the rewrite is SQL-backed.

type SiteGroupMember struct {
	Base
	SiteGroupID uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_sgmember"`
	SiteUserID  uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_sgmember"`
}

type SiteGroupSponsor struct {
	Base
	SiteGroupID uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_sgsponsor"`
	SiteUserID  uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_sgsponsor"`
}

type SiteGroupSudoer struct {
	Base
	SiteGroupID uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_sgsudoer"`
	SiteUserID  uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_sgsudoer"`
}

type SiteGroupSlurmer struct {
	Base
	SiteGroupID uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_sgslurmer"`
	SiteUserID  uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_sgslurmer"`
}

// -----------------------------------------------------------------------------
// Storage
// -----------------------------------------------------------------------------

// SourceCollection is a named pool supplying defaults to StorageMountSource
// rows. Kind is "nfs" or "zfs" (tagged union per DESIGN NOTES §9).
type SourceCollection struct {
	SoftDelete
	SiteID      uuid.UUID `gorm:"type:text;not null;index"`
	Name        string    `gorm:"not null"`
	Kind        string    `gorm:"not null"`
	DefaultHost string
	Prefix      string
	Quota       string     // DataQuota, zfs only
	Options     StringList `gorm:"type:text"`
}

// StorageMountSource is a site-scoped NFS (or ZFS, which adds Quota) mount
// source.
type StorageMountSource struct {
	SoftDelete
	SiteID     uuid.UUID `gorm:"type:text;not null;index"`
	Kind       string    `gorm:"not null"` // "nfs" | "zfs"
	Host       string    `gorm:"not null"`
	HostPath   string    `gorm:"not null"`
	Owner      string    `gorm:"not null"`
	Group      string
	Collection *uuid.UUID `gorm:"type:text"`
	Options    StringList `gorm:"type:text"`
	Quota      string     // zfs only
}

// AutomountMap is a per-site NFS-style lazy-mount table.
type AutomountMap struct {
	SoftDelete
	SiteID    uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_automountmap"`
	Tablename string    `gorm:"not null;uniqueIndex:idx_automountmap"`
	Prefix    string    `gorm:"not null"`
	Options   StringList `gorm:"type:text"`
}

// Automount is a mount instance bound to an AutomountMap.
type Automount struct {
	SoftDelete
	MapID         uuid.UUID  `gorm:"type:text;not null;index"`
	Name          string     `gorm:"not null"`
	Options       StringList `gorm:"type:text"`
	AddOptions    StringList `gorm:"type:text"`
	RemoveOptions StringList `gorm:"type:text"`
}

// EffectiveOptions implements §3's Automount option-resolution rule.
func (a *Automount) EffectiveOptions(mapOptions []string) []string {
	if len(a.Options) > 0 {
		return a.Options
	}
	remove := setOf(a.RemoveOptions)
	var out []string
	for _, o := range mapOptions {
		if !remove[o] {
			out = append(out, o)
		}
	}
	out = append(out, a.AddOptions...)
	return out
}

func setOf(vs []string) map[string]bool {
	m := make(map[string]bool, len(vs))
	for _, v := range vs {
		m[v] = true
	}
	return m
}

// Storage binds a name, a mount source, and an automount together.
type Storage struct {
	SoftDelete
	Name      string    `gorm:"not null"`
	SourceID  uuid.UUID `gorm:"type:text;not null;index"`
	MountID   *uuid.UUID `gorm:"type:text"`
	Globus    bool      `gorm:"not null;default:false"`
}

// -----------------------------------------------------------------------------
// Scheduler
// -----------------------------------------------------------------------------

type SchedulerQOS struct {
	SoftDelete
	SiteID   uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_site_qos"`
	Sitename string    `gorm:"not null;uniqueIndex:idx_site_qos"`
	Name     string    `gorm:"not null;uniqueIndex:idx_site_qos"`

	GroupCPUs *int64
	GroupMem  string
	GroupGPUs *int64
	UserCPUs  *int64
	UserMem   string
	UserGPUs  *int64
	JobCPUs   *int64
	JobMem    string
	JobGPUs   *int64

	Priority int64      `gorm:"not null;default:0"`
	Flags    StringList `gorm:"type:text"`
}

// TableName pins the table name explicitly: GORM's default pluralizer
// treats the trailing "QOS" as an ordinary word and its output for
// three-letter all-caps acronyms isn't worth relying on.
func (SchedulerQOS) TableName() string { return "scheduler_qos" }

type SchedulerPartition struct {
	SoftDelete
	SiteID   uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_site_partition"`
	Sitename string    `gorm:"not null;uniqueIndex:idx_site_partition"`
	Name     string    `gorm:"not null;uniqueIndex:idx_site_partition"`
}

type SchedulerAssociation struct {
	SoftDelete
	SiteID      uuid.UUID `gorm:"type:text;not null"`
	Sitename    string    `gorm:"not null"`
	QOSID       uuid.UUID `gorm:"type:text;not null;index"`
	PartitionID uuid.UUID `gorm:"type:text;not null;index"`
	GroupID     uuid.UUID `gorm:"type:text;not null;index"` // SiteGroup
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

type Event struct {
	Base
	HippoID string `gorm:"uniqueIndex;not null"`
	Action  string `gorm:"not null"`
	Status  string `gorm:"not null;default:Pending"`
	Retries int    `gorm:"not null;default:0"`
	Payload string `gorm:"type:text;not null"` // raw JSON
}

// -----------------------------------------------------------------------------
// Search
// -----------------------------------------------------------------------------

// UserSearch holds the two n-gram strings built from username/fullname/email,
// used only for text search with weights favoring prefix matches (§4.3).
type UserSearch struct {
	Base
	GlobalUserID uuid.UUID `gorm:"type:text;not null;uniqueIndex"`
	Prefix       string    `gorm:"type:text;not null"`
	Infix        string    `gorm:"type:text;not null"`
}

// AllModels lists every model for migration/auto-discovery purposes.
func AllModels() []any {
	return []any{
		&Site{}, &SiteGlobalGroup{}, &SiteGlobalSlurmerGroup{},
		&GlobalUser{}, &SiteUser{},
		&GlobalGroup{}, &SiteGroup{},
		&SiteGroupMember{}, &SiteGroupSponsor{}, &SiteGroupSudoer{}, &SiteGroupSlurmer{},
		&SourceCollection{}, &StorageMountSource{}, &AutomountMap{}, &Automount{}, &Storage{},
		&SchedulerQOS{}, &SchedulerPartition{}, &SchedulerAssociation{},
		&Event{},
		&UserSearch{},
	}
}
