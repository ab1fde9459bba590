// Package legacy implements the legacy YAML bridge (C4): loading, validating,
// importing, and exporting the "PuppetAccountMap"-shaped YAML tree, grounded
// on original_source/cheeto/puppet.py's YamlRepo/SiteData/CommonData classes.
package legacy

// AccountMap is the top-level shape of a legacy YAML document: a mapping of
// three entity kinds by name, plus free-form metadata. It mirrors
// puppet.py's PuppetAccountMap (user/group/share keyed maps + meta).
type AccountMap struct {
	User  map[string]UserRecord  `yaml:"user,omitempty"`
	Group map[string]GroupRecord `yaml:"group,omitempty"`
	Share map[string]ShareRecord `yaml:"share,omitempty"`
	Meta  map[string]any         `yaml:"meta,omitempty"`
}

// Merge returns a new AccountMap whose user/group/share maps hold the union
// of a's and b's keys. A key present in both takes b's whole record; records
// are not merged field by field. Meta is not carried over.
func (a AccountMap) Merge(b AccountMap) AccountMap {
	out := AccountMap{
		User:  map[string]UserRecord{},
		Group: map[string]GroupRecord{},
		Share: map[string]ShareRecord{},
	}
	for k, v := range a.User {
		out.User[k] = v
	}
	for k, v := range b.User {
		out.User[k] = v
	}
	for k, v := range a.Group {
		out.Group[k] = v
	}
	for k, v := range b.Group {
		out.Group[k] = v
	}
	for k, v := range a.Share {
		out.Share[k] = v
	}
	for k, v := range b.Share {
		out.Share[k] = v
	}
	return out
}

// UserRecord mirrors PuppetUserRecord's fields relevant to import/export.
type UserRecord struct {
	Fullname string   `yaml:"fullname"`
	Email    string   `yaml:"email"`
	UID      int64    `yaml:"uid"`
	GID      int64    `yaml:"gid"`
	Shell    string   `yaml:"shell,omitempty"`
	Password string   `yaml:"password,omitempty"`
	SSHKey   []string `yaml:"ssh_key,omitempty"`
	Groups   []string `yaml:"groups,omitempty"`
	Tag      []string `yaml:"tag,omitempty"` // ssh-tag, root-ssh-tag, sudo-tag
	Storage  *Storage `yaml:"storage,omitempty"`
	Type     string   `yaml:"type,omitempty"`
	Slurm    *UserSlurm `yaml:"slurm,omitempty"`
}

// UserSlurm mirrors the user-level slurm.account list: groups the user is a
// slurmer (not merely a member) of.
type UserSlurm struct {
	Account []string `yaml:"account,omitempty"`
}

// GroupRecord mirrors PuppetGroupRecord.
type GroupRecord struct {
	GID      int64    `yaml:"gid"`
	Sponsors []string `yaml:"sponsors,omitempty"`
	Sudoers  []string `yaml:"sudoers,omitempty"`
	Slurmers []string `yaml:"slurmers,omitempty"`
	Storage  *Storage `yaml:"storage,omitempty"`
	Slurm    *Slurm   `yaml:"slurm,omitempty"`
}

// ShareRecord mirrors PuppetShareRecord: a bare storage-only entity.
type ShareRecord struct {
	Storage Storage `yaml:"storage"`
}

// Storage mirrors PuppetUserStorage/PuppetGroupStorage's autofs/zfs blocks.
type Storage struct {
	Autofs *Autofs `yaml:"autofs,omitempty"`
	ZFS    *ZFS    `yaml:"zfs,omitempty"`
}

type Autofs struct {
	Host    string   `yaml:"host"`
	Path    string   `yaml:"path"`
	Options []string `yaml:"options,omitempty"`
}

type ZFS struct {
	Quota string `yaml:"quota"`
}

// Slurm mirrors the group-level slurm.partitions block.
type Slurm struct {
	Partitions map[string]PartitionEntry `yaml:"partitions,omitempty"`
}

// PartitionEntry either inlines a QOS (QOS != nil) or references an
// existing one by name (QOSName != "").
type PartitionEntry struct {
	QOSName string `yaml:"qos,omitempty"`
	QOS     *QOS   `yaml:"qos_inline,omitempty"`
}

// QOS mirrors SlurmQOS/SlurmQOSTRES's inline-limits shape.
type QOS struct {
	GroupLimits *TRESLimits `yaml:"group_limits,omitempty"`
	UserLimits  *TRESLimits `yaml:"user_limits,omitempty"`
	JobLimits   *TRESLimits `yaml:"job_limits,omitempty"`
	Priority    int64       `yaml:"priority,omitempty"`
	Flags       []string    `yaml:"flags,omitempty"`
}

type TRESLimits struct {
	CPUs *int64  `yaml:"cpus,omitempty"`
	Mem  *string `yaml:"mem,omitempty"`
	GPUs *int64  `yaml:"gpus,omitempty"`
}
