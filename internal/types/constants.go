// Package types implements the type & validation layer (C1): value types,
// enumerated domains, schema-style load/dump discipline, puppet-style YAML
// merge, the forest parser, and TRES parsing. Every other package imports
// types rather than re-deriving these constraints.
package types

import "sort"

// ID allocation ranges (invariant 4). Each range spans 1e8 ids except the lab
// group range, which is explicitly bounded on both ends.
const (
	MinSystemUID   = 4_000_000_000
	MinClassID     = 3_000_000_000
	MinLabGroupID  = 3_900_000_000
	MaxLabGroupID  = 3_910_000_000
	IDRangeWindow  = 100_000_000
	MinPigroupGID  = 100_000_000 // invariant 5: sponsor group gid = MinPigroupGID + sponsor.uid
	UserIDRangeEnd = MinSystemUID + IDRangeWindow
)

// DefaultShell matches the legacy repository's default when none is given.
const DefaultShell = "/usr/bin/bash"

// ENABLED_SHELLS / DISABLED_SHELLS, reproduced from the legacy account
// repository's type definitions.
var EnabledShells = map[string]bool{
	"/bin/sh":       true,
	"/bin/bash":     true,
	"/bin/zsh":      true,
	"/usr/bin/sh":   true,
	"/usr/bin/zsh":  true,
	"/usr/bin/bash": true,
}

var DisabledShells = map[string]bool{
	"/usr/sbin/nologin-account-disabled": true,
	"/bin/false":                         true,
	"/usr/sbin/nologin":                  true,
}

func IsValidShell(s string) bool {
	return EnabledShells[s] || DisabledShells[s]
}

// UserTypes / GroupTypes / UserStatuses / AccessTypes — the enumerated
// domains validated on load per §4.1.
var UserTypes = set("user", "admin", "system", "class")
var GroupTypes = set("user", "access", "system", "group", "admin", "class")
var UserStatuses = set("active", "inactive", "disabled")
var AccessTypes = set("login-ssh", "ondemand", "compute-ssh", "root-ssh", "sudo", "slurm")

var HippoEventActions = set("CreateAccount", "AddAccountToGroup", "UpdateSshKey")
var HippoEventStatuses = set("Pending", "Complete", "Failed", "Canceled")

// SlurmQOSValidFlags is the closed set of QOS flags accepted by the
// scheduler reconciler.
var SlurmQOSValidFlags = []string{
	"DenyOnLimit",
	"EnforceUsageThreshold",
	"NoDecay",
	"NoReserve",
	"OverPartQOS",
	"PartitionMaxNodes",
	"PartitionMinNodes",
	"PartitionTimeLimit",
	"RequiresReservation",
	"UsageFactorSafe",
}

var slurmQOSValidFlagSet = setFromSlice(SlurmQOSValidFlags)

func IsValidQOSFlag(f string) bool { return slurmQOSValidFlagSet[f] }

// MountOpts is the full set of recognized NFS/generic mount options.
var MountOpts = set(
	"async", "atime", "noatime", "auto", "noauto", "defaults", "dev", "nodev",
	"diratime", "nodiratime", "dirsync", "exec", "noexec", "group", "iversion",
	"noiversion", "mand", "nomand", "noacl", "acl", "nouser", "user", "owner",
	"remount", "ro", "rw", "suid", "nosuid", "sync", "user_xattr",
	"nouser_xattr", "relatime", "norelatime", "strictatime", "nostrictatime",
	"lazytime", "nolazytime", "discard", "nodiscard", "errors", "quota",
	"noquota", "usrquota", "grpquota", "context", "fscontext", "defcontext",
	"rootcontext", "prjquota", "xattr", "noxattr",
	"bg", "fg", "soft", "hard", "intr", "nointr", "rsize", "wsize", "timeo",
	"retrans", "sec", "vers", "proto", "port", "mountport", "mountproto",
	"lock", "nolock", "lookupcache", "nocto", "actimeo", "retry", "tcp",
	"udp", "fsc", "nofsc", "local_lock", "noresvport", "resvport",
	"minorversion", "namlen", "clientaddr", "mountaddr", "nconnect",
	"maxcache", "rdma", "fstype", "ac", "noac",
)

func set(vals ...string) map[string]bool { return setFromSlice(vals) }

func setFromSlice(vals []string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

func SortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
