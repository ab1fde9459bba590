// Package config loads cheeto's profile-keyed YAML configuration, grounded
// on original_source/cheeto/config.py's get_config(path, profile).
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ucdavis-hpc/cheeto/internal/errs"
)

// LDAPConfig mirrors config.py's LDAPConfig: connection and attribute-mapping
// settings for the directory reconciler (C6).
type LDAPConfig struct {
	Servers          []string          `yaml:"servers"`
	SearchBase       string            `yaml:"searchbase"`
	UserStatusGroups map[string]string `yaml:"user_status_groups"`
	UserAccessGroups map[string]string `yaml:"user_access_groups"`
	UserClasses      []string          `yaml:"user_classes"`
	UserAttrs        map[string]string `yaml:"user_attrs"`
	UserBase         string            `yaml:"user_base"`
	LoginDN          string            `yaml:"login_dn"`
	Password         string            `yaml:"password"`
	GroupClasses     []string          `yaml:"group_classes"`
	GroupAttrs       map[string]string `yaml:"group_attrs"`
}

// StoreConfig replaces config.py's MongoConfig: the rewrite's canonical
// store is relational (internal/store), so this names a driver/DSN pair
// instead of a Mongo URI/TLS/credential set.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// SlowQueryMS overrides the GORM logger's slow-query warning threshold,
	// in milliseconds. Zero uses the store package's default; a negative
	// value disables slow-query warnings (useful on a sqlite dev profile
	// where disk contention makes every query look slow).
	SlowQueryMS int `yaml:"slow_query_ms"`
}

// HippoConfig mirrors config.py's HippoConfig for the event processor (C5).
type HippoConfig struct {
	APIKey      string            `yaml:"api_key"`
	BaseURL     string            `yaml:"base_url"`
	SiteAliases map[string]string `yaml:"site_aliases"`
	MaxTries    int               `yaml:"max_tries"`
}

// IAMConfig mirrors config.py's IAMConfig for the identity sync (C8).
type IAMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// SlurmConfig mirrors config.py's SlurmConfig for the scheduler reconciler
// (C7): the attribute-name mappings used when serializing accounts/QOS.
type SlurmConfig struct {
	AccountAttrs map[string]string `yaml:"account_attrs"`
	QOSAttrs     map[string]string `yaml:"qos_attrs"`
	SacctmgrPath string            `yaml:"sacctmgr_path"`
	ScontrolPath string            `yaml:"scontrol_path"`
	DryRun       bool              `yaml:"dry_run"`
}

// SMTPConfig configures the lifecycle-notification email sender (§4.5's
// account-ready/key-updated/new-sponsor/sync-error notifications). Absent
// from the original's config.py (it had no notification layer); added here
// per SPEC_FULL.md's ambient-stack requirement that cheeto still carry
// structured delivery for its own lifecycle events.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	TLS      bool   `yaml:"tls"`
}

// DaemonConfig configures the optional `cheeto daemon run` long-running
// mode (SPEC_FULL.md §5 expansion): per-job cron schedules and the site
// list the directory/scheduler reconcilers iterate over. Absent from the
// original's config.py, which has no daemon concept — cheeto is invoked
// one-shot per spec.md §6, with scheduling left to an external cron.
type DaemonConfig struct {
	HippoSchedule     string   `yaml:"hippo_schedule"`
	DirectorySchedule string   `yaml:"directory_schedule"`
	SlurmSchedule     string   `yaml:"slurm_schedule"`
	IAMSchedule       string   `yaml:"iam_schedule"`
	Sites             []string `yaml:"sites"` // empty = discover from the store at each tick
	IAMBatchSize      int      `yaml:"iam_batch_size"`
}

// rawConfig is the on-disk shape: ldap and store are keyed by profile name,
// the rest are shared across profiles — matching config.py's _Config.
type rawConfig struct {
	LDAP   map[string]LDAPConfig  `yaml:"ldap"`
	Store  map[string]StoreConfig `yaml:"store"`
	Hippo  HippoConfig            `yaml:"hippo"`
	IAM    IAMConfig              `yaml:"ucdiam"`
	Slurm  SlurmConfig            `yaml:"slurm"`
	SMTP   *SMTPConfig            `yaml:"smtp"`
	Daemon DaemonConfig           `yaml:"daemon"`
}

// Config is the resolved, profile-selected configuration handed to every
// component at startup.
type Config struct {
	LDAP   LDAPConfig
	Store  StoreConfig
	Hippo  HippoConfig
	IAM    IAMConfig
	Slurm  SlurmConfig
	SMTP   *SMTPConfig // nil if the smtp: block is absent — notifications are skipped
	Daemon DaemonConfig
}

// DefaultPath returns $XDG_CONFIG_HOME/cheeto/config.yaml (or
// ~/.config/cheeto/config.yaml), matching config.py's DEFAULT_CONFIG_PATH.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "cheeto", "config.yaml")
}

// Load reads and resolves the configuration at path for the given profile,
// matching get_config's profile-selection semantics: ldap and store entries
// are looked up by profile name, falling back to some other store entry if
// the profile is absent from the store map (config.py's
// `mongo.get(profile, mongo[keys[0]])`). The store map is a Go map, so with
// several entries which one the fallback picks is not defined; with a single
// entry it is always that one.
func Load(path, profile string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Configf("reading config %s: %v", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errs.Configf("parsing config %s: %v", path, err)
	}

	ldapCfg, ok := raw.LDAP[profile]
	if !ok {
		return nil, errs.Configf("no ldap profile %q in %s", profile, path)
	}

	storeCfg, ok := raw.Store[profile]
	if !ok {
		for _, v := range raw.Store {
			storeCfg = v
			break
		}
	}

	return &Config{
		LDAP:   ldapCfg,
		Store:  storeCfg,
		Hippo:  raw.Hippo,
		IAM:    raw.IAM,
		Slurm:  raw.Slurm,
		SMTP:   raw.SMTP,
		Daemon: raw.Daemon,
	}, nil
}
