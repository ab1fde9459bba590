package directory

import (
	"testing"

	"github.com/ucdavis-hpc/cheeto/internal/config"
)

func TestUserAttrFallsBackToDefault(t *testing.T) {
	m := &Manager{cfg: config.LDAPConfig{}}
	if got := m.userAttr("username"); got != "uid" {
		t.Errorf("userAttr(username) = %q, want uid", got)
	}
	if got := m.userAttr("unknown-logical-name"); got != "" {
		t.Errorf("userAttr(unknown) = %q, want empty", got)
	}
}

func TestUserAttrPrefersConfigOverride(t *testing.T) {
	m := &Manager{cfg: config.LDAPConfig{UserAttrs: map[string]string{"username": "cheetoUid"}}}
	if got := m.userAttr("username"); got != "cheetoUid" {
		t.Errorf("userAttr(username) = %q, want the configured override", got)
	}
}

func TestGroupAttrFallsBackToDefault(t *testing.T) {
	m := &Manager{cfg: config.LDAPConfig{}}
	if got := m.groupAttr("gid"); got != "gidNumber" {
		t.Errorf("groupAttr(gid) = %q, want gidNumber", got)
	}
}

func TestUserDNEscapesAndUsesConfiguredBase(t *testing.T) {
	m := &Manager{cfg: config.LDAPConfig{UserBase: "ou=People,dc=example,dc=edu"}}
	got := m.userDN("alice")
	want := "uid=alice,ou=People,dc=example,dc=edu"
	if got != want {
		t.Errorf("userDN = %q, want %q", got, want)
	}
}

func TestGroupDNIncludesSitename(t *testing.T) {
	m := &Manager{cfg: config.LDAPConfig{SearchBase: "dc=example,dc=edu"}}
	got := m.groupDN("lab", "hpc1")
	want := "cn=lab,ou=Groups,ou=hpc1,dc=example,dc=edu"
	if got != want {
		t.Errorf("groupDN = %q, want %q", got, want)
	}
}

func TestAutomountDNIncludesKindAndSitename(t *testing.T) {
	m := &Manager{cfg: config.LDAPConfig{SearchBase: "dc=example,dc=edu"}}
	got := m.AutomountDN("alice", "home", "hpc1")
	want := "cn=alice,ou=auto.home,ou=hpc1,dc=example,dc=edu"
	if got != want {
		t.Errorf("AutomountDN = %q, want %q", got, want)
	}
}
