// Package directory implements the directory reconciler (C6): it pushes the
// canonical store's users, groups, and automounts into an LDAP directory,
// grounded on original_source/cheeto/ldap.py's LDAPManager and
// database/ldap.py's ldap_sync family.
package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/ucdavis-hpc/cheeto/internal/config"
	"github.com/ucdavis-hpc/cheeto/internal/errs"
)

// defaultUserAttrs/defaultGroupAttrs give every logical field a concrete
// LDAP attribute name, overridable per-deployment via
// LDAPConfig.UserAttrs/GroupAttrs (ldap.py leaves this to the schema
// ObjectDef; we make it config-driven instead of hardcoding an objectClass).
var defaultUserAttrs = map[string]string{
	"username": "uid",
	"email":    "mail",
	"uid":      "uidNumber",
	"gid":      "gidNumber",
	"shell":    "loginShell",
	"home":     "homeDirectory",
	"fullname": "cn",
	"surname":  "sn",
	"password": "userPassword",
	"sshKeys":  "sshPublicKey",
}

var defaultGroupAttrs = map[string]string{
	"gid":     "gidNumber",
	"members": "memberUid",
}

// Manager wraps a bound LDAP connection and the attribute/DN conventions
// used to address cheeto's user, group, and automount entries.
type Manager struct {
	conn *ldap.Conn
	cfg  config.LDAPConfig
}

// Dial connects and binds to the first reachable configured server,
// mirroring LDAPManager.__init__'s ServerPool(FIRST) fallback.
func Dial(cfg config.LDAPConfig) (*Manager, error) {
	var lastErr error
	for _, uri := range cfg.Servers {
		conn, err := ldap.DialURL(uri)
		if err != nil {
			lastErr = err
			continue
		}
		if cfg.LoginDN != "" {
			if err := conn.Bind(cfg.LoginDN, cfg.Password); err != nil {
				conn.Close()
				lastErr = err
				continue
			}
		}
		return &Manager{conn: conn, cfg: cfg}, nil
	}
	return nil, errs.Externalf("ldap", lastErr, "could not bind to any of %d configured servers", len(cfg.Servers))
}

func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}

func (m *Manager) userAttr(logical string) string {
	if a, ok := m.cfg.UserAttrs[logical]; ok {
		return a
	}
	return defaultUserAttrs[logical]
}

func (m *Manager) groupAttr(logical string) string {
	if a, ok := m.cfg.GroupAttrs[logical]; ok {
		return a
	}
	return defaultGroupAttrs[logical]
}

func (m *Manager) userDN(username string) string {
	return fmt.Sprintf("%s=%s,%s", m.userAttr("username"), ldap.EscapeFilter(username), m.cfg.UserBase)
}

func (m *Manager) groupDN(groupname, sitename string) string {
	return fmt.Sprintf("cn=%s,ou=Groups,ou=%s,%s", ldap.EscapeFilter(groupname), sitename, m.cfg.SearchBase)
}

// AutomountDN names the per-(name,kind,sitename) automount entry rewritten
// in §4.6 step 4 ("home" or "group" kind).
func (m *Manager) AutomountDN(name, kind, sitename string) string {
	return fmt.Sprintf("cn=%s,ou=auto.%s,ou=%s,%s", ldap.EscapeFilter(name), kind, sitename, m.cfg.SearchBase)
}

func (m *Manager) entryExists(ctx context.Context, dn string) (bool, error) {
	req := ldap.NewSearchRequest(dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 0, false,
		"(objectClass=*)", []string{"dn"}, nil)
	_, err := m.conn.SearchWithPaging(req, 1)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return false, nil
		}
		return false, errs.Externalf("ldap", err, "searching %s", dn)
	}
	return true, nil
}

// UserExists implements LDAPManager.user_exists.
func (m *Manager) UserExists(ctx context.Context, username string) (bool, error) {
	return m.entryExists(ctx, m.userDN(username))
}

// GroupExists implements LDAPManager.group_exists.
func (m *Manager) GroupExists(ctx context.Context, groupname, sitename string) (bool, error) {
	return m.entryExists(ctx, m.groupDN(groupname, sitename))
}

// UserAttrs carries the logical attribute set for AddUser/UpdateUser,
// mirroring ldap_sync_globaluser's `data` dict.
type UserAttrs struct {
	Email         string
	UID           int64
	GID           int64
	Shell         string
	HomeDirectory string
	Fullname      string
	Surname       string
	Password      string // already "{CRYPT}..."-prefixed, empty = no password attr
	SSHKeys       []string
}

// AddUser implements LDAPManager.add_user.
func (m *Manager) AddUser(ctx context.Context, username string, a UserAttrs) error {
	req := ldap.NewAddRequest(m.userDN(username), nil)
	req.Attribute("objectClass", []string{"inetOrgPerson", "posixAccount", "ldapPublicKey", "top"})
	req.Attribute(m.userAttr("username"), []string{username})
	req.Attribute(m.userAttr("email"), []string{a.Email})
	req.Attribute(m.userAttr("uid"), []string{fmt.Sprintf("%d", a.UID)})
	req.Attribute(m.userAttr("gid"), []string{fmt.Sprintf("%d", a.GID)})
	req.Attribute(m.userAttr("shell"), []string{a.Shell})
	req.Attribute(m.userAttr("home"), []string{a.HomeDirectory})
	req.Attribute(m.userAttr("fullname"), []string{a.Fullname})
	req.Attribute(m.userAttr("surname"), []string{a.Surname})
	if a.Password != "" {
		req.Attribute(m.userAttr("password"), []string{a.Password})
	}
	if len(a.SSHKeys) > 0 {
		req.Attribute(m.userAttr("sshKeys"), a.SSHKeys)
	}
	if err := m.conn.Add(req); err != nil {
		return errs.Externalf("ldap", err, "add user %s", username)
	}
	return nil
}

// UpdateUser implements LDAPManager.update_user: a targeted attribute
// replace, only touching the attrs passed.
func (m *Manager) UpdateUser(ctx context.Context, username string, a UserAttrs, fields ...string) error {
	req := ldap.NewModifyRequest(m.userDN(username), nil)
	for _, field := range fields {
		switch field {
		case "email":
			req.Replace(m.userAttr("email"), []string{a.Email})
		case "uid":
			req.Replace(m.userAttr("uid"), []string{fmt.Sprintf("%d", a.UID)})
		case "gid":
			req.Replace(m.userAttr("gid"), []string{fmt.Sprintf("%d", a.GID)})
		case "shell":
			req.Replace(m.userAttr("shell"), []string{a.Shell})
		case "home":
			req.Replace(m.userAttr("home"), []string{a.HomeDirectory})
		case "fullname":
			req.Replace(m.userAttr("fullname"), []string{a.Fullname})
		case "surname":
			req.Replace(m.userAttr("surname"), []string{a.Surname})
		case "password":
			req.Replace(m.userAttr("password"), []string{a.Password})
		case "sshKeys":
			req.Replace(m.userAttr("sshKeys"), a.SSHKeys)
		}
	}
	if err := m.conn.Modify(req); err != nil {
		return errs.Externalf("ldap", err, "update user %s", username)
	}
	return nil
}

// DeleteUser implements LDAPManager.delete_user (used on force-sync).
func (m *Manager) DeleteUser(ctx context.Context, username string) error {
	return m.DeleteDN(ctx, m.userDN(username))
}

// DeleteDN implements LDAPManager.delete_dn, tolerating an already-absent
// entry (the force-sync and automount-rewrite paths both delete-then-add).
func (m *Manager) DeleteDN(ctx context.Context, dn string) error {
	if err := m.conn.Del(ldap.NewDelRequest(dn, nil)); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil
		}
		return errs.Externalf("ldap", err, "delete %s", dn)
	}
	return nil
}

// AddGroup implements LDAPManager.add_group.
func (m *Manager) AddGroup(ctx context.Context, groupname, sitename string, gid int64, members []string) error {
	req := ldap.NewAddRequest(m.groupDN(groupname, sitename), nil)
	req.Attribute("objectClass", []string{"posixGroup", "top"})
	req.Attribute("cn", []string{groupname})
	req.Attribute(m.groupAttr("gid"), []string{fmt.Sprintf("%d", gid)})
	if len(members) > 0 {
		req.Attribute(m.groupAttr("members"), members)
	}
	if err := m.conn.Add(req); err != nil {
		return errs.Externalf("ldap", err, "add group %s", groupname)
	}
	return nil
}

// QueryGroupMembers implements LDAPManager.query_group: the current
// memberUid set for a group.
func (m *Manager) QueryGroupMembers(ctx context.Context, groupname, sitename string) (map[string]bool, error) {
	dn := m.groupDN(groupname, sitename)
	req := ldap.NewSearchRequest(dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=posixGroup)", []string{m.groupAttr("members")}, nil)
	res, err := m.conn.Search(req)
	if err != nil {
		return nil, errs.Externalf("ldap", err, "query group %s", groupname)
	}
	members := map[string]bool{}
	for _, entry := range res.Entries {
		for _, v := range entry.GetAttributeValues(m.groupAttr("members")) {
			members[v] = true
		}
	}
	return members, nil
}

// AddUsersToGroup/RemoveUsersFromGroup implement LDAPManager's
// add_user_to_group/remove_users_from_group: targeted memberUid add/delete.
func (m *Manager) AddUsersToGroup(ctx context.Context, usernames []string, groupname, sitename string) error {
	if len(usernames) == 0 {
		return nil
	}
	req := ldap.NewModifyRequest(m.groupDN(groupname, sitename), nil)
	req.Add(m.groupAttr("members"), usernames)
	if err := m.conn.Modify(req); err != nil {
		return errs.Externalf("ldap", err, "add members to group %s", groupname)
	}
	return nil
}

func (m *Manager) RemoveUsersFromGroup(ctx context.Context, usernames []string, groupname, sitename string) error {
	if len(usernames) == 0 {
		return nil
	}
	req := ldap.NewModifyRequest(m.groupDN(groupname, sitename), nil)
	req.Delete(m.groupAttr("members"), usernames)
	if err := m.conn.Modify(req); err != nil {
		return errs.Externalf("ldap", err, "remove members from group %s", groupname)
	}
	return nil
}

// QueryUserMemberships implements LDAPManager.query_user_memberships: every
// group DN's cn that currently lists username as a memberUid.
func (m *Manager) QueryUserMemberships(ctx context.Context, username, sitename string) (map[string]bool, error) {
	base := fmt.Sprintf("ou=Groups,ou=%s,%s", sitename, m.cfg.SearchBase)
	filter := fmt.Sprintf("(&(objectClass=posixGroup)(%s=%s))", m.groupAttr("members"), ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"cn"}, nil)
	res, err := m.conn.Search(req)
	if err != nil {
		return nil, errs.Externalf("ldap", err, "query memberships for %s", username)
	}
	out := map[string]bool{}
	for _, entry := range res.Entries {
		out[entry.GetAttributeValue("cn")] = true
	}
	return out, nil
}

// AddHomeAutomount/AddGroupAutomount implement LDAPManager's
// add_home_automount/add_group_automount: an automountMap entry carrying
// host:path and mount options, rewritten wholesale each sync pass.
func (m *Manager) AddHomeAutomount(ctx context.Context, owner, sitename, host, hostPath string, options []string) error {
	return m.addAutomount(ctx, owner, "home", sitename, host, hostPath, options)
}

func (m *Manager) AddGroupAutomount(ctx context.Context, name, sitename, host, hostPath string, options []string) error {
	return m.addAutomount(ctx, name, "group", sitename, host, hostPath, options)
}

func (m *Manager) addAutomount(ctx context.Context, name, kind, sitename, host, hostPath string, options []string) error {
	info := fmt.Sprintf("-%s %s:%s", strings.Join(options, ","), host, hostPath)
	req := ldap.NewAddRequest(m.AutomountDN(name, kind, sitename), nil)
	req.Attribute("objectClass", []string{"automount", "top"})
	req.Attribute("cn", []string{name})
	req.Attribute("automountInformation", []string{info})
	if err := m.conn.Add(req); err != nil {
		return errs.Externalf("ldap", err, "add %s automount %s", kind, name)
	}
	return nil
}
