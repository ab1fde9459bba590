package store

import (
	"context"
	"testing"

	"github.com/ucdavis-hpc/cheeto/internal/errs"
)

func mustCreateUserAndSite(t *testing.T, svc *Service, sitename, username string) (*Site, *GlobalUser, *SiteUser) {
	t.Helper()
	ctx := context.Background()
	site, err := svc.CreateSite(ctx, sitename, sitename+".example.edu")
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	user, err := svc.CreateUser(ctx, username, username+"@example.edu", 4100000000, username+" Example", NewUserOptions{})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	su, err := svc.AddSiteUser(ctx, sitename, user)
	if err != nil {
		t.Fatalf("AddSiteUser: %v", err)
	}
	return site, user, su
}

func TestCreateSiteRejectsDuplicate(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	if _, err := svc.CreateSite(ctx, "hpc1", "hpc1.example.edu"); err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	if _, err := svc.CreateSite(ctx, "hpc1", "other.example.edu"); !errs.Is(err, errs.Duplicate) {
		t.Errorf("expected errs.Duplicate, got %v", err)
	}
}

func TestCreateUserCreatesPerUserGroupAndIndexesSearch(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "alice", "alice@example.edu", 4100000001, "Alice Example", NewUserOptions{})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Shell != "/usr/bin/bash" {
		t.Errorf("default shell = %q, want /usr/bin/bash", user.Shell)
	}
	if user.Status != "active" {
		t.Errorf("default status = %q, want active", user.Status)
	}

	group, err := svc.Store().GetGlobalGroupByName(ctx, "alice")
	if err != nil {
		t.Fatalf("expected a per-user group named after the username: %v", err)
	}
	if group.OwnerID == nil || *group.OwnerID != user.ID {
		t.Errorf("expected the per-user group's owner to be set to the new user")
	}

	results, err := svc.SearchUsers(ctx, "alice", "")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(results) == 0 {
		t.Errorf("expected CreateUser to index the user for search")
	}
}

func TestCreateUserRejectsInvalidUsername(t *testing.T) {
	svc := NewService(newTestStore(t))
	_, err := svc.CreateUser(context.Background(), "Not Valid!", "x@example.edu", 4100000002, "X", NewUserOptions{})
	if !errs.Is(err, errs.Validation) {
		t.Fatalf("expected errs.Validation, got %v", err)
	}
}

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, "alice", "alice@example.edu", 4100000003, "Alice", NewUserOptions{}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := svc.CreateUser(ctx, "alice", "alice2@example.edu", 4100000004, "Alice Two", NewUserOptions{}); !errs.Is(err, errs.Duplicate) {
		t.Errorf("expected errs.Duplicate, got %v", err)
	}
}

func TestCreateUserWithSitenamesAttachesSiteUser(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	if _, err := svc.CreateSite(ctx, "hpc1", "hpc1.example.edu"); err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	user, err := svc.CreateUser(ctx, "alice", "alice@example.edu", 4100000005, "Alice", NewUserOptions{Sitenames: []string{"hpc1"}})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	su, err := svc.Store().GetSiteUser(ctx, "hpc1", "alice")
	if err != nil {
		t.Fatalf("expected a SiteUser to have been created: %v", err)
	}
	if su.GlobalUserID != user.ID {
		t.Errorf("SiteUser.GlobalUserID = %v, want %v", su.GlobalUserID, user.ID)
	}
}

func TestAddSiteUserRejectsDuplicate(t *testing.T) {
	svc := NewService(newTestStore(t))
	mustCreateUserAndSite(t, svc, "hpc1", "alice")

	user, err := svc.Store().GetGlobalUserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetGlobalUserByUsername: %v", err)
	}
	if _, err := svc.AddSiteUser(context.Background(), "hpc1", user); !errs.Is(err, errs.Duplicate) {
		t.Errorf("expected errs.Duplicate on re-adding the same SiteUser, got %v", err)
	}
}

func TestApplyGlobalGroupTriggersOnNewSiteUser(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	s := svc.Store()

	site, err := svc.CreateSite(ctx, "hpc1", "hpc1.example.edu")
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}

	allStaff, err := svc.CreateGroup(ctx, "allstaff", 500, "group")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	allStaffSiteGroup := &SiteGroup{SiteID: site.ID, Sitename: site.Sitename, GlobalGroupID: allStaff.ID, Groupname: allStaff.Groupname}
	if err := s.CreateSiteGroup(ctx, allStaffSiteGroup); err != nil {
		t.Fatalf("CreateSiteGroup: %v", err)
	}
	if err := s.AddGlobalGroup(ctx, site.ID, allStaff.ID); err != nil {
		t.Fatalf("AddGlobalGroup: %v", err)
	}

	user, err := svc.CreateUser(ctx, "alice", "alice@example.edu", 4100000006, "Alice", NewUserOptions{})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	su, err := svc.AddSiteUser(ctx, "hpc1", user)
	if err != nil {
		t.Fatalf("AddSiteUser: %v", err)
	}

	var count int64
	if err := s.DB().Model(&SiteGroupMember{}).Where("site_group_id = ? AND site_user_id = ?", allStaffSiteGroup.ID, su.ID).Count(&count).Error; err != nil {
		t.Fatalf("counting SiteGroupMember: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the new SiteUser to be added to the site's global group, got count=%d", count)
	}
}

func TestCreateSystemUserAllocatesSystemUIDAndDefaultAccess(t *testing.T) {
	svc := NewService(newTestStore(t))
	user, err := svc.CreateSystemUser(context.Background(), "svcacct", "svcacct@example.edu", "Service Account", NewUserOptions{})
	if err != nil {
		t.Fatalf("CreateSystemUser: %v", err)
	}
	if user.Type != "system" {
		t.Errorf("Type = %q, want system", user.Type)
	}
	if len(user.Access) != 2 {
		t.Errorf("expected default access grants, got %v", user.Access)
	}
}

func TestCreateClassGroupCreatesAccountsWithPasswords(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	sponsor, err := svc.CreateUser(ctx, "prof", "prof@example.edu", 4100000007, "Professor", NewUserOptions{})
	if err != nil {
		t.Fatalf("CreateUser(sponsor): %v", err)
	}

	group, created, err := svc.CreateClassGroup(ctx, "cs101", 3, sponsor.Username, "class.example.edu")
	if err != nil {
		t.Fatalf("CreateClassGroup: %v", err)
	}
	if group.Type != "class" {
		t.Errorf("group Type = %q, want class", group.Type)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 created accounts, got %d", len(created))
	}
	for i, up := range created {
		if up.Username == "" || up.Password == "" {
			t.Errorf("account %d missing username/password: %+v", i, up)
		}
		u, err := svc.Store().GetGlobalUserByUsername(ctx, up.Username)
		if err != nil {
			t.Errorf("created account %q not found: %v", up.Username, err)
			continue
		}
		if u.GID != group.GID {
			t.Errorf("account %q GID = %d, want class group GID %d", up.Username, u.GID, group.GID)
		}
	}
}

func TestCreateClassGroupRejectsUnknownSponsor(t *testing.T) {
	svc := NewService(newTestStore(t))
	if _, _, err := svc.CreateClassGroup(context.Background(), "cs101", 1, "ghost", "class.example.edu"); !errs.Is(err, errs.NotFound) {
		t.Errorf("expected errs.NotFound for an unknown sponsor, got %v", err)
	}
}

func TestCreateGroupFromSponsorDerivesNameAndGID(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	_, sponsor, sponsorSU := mustCreateUserAndSite(t, svc, "hpc1", "alice")

	group, err := svc.CreateGroupFromSponsor(ctx, "hpc1", sponsor)
	if err != nil {
		t.Fatalf("CreateGroupFromSponsor: %v", err)
	}
	if group.Groupname != SponsorGroupName(sponsor.Username) {
		t.Errorf("Groupname = %q, want %q", group.Groupname, SponsorGroupName(sponsor.Username))
	}
	if group.GID != SponsorGroupGID(sponsor.UID) {
		t.Errorf("GID = %d, want %d", group.GID, SponsorGroupGID(sponsor.UID))
	}

	sg, err := svc.Store().GetSiteGroup(ctx, "hpc1", group.Groupname)
	if err != nil {
		t.Fatalf("GetSiteGroup: %v", err)
	}
	foundSponsor := false
	for _, sp := range sg.Sponsors {
		if sp.SiteUserID == sponsorSU.ID {
			foundSponsor = true
		}
	}
	if !foundSponsor {
		t.Errorf("expected the sponsor to be listed as a sponsor of the new group")
	}
}

func TestCreateGroupFromSponsorIsIdempotent(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	_, sponsor, _ := mustCreateUserAndSite(t, svc, "hpc1", "alice")

	g1, err := svc.CreateGroupFromSponsor(ctx, "hpc1", sponsor)
	if err != nil {
		t.Fatalf("CreateGroupFromSponsor (first): %v", err)
	}
	g2, err := svc.CreateGroupFromSponsor(ctx, "hpc1", sponsor)
	if err != nil {
		t.Fatalf("CreateGroupFromSponsor (second): %v", err)
	}
	if g1.ID != g2.ID {
		t.Errorf("expected repeated calls to return the same group, got different IDs")
	}
}

func TestSetUserStatusGlobalVsSiteScope(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	_, user, su := mustCreateUserAndSite(t, svc, "hpc1", "alice")

	if err := svc.SetUserStatus(ctx, user.Username, "disabled", "policy violation", ""); err != nil {
		t.Fatalf("SetUserStatus (global): %v", err)
	}
	got, err := svc.Store().GetGlobalUserByUsername(ctx, user.Username)
	if err != nil {
		t.Fatalf("GetGlobalUserByUsername: %v", err)
	}
	if got.Status != "disabled" {
		t.Errorf("Status = %q, want disabled", got.Status)
	}
	if len(got.Comments) != 1 {
		t.Errorf("expected a timestamped comment to be appended, got %v", got.Comments)
	}

	if err := svc.SetUserStatus(ctx, user.Username, "active", "", "hpc1"); err != nil {
		t.Fatalf("SetUserStatus (site-scoped): %v", err)
	}
	gotSU, err := svc.Store().GetSiteUser(ctx, "hpc1", user.Username)
	if err != nil {
		t.Fatalf("GetSiteUser: %v", err)
	}
	if gotSU.LocalStatus != "active" {
		t.Errorf("LocalStatus = %q, want active", gotSU.LocalStatus)
	}
	_ = su
}

func TestSetUserStatusRejectsInvalidStatus(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	_, user, _ := mustCreateUserAndSite(t, svc, "hpc1", "alice")
	if err := svc.SetUserStatus(ctx, user.Username, "bogus", "", ""); !errs.Is(err, errs.Validation) {
		t.Errorf("expected errs.Validation, got %v", err)
	}
}

func TestSetUserShellAndType(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	_, user, _ := mustCreateUserAndSite(t, svc, "hpc1", "alice")

	if err := svc.SetUserShell(ctx, user.Username, "/bin/zsh"); err != nil {
		t.Fatalf("SetUserShell: %v", err)
	}
	if err := svc.SetUserType(ctx, user.Username, "system"); err != nil {
		t.Fatalf("SetUserType: %v", err)
	}
	got, err := svc.Store().GetGlobalUserByUsername(ctx, user.Username)
	if err != nil {
		t.Fatalf("GetGlobalUserByUsername: %v", err)
	}
	if got.Shell != "/bin/zsh" {
		t.Errorf("Shell = %q, want /bin/zsh", got.Shell)
	}
	if got.Type != "system" {
		t.Errorf("Type = %q, want system", got.Type)
	}
}

func TestSetUserShellRejectsUnknownShell(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	_, user, _ := mustCreateUserAndSite(t, svc, "hpc1", "alice")
	if err := svc.SetUserShell(ctx, user.Username, "/bin/not-a-shell"); !errs.Is(err, errs.Validation) {
		t.Errorf("expected errs.Validation, got %v", err)
	}
}

func TestSetUserPasswordHashesBeforeStorage(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	_, user, _ := mustCreateUserAndSite(t, svc, "hpc1", "alice")

	if err := svc.SetUserPassword(ctx, user.Username, "hunter2"); err != nil {
		t.Fatalf("SetUserPassword: %v", err)
	}
	got, err := svc.Store().GetGlobalUserByUsername(ctx, user.Username)
	if err != nil {
		t.Fatalf("GetGlobalUserByUsername: %v", err)
	}
	if got.Password == "hunter2" || got.Password == "" {
		t.Errorf("expected the password to be hashed before storage, got %q", got.Password)
	}
	if !VerifyPassword("hunter2", got.Password) {
		t.Errorf("expected the stored hash to verify against the original password")
	}
}

func TestAddAndRemoveUserAccessGlobalScope(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	_, user, _ := mustCreateUserAndSite(t, svc, "hpc1", "alice")

	if err := svc.AddUserAccess(ctx, user.Username, "ondemand", ""); err != nil {
		t.Fatalf("AddUserAccess: %v", err)
	}
	if err := svc.AddUserAccess(ctx, user.Username, "ondemand", ""); err != nil {
		t.Fatalf("AddUserAccess (duplicate, should be no-op): %v", err)
	}
	got, err := svc.Store().GetGlobalUserByUsername(ctx, user.Username)
	if err != nil {
		t.Fatalf("GetGlobalUserByUsername: %v", err)
	}
	count := 0
	for _, a := range got.Access {
		if a == "ondemand" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one ondemand entry after duplicate add, got %d in %v", count, got.Access)
	}

	if err := svc.RemoveUserAccess(ctx, user.Username, "ondemand", ""); err != nil {
		t.Fatalf("RemoveUserAccess: %v", err)
	}
	got, err = svc.Store().GetGlobalUserByUsername(ctx, user.Username)
	if err != nil {
		t.Fatalf("GetGlobalUserByUsername: %v", err)
	}
	for _, a := range got.Access {
		if a == "ondemand" {
			t.Errorf("expected ondemand to be removed, still present in %v", got.Access)
		}
	}
}

func TestAddUserAccessRejectsInvalidAccessType(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	_, user, _ := mustCreateUserAndSite(t, svc, "hpc1", "alice")
	if err := svc.AddUserAccess(ctx, user.Username, "not-a-real-access-type", ""); !errs.Is(err, errs.Validation) {
		t.Errorf("expected errs.Validation, got %v", err)
	}
}

func TestGroupMutateRoleAddAndRemove(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	s := svc.Store()
	site, _, su := mustCreateUserAndSite(t, svc, "hpc1", "alice")

	g, err := svc.CreateGroup(ctx, "lab", 600, "group")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	sg := &SiteGroup{SiteID: site.ID, Sitename: site.Sitename, GlobalGroupID: g.ID, Groupname: g.Groupname}
	if err := s.CreateSiteGroup(ctx, sg); err != nil {
		t.Fatalf("CreateSiteGroup: %v", err)
	}

	if err := svc.GroupMutateRole(ctx, "hpc1", []string{"lab"}, []string{"alice"}, RoleSudoer, true); err != nil {
		t.Fatalf("GroupMutateRole (add): %v", err)
	}
	var count int64
	if err := s.DB().Model(&SiteGroupSudoer{}).Where("site_group_id = ? AND site_user_id = ?", sg.ID, su.ID).Count(&count).Error; err != nil {
		t.Fatalf("counting SiteGroupSudoer: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the sudoer role to be added, count=%d", count)
	}

	if err := svc.GroupMutateRole(ctx, "hpc1", []string{"lab"}, []string{"alice"}, RoleSudoer, false); err != nil {
		t.Fatalf("GroupMutateRole (remove): %v", err)
	}
	if err := s.DB().Model(&SiteGroupSudoer{}).Where("site_group_id = ? AND site_user_id = ?", sg.ID, su.ID).Count(&count).Error; err != nil {
		t.Fatalf("counting after remove: %v", err)
	}
	if count != 0 {
		t.Errorf("expected the sudoer role to be removed, count=%d", count)
	}
}

func TestCreateHomeStorageBuildsSourceAutomountAndStorage(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	s := svc.Store()
	site, user, _ := mustCreateUserAndSite(t, svc, "hpc1", "alice")

	collection := &SourceCollection{SiteID: site.ID, Name: "home", Kind: "zfs", DefaultHost: "nfs1", Prefix: "/export/home"}
	if err := s.CreateSourceCollection(ctx, collection); err != nil {
		t.Fatalf("CreateSourceCollection: %v", err)
	}
	homeMap := &AutomountMap{SiteID: site.ID, Tablename: "home", Prefix: "/home"}
	if err := s.CreateAutomountMap(ctx, homeMap); err != nil {
		t.Fatalf("CreateAutomountMap: %v", err)
	}

	storage, err := svc.CreateHomeStorage(ctx, "hpc1", user.Username, nil)
	if err != nil {
		t.Fatalf("CreateHomeStorage: %v", err)
	}
	if storage.Name != user.Username {
		t.Errorf("Storage.Name = %q, want %q", storage.Name, user.Username)
	}

	again, err := svc.CreateHomeStorage(ctx, "hpc1", user.Username, nil)
	if err != nil {
		t.Fatalf("CreateHomeStorage (idempotent call): %v", err)
	}
	if again.ID != storage.ID {
		t.Errorf("expected CreateHomeStorage to be idempotent, got a different Storage row")
	}
}

func TestQueryUserSlurmAggregatesMemberAndSlurmerAssociations(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()
	s := svc.Store()
	site, _, su := mustCreateUserAndSite(t, svc, "hpc1", "alice")

	g, err := svc.CreateGroup(ctx, "lab", 700, "group")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	sg := &SiteGroup{SiteID: site.ID, Sitename: site.Sitename, GlobalGroupID: g.ID, Groupname: g.Groupname}
	if err := s.CreateSiteGroup(ctx, sg); err != nil {
		t.Fatalf("CreateSiteGroup: %v", err)
	}
	if err := s.AddRoleMember(ctx, RoleMember, sg.ID, su.ID); err != nil {
		t.Fatalf("AddRoleMember: %v", err)
	}

	q := &SchedulerQOS{SiteID: site.ID, Sitename: site.Sitename, Name: "normal"}
	if err := s.CreateQOS(ctx, q); err != nil {
		t.Fatalf("CreateQOS: %v", err)
	}
	p := &SchedulerPartition{SiteID: site.ID, Sitename: site.Sitename, Name: "high2"}
	if err := s.CreatePartition(ctx, p); err != nil {
		t.Fatalf("CreatePartition: %v", err)
	}
	assoc := &SchedulerAssociation{SiteID: site.ID, Sitename: site.Sitename, QOSID: q.ID, PartitionID: p.ID, GroupID: sg.ID}
	if err := s.CreateAssociation(ctx, assoc); err != nil {
		t.Fatalf("CreateAssociation: %v", err)
	}

	assocs, err := svc.QueryUserSlurm(ctx, "hpc1", "alice")
	if err != nil {
		t.Fatalf("QueryUserSlurm: %v", err)
	}
	if len(assocs) != 1 {
		t.Fatalf("QueryUserSlurm returned %d associations, want 1", len(assocs))
	}

	partitions, err := svc.QueryUserPartitions(ctx, "hpc1", "alice")
	if err != nil {
		t.Fatalf("QueryUserPartitions: %v", err)
	}
	groups, ok := partitions["high2"]
	if !ok {
		t.Fatalf("expected partition high2 in result, got %v", partitions)
	}
	if _, ok := groups["lab"]; !ok {
		t.Errorf("expected group lab under partition high2, got %v", groups)
	}
}

func TestQueryUserSlurmNoAssociationsReturnsEmpty(t *testing.T) {
	svc := NewService(newTestStore(t))
	mustCreateUserAndSite(t, svc, "hpc1", "alice")
	assocs, err := svc.QueryUserSlurm(context.Background(), "hpc1", "alice")
	if err != nil {
		t.Fatalf("QueryUserSlurm: %v", err)
	}
	if len(assocs) != 0 {
		t.Errorf("expected no associations, got %d", len(assocs))
	}
}
