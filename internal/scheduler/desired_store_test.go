package scheduler

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ucdavis-hpc/cheeto/internal/store"
)

func newTestSchedulerService(t *testing.T) *store.Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.Open(store.Config{Driver: "sqlite", DSN: dsn, Logger: zap.NewNop(), LogLevel: gormlogger.Silent})
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	return store.NewService(store.New(db, zap.NewNop()))
}

// seedSchedulerFixture builds one site with a group, one member, one
// partition, and one QOS-backed association, matching the shape
// BuildDesiredFromStore expects to walk.
func seedSchedulerFixture(t *testing.T, svc *store.Service) (sitename, groupname, username, partition, qosname string) {
	t.Helper()
	ctx := context.Background()
	sitename, groupname, username, partition, qosname = "hpc1", "labgrp", "alice", "high2", "labgrp-high2-qos"

	site, err := svc.CreateSite(ctx, sitename, "hpc1.example.edu")
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	u, err := svc.CreateUser(ctx, username, "alice@example.edu", 4100000001, "Alice", store.NewUserOptions{Sitenames: []string{sitename}})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	su, err := svc.Store().GetSiteUser(ctx, sitename, u.Username)
	if err != nil {
		t.Fatalf("GetSiteUser: %v", err)
	}

	gg, err := svc.CreateGroup(ctx, groupname, 3900000001, "group")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	sg := &store.SiteGroup{SiteID: site.ID, Sitename: site.Sitename, GlobalGroupID: gg.ID, Groupname: gg.Groupname}
	if err := svc.Store().CreateSiteGroup(ctx, sg); err != nil {
		t.Fatalf("CreateSiteGroup: %v", err)
	}
	if err := svc.Store().DB().WithContext(ctx).Create(&store.SiteGroupMember{SiteGroupID: sg.ID, SiteUserID: su.ID}).Error; err != nil {
		t.Fatalf("creating SiteGroupMember: %v", err)
	}

	q := &store.SchedulerQOS{SiteID: site.ID, Sitename: site.Sitename, Name: qosname}
	if err := svc.Store().CreateQOS(ctx, q); err != nil {
		t.Fatalf("CreateQOS: %v", err)
	}
	p := &store.SchedulerPartition{SiteID: site.ID, Sitename: site.Sitename, Name: partition}
	if err := svc.Store().CreatePartition(ctx, p); err != nil {
		t.Fatalf("CreatePartition: %v", err)
	}
	assoc := &store.SchedulerAssociation{SiteID: site.ID, Sitename: site.Sitename, QOSID: q.ID, PartitionID: p.ID, GroupID: sg.ID}
	if err := svc.Store().CreateAssociation(ctx, assoc); err != nil {
		t.Fatalf("CreateAssociation: %v", err)
	}
	return sitename, groupname, username, partition, qosname
}

func TestBuildDesiredFromStoreProducesAccountQOSAndUserEntries(t *testing.T) {
	svc := newTestSchedulerService(t)
	sitename, groupname, username, partition, qosname := seedSchedulerFixture(t, svc)

	desired, err := BuildDesiredFromStore(context.Background(), svc, sitename)
	if err != nil {
		t.Fatalf("BuildDesiredFromStore: %v", err)
	}

	if _, ok := desired.Accounts[groupname]; !ok {
		t.Errorf("Accounts = %v, want an entry for %q", desired.Accounts, groupname)
	}
	if _, ok := desired.QOS[qosname]; !ok {
		t.Errorf("QOS = %v, want an entry for %q", desired.QOS, qosname)
	}
	key := AssocKey{User: username, Account: groupname, Partition: partition}
	if got := desired.Users[key]; got != qosname {
		t.Errorf("Users[%+v] = %q, want %q", key, got, qosname)
	}
}

func TestBuildDesiredFromStoreNoAssociationsReturnsEmptyState(t *testing.T) {
	svc := newTestSchedulerService(t)
	ctx := context.Background()
	if _, err := svc.CreateSite(ctx, "hpc1", "hpc1.example.edu"); err != nil {
		t.Fatalf("CreateSite: %v", err)
	}

	desired, err := BuildDesiredFromStore(ctx, svc, "hpc1")
	if err != nil {
		t.Fatalf("BuildDesiredFromStore: %v", err)
	}
	if len(desired.Accounts) != 0 || len(desired.QOS) != 0 || len(desired.Users) != 0 {
		t.Errorf("desired = %+v, want an empty state with no associations", desired)
	}
}
