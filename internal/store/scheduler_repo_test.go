package store

import (
	"context"
	"testing"
)

func TestQOSCascadeDeleteRemovesAssociations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	site := mustCreateSite(t, s, "hpc1")

	q := &SchedulerQOS{SiteID: site.ID, Sitename: site.Sitename, Name: "normal"}
	if err := s.CreateQOS(ctx, q); err != nil {
		t.Fatalf("CreateQOS: %v", err)
	}
	p := &SchedulerPartition{SiteID: site.ID, Sitename: site.Sitename, Name: "high2"}
	if err := s.CreatePartition(ctx, p); err != nil {
		t.Fatalf("CreatePartition: %v", err)
	}
	g := &GlobalGroup{Groupname: "grp", GID: 300, Type: "group"}
	if err := s.CreateGlobalGroup(ctx, g); err != nil {
		t.Fatalf("CreateGlobalGroup: %v", err)
	}
	sg := &SiteGroup{SiteID: site.ID, Sitename: site.Sitename, GlobalGroupID: g.ID, Groupname: g.Groupname}
	if err := s.CreateSiteGroup(ctx, sg); err != nil {
		t.Fatalf("CreateSiteGroup: %v", err)
	}
	assoc := &SchedulerAssociation{SiteID: site.ID, Sitename: site.Sitename, QOSID: q.ID, PartitionID: p.ID, GroupID: sg.ID}
	if err := s.CreateAssociation(ctx, assoc); err != nil {
		t.Fatalf("CreateAssociation: %v", err)
	}

	if err := s.CascadeDeleteQOS(ctx, q.ID); err != nil {
		t.Fatalf("CascadeDeleteQOS: %v", err)
	}

	assocs, err := s.ListAssociations(ctx, site.Sitename)
	if err != nil {
		t.Fatalf("ListAssociations: %v", err)
	}
	if len(assocs) != 0 {
		t.Errorf("expected the association to cascade-delete with its QOS, got %d remaining", len(assocs))
	}
	if _, err := s.GetQOS(ctx, site.Sitename, "normal"); err == nil {
		t.Errorf("expected the QOS itself to be gone")
	}
}

func TestCreatePartitionIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	site := mustCreateSite(t, s, "hpc1")

	p1 := &SchedulerPartition{SiteID: site.ID, Sitename: site.Sitename, Name: "high2"}
	if err := s.CreatePartition(ctx, p1); err != nil {
		t.Fatalf("CreatePartition (first): %v", err)
	}
	p2 := &SchedulerPartition{SiteID: site.ID, Sitename: site.Sitename, Name: "high2"}
	if err := s.CreatePartition(ctx, p2); err != nil {
		t.Fatalf("CreatePartition (second): %v", err)
	}
	if p1.ID != p2.ID {
		t.Errorf("CreatePartition with the same (site,name) should return the existing row, got different IDs")
	}
}

func TestListAssociationsByGroupsEmptyInput(t *testing.T) {
	s := newTestStore(t)
	out, err := s.ListAssociationsByGroups(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListAssociationsByGroups(nil): %v", err)
	}
	if out != nil {
		t.Errorf("expected nil result for an empty group id list, got %v", out)
	}
}
