package store

import (
	"context"
	"testing"
)

func TestListStoragesByMapTablenameReturnsNilWhenMapMissing(t *testing.T) {
	s := newTestStore(t)
	site := mustCreateSite(t, s, "hpc1")

	out, err := s.ListStoragesByMapTablename(context.Background(), site.ID, "group")
	if err != nil {
		t.Fatalf("ListStoragesByMapTablename: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil when no automount map exists yet, got %v", out)
	}
}

func TestListStoragesByMapTablenameEndToEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	site := mustCreateSite(t, s, "hpc1")

	src := &StorageMountSource{SiteID: site.ID, Kind: "nfs", Host: "nfs1", HostPath: "/export/grp", Owner: "root"}
	if err := s.CreateStorageMountSource(ctx, src); err != nil {
		t.Fatalf("CreateStorageMountSource: %v", err)
	}
	amap := &AutomountMap{SiteID: site.ID, Tablename: "group", Prefix: "/group"}
	if err := s.CreateAutomountMap(ctx, amap); err != nil {
		t.Fatalf("CreateAutomountMap: %v", err)
	}
	automount := &Automount{MapID: amap.ID, Name: "lab"}
	if err := s.CreateAutomount(ctx, automount); err != nil {
		t.Fatalf("CreateAutomount: %v", err)
	}
	st := &Storage{Name: "lab", SourceID: src.ID, MountID: &automount.ID}
	if err := s.CreateStorage(ctx, st); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}

	out, err := s.ListStoragesByMapTablename(ctx, site.ID, "group")
	if err != nil {
		t.Fatalf("ListStoragesByMapTablename: %v", err)
	}
	if len(out) != 1 || out[0].Name != "lab" {
		t.Fatalf("ListStoragesByMapTablename = %+v, want exactly [lab]", out)
	}
}

func TestCascadeDeleteStorageMountSourceRemovesBoundStorage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	site := mustCreateSite(t, s, "hpc1")

	src := &StorageMountSource{SiteID: site.ID, Kind: "nfs", Host: "nfs1", HostPath: "/export/x", Owner: "root"}
	if err := s.CreateStorageMountSource(ctx, src); err != nil {
		t.Fatalf("CreateStorageMountSource: %v", err)
	}
	st := &Storage{Name: "x", SourceID: src.ID}
	if err := s.CreateStorage(ctx, st); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}

	if err := s.CascadeDeleteStorageMountSource(ctx, src.ID); err != nil {
		t.Fatalf("CascadeDeleteStorageMountSource: %v", err)
	}
	if _, err := s.GetStorageByName(ctx, "x"); err == nil {
		t.Errorf("expected the bound Storage row to cascade-delete with its mount source")
	}
}

func TestCreateAutomountMapIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	site := mustCreateSite(t, s, "hpc1")

	m1 := &AutomountMap{SiteID: site.ID, Tablename: "home", Prefix: "/home"}
	if err := s.CreateAutomountMap(ctx, m1); err != nil {
		t.Fatalf("CreateAutomountMap (first): %v", err)
	}
	m2 := &AutomountMap{SiteID: site.ID, Tablename: "home", Prefix: "/home"}
	if err := s.CreateAutomountMap(ctx, m2); err != nil {
		t.Fatalf("CreateAutomountMap (second): %v", err)
	}
	if m1.ID != m2.ID {
		t.Errorf("CreateAutomountMap with the same (site,tablename) should return the existing row")
	}
}
