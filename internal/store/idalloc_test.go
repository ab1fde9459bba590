package store

import (
	"context"
	"testing"
)

func TestAllocateUIDStartsAtFloorWhenRangeEmpty(t *testing.T) {
	s := newTestStore(t)
	uid, err := AllocateUID(context.Background(), s.DB(), 4_000_000_000, 100_000_000)
	if err != nil {
		t.Fatalf("AllocateUID: %v", err)
	}
	if uid != 4_000_000_000 {
		t.Errorf("AllocateUID on an empty range = %d, want the floor", uid)
	}
}

func TestAllocateUIDIncrementsPastExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := &GlobalUser{
		Username: "sys1", UID: 4_000_000_005, GID: 4_000_000_005,
		Email: "sys1@example.edu", Fullname: "Sys One",
		Shell: "/bin/bash", HomeDirectory: "/home/sys1", Type: "system", Status: "active",
	}
	if err := s.CreateGlobalUser(ctx, u); err != nil {
		t.Fatalf("CreateGlobalUser: %v", err)
	}

	next, err := AllocateUID(ctx, s.DB(), 4_000_000_000, 100_000_000)
	if err != nil {
		t.Fatalf("AllocateUID: %v", err)
	}
	if next != 4_000_000_006 {
		t.Errorf("AllocateUID = %d, want 4000000006 (one past the existing max)", next)
	}
}

func TestAllocateUIDExhaustedRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := &GlobalUser{
		Username: "last", UID: 109, GID: 109,
		Email: "last@example.edu", Fullname: "Last One",
		Shell: "/bin/bash", HomeDirectory: "/home/last", Type: "system", Status: "active",
	}
	if err := s.CreateGlobalUser(ctx, u); err != nil {
		t.Fatalf("CreateGlobalUser: %v", err)
	}
	if _, err := AllocateUID(ctx, s.DB(), 100, 10); err == nil {
		t.Fatalf("expected an exhausted-range error")
	}
}

func TestSponsorGroupGIDAndName(t *testing.T) {
	if got := SponsorGroupGID(4_000_000_042); got != 100_000_000+4_000_000_042 {
		t.Errorf("SponsorGroupGID = %d, want MinPigroupGID + sponsorUID", got)
	}
	if got := SponsorGroupName("alice"); got != "alicegrp" {
		t.Errorf("SponsorGroupName = %q, want alicegrp", got)
	}
}
