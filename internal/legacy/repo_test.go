package legacy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ucdavis-hpc/cheeto/internal/types"
)

func writeTestFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestAccountMapMergeKeepsBothSidesOverrideWinsOnConflict(t *testing.T) {
	a := AccountMap{User: map[string]UserRecord{"alice": {UID: 1}, "bob": {UID: 2}}}
	b := AccountMap{User: map[string]UserRecord{"bob": {UID: 20}, "carol": {UID: 3}}}

	out := a.Merge(b)
	if len(out.User) != 3 {
		t.Fatalf("merged user count = %d, want 3", len(out.User))
	}
	if out.User["bob"].UID != 20 {
		t.Errorf("bob.UID = %d, want 20 (b wins on conflict)", out.User["bob"].UID)
	}
	if out.User["alice"].UID != 1 {
		t.Errorf("alice.UID = %d, want 1 (a preserved)", out.User["alice"].UID)
	}
}

func TestRepoLoadMergesTwoFilesPrefixStrategy(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "alice.base.yaml", "user:\n  alice:\n    uid: 1\n    gid: 1\n")
	writeTestFile(t, dir, "alice.site.yaml", "user:\n  alice:\n    gid: 1\n    email: alice@example.edu\n")

	r := NewRepo(dir, false, zap.NewNop())
	if err := r.Load(types.MergePrefix); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	alice, ok := r.Data.User["alice"]
	if !ok {
		t.Fatalf("Data.User missing alice: %+v", r.Data.User)
	}
	if alice.Email != "alice@example.edu" {
		t.Errorf("alice.Email = %q, want merged-in value", alice.Email)
	}
}

func TestRepoLoadNonStrictSkipsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "good.yaml", "user:\n  bob:\n    uid: 2\n    gid: 2\n")
	writeTestFile(t, dir, "bad.yaml", "user: [this is not a map\n")

	r := NewRepo(dir, false, zap.NewNop())
	if err := r.Load(types.MergeNone); err != nil {
		t.Fatalf("non-strict Load should not fail on a bad file, got: %v", err)
	}
	if _, ok := r.Data.User["bob"]; !ok {
		t.Errorf("expected the good file's data to still load")
	}
}

func TestRepoLoadStrictFailsOnInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "bad.yaml", "user: [this is not a map\n")

	r := NewRepo(dir, true, zap.NewNop())
	if err := r.Load(types.MergeNone); err == nil {
		t.Fatalf("strict Load should fail on invalid yaml")
	}
}

func TestRepoLockTimesOutWhenAlreadyHeld(t *testing.T) {
	dir := t.TempDir()
	r1 := NewRepo(dir, false, zap.NewNop())
	unlock, err := r1.Lock(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("first Lock failed: %v", err)
	}
	defer unlock()

	r2 := NewRepo(dir, false, zap.NewNop())
	if _, err := r2.Lock(context.Background(), 300*time.Millisecond); err == nil {
		t.Fatalf("second Lock should time out while the first is held")
	}
}

func TestPostloadValidateRequiresLoad(t *testing.T) {
	r := NewRepo(t.TempDir(), false, zap.NewNop())
	if err := r.PostloadValidate(); err == nil {
		t.Fatalf("PostloadValidate on an unloaded repo should error")
	}
}

func TestValidateSponsorsStrictRejectsUnknownSponsor(t *testing.T) {
	data := AccountMap{
		Group: map[string]GroupRecord{"lab": {Sponsors: []string{"ghost"}}},
	}
	if err := ValidateSponsors("test", data, true); err == nil {
		t.Fatalf("expected strict validation to reject an unknown sponsor")
	}
	if err := ValidateSponsors("test", data, false); err != nil {
		t.Fatalf("non-strict validation should not error, got %v", err)
	}
}

func TestValidateUserGroupsStrictRejectsUnknownGroup(t *testing.T) {
	data := AccountMap{
		User: map[string]UserRecord{"alice": {Groups: []string{"ghostgroup"}}},
	}
	if err := ValidateUserGroups("test", data, true); err == nil {
		t.Fatalf("expected strict validation to reject an unknown group")
	}
}

func TestValidateUserGroupsPasses(t *testing.T) {
	data := AccountMap{
		User:  map[string]UserRecord{"alice": {Groups: []string{"lab"}}},
		Group: map[string]GroupRecord{"lab": {GID: 100}},
	}
	if err := ValidateUserGroups("test", data, true); err != nil {
		t.Fatalf("expected validation to pass for a known group, got %v", err)
	}
}
