package store

import (
	"context"
	"testing"
)

func mustCreateGlobalUser(t *testing.T, s *Store, username string, uid int64) *GlobalUser {
	t.Helper()
	u := &GlobalUser{
		Username: username, UID: uid, GID: uid,
		Email: username + "@example.edu", Fullname: username + " Example",
		Shell: "/bin/bash", HomeDirectory: "/home/" + username,
		Type: "user", Status: "active",
	}
	if err := s.CreateGlobalUser(context.Background(), u); err != nil {
		t.Fatalf("CreateGlobalUser(%s): %v", username, err)
	}
	return u
}

func TestIndexAndSearchUsersPrefixMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := mustCreateGlobalUser(t, s, "alice", 4000000010)
	bob := mustCreateGlobalUser(t, s, "bob", 4000000011)
	if err := s.IndexUser(ctx, alice); err != nil {
		t.Fatalf("IndexUser(alice): %v", err)
	}
	if err := s.IndexUser(ctx, bob); err != nil {
		t.Fatalf("IndexUser(bob): %v", err)
	}

	results, err := s.SearchUsers(ctx, "alice", "")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("SearchUsers(\"alice\") returned no results")
	}
	if results[0].Username != "alice" {
		t.Errorf("top result = %q, want alice", results[0].Username)
	}
}

func TestIndexUserIsIdempotentOnReindex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateGlobalUser(t, s, "alice", 4000000012)

	if err := s.IndexUser(ctx, alice); err != nil {
		t.Fatalf("IndexUser (first): %v", err)
	}
	alice.Fullname = "Alice Updated"
	if err := s.IndexUser(ctx, alice); err != nil {
		t.Fatalf("IndexUser (second): %v", err)
	}

	var count int64
	if err := s.DB().Model(&UserSearch{}).Where("global_user_id = ?", alice.ID).Count(&count).Error; err != nil {
		t.Fatalf("counting UserSearch: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one UserSearch row per user after reindex, got %d", count)
	}
}

func TestSearchUsersNoMatchReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateGlobalUser(t, s, "alice", 4000000013)
	if err := s.IndexUser(ctx, alice); err != nil {
		t.Fatalf("IndexUser: %v", err)
	}

	results, err := s.SearchUsers(ctx, "zzzzzzzzzz", "")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no matches, got %v", results)
	}
}

func TestOverlapScoreEmptyQueryIsZero(t *testing.T) {
	if got := overlapScore(nil, []string{"abc"}); got != 0 {
		t.Errorf("overlapScore(nil, ...) = %v, want 0", got)
	}
}

func TestMeanStddevEmptyIsZero(t *testing.T) {
	mean, stddev := meanStddev(nil)
	if mean != 0 || stddev != 0 {
		t.Errorf("meanStddev(nil) = (%v, %v), want (0, 0)", mean, stddev)
	}
}
