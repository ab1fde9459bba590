package directory

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ucdavis-hpc/cheeto/internal/config"
	"github.com/ucdavis-hpc/cheeto/internal/store"
)

func newTestDirectoryService(t *testing.T) *store.Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.Open(store.Config{Driver: "sqlite", DSN: dsn, Logger: zap.NewNop(), LogLevel: gormlogger.Silent})
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	return store.NewService(store.New(db, zap.NewNop()))
}

func TestLastTokenReturnsSurname(t *testing.T) {
	if got := lastToken("Alice Example"); got != "Example" {
		t.Errorf("lastToken = %q, want Example", got)
	}
	if got := lastToken("Cher"); got != "Cher" {
		t.Errorf("lastToken(single name) = %q, want Cher", got)
	}
	if got := lastToken(""); got != "" {
		t.Errorf("lastToken(empty) = %q, want empty", got)
	}
}

func TestMergeUniqueDeduplicatesPreservingOrder(t *testing.T) {
	got := mergeUnique([]string{"a", "b"}, []string{"b", "c"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeUnique = %v, want %v", got, want)
	}
}

func TestSpecialGroupnamesCombinesStatusAndAccessGroups(t *testing.T) {
	r := &Reconciler{cfg: config.LDAPConfig{
		UserStatusGroups: map[string]string{"active": "statusActive"},
		UserAccessGroups: map[string]string{"login-ssh": "accessLogin"},
	}}
	got := r.specialGroupnames()
	if !got["statusActive"] || !got["accessLogin"] {
		t.Errorf("specialGroupnames = %v, want both configured group names", got)
	}
	if len(got) != 2 {
		t.Errorf("specialGroupnames = %v, want exactly 2 entries", got)
	}
}

func TestAdminRootKeysOnlyIncludesAdminsWithRootAccess(t *testing.T) {
	svc := newTestDirectoryService(t)
	ctx := context.Background()
	if _, err := svc.CreateSite(ctx, "hpc1", "hpc1.example.edu"); err != nil {
		t.Fatalf("CreateSite: %v", err)
	}

	admin, err := svc.CreateUser(ctx, "admin1", "admin1@example.edu", 4100000001, "Admin One", store.NewUserOptions{
		Type: "admin", Access: []string{"root-ssh"}, SSHKeys: []string{"ssh-ed25519 AAA admin1"},
	})
	if err != nil {
		t.Fatalf("CreateUser(admin): %v", err)
	}
	adminSU, err := svc.AddSiteUser(ctx, "hpc1", admin)
	if err != nil {
		t.Fatalf("AddSiteUser(admin): %v", err)
	}

	regular, err := svc.CreateUser(ctx, "bob", "bob@example.edu", 4100000002, "Bob", store.NewUserOptions{SSHKeys: []string{"ssh-ed25519 BBB bob"}})
	if err != nil {
		t.Fatalf("CreateUser(bob): %v", err)
	}
	bobSU, err := svc.AddSiteUser(ctx, "hpc1", regular)
	if err != nil {
		t.Fatalf("AddSiteUser(bob): %v", err)
	}

	r := &Reconciler{svc: svc, log: zap.NewNop()}
	keys := r.adminRootKeys(ctx, []store.SiteUser{*adminSU, *bobSU})
	if len(keys) != 1 || keys[0] != "ssh-ed25519 AAA admin1" {
		t.Errorf("adminRootKeys = %v, want only the root-access admin's key", keys)
	}
}
