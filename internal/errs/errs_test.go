package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	e := New(KindValidation, "GlobalUser", "username must be lowercase")
	want := "Validation: GlobalUser: username must be lowercase"
	if got := e.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	bare := New(KindIntegrity, "", "orphaned association")
	if got := bare.Error(); got != "Integrity: orphaned association" {
		t.Fatalf("Error() = %q, want no-entity form", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	wrapped := Wrap(KindExternal, "LDAP", "bind failed", cause)

	if !errors.Is(wrapped, cause) {
		t.Fatalf("errors.Is(wrapped, cause) = false, want true")
	}
	if errors.Unwrap(wrapped) != cause {
		t.Fatalf("Unwrap() did not return the wrapped cause")
	}
}

func TestIsMatchesByKindAlone(t *testing.T) {
	err := New(KindNotFound, "GlobalUser", "username=ghost")

	if !errors.Is(err, NotFound) {
		t.Fatalf("errors.Is(err, NotFound) = false, want true for matching kind")
	}
	if errors.Is(err, Duplicate) {
		t.Fatalf("errors.Is(err, Duplicate) = true, want false for mismatched kind")
	}
}

func TestIsMatchesByKindAndEntity(t *testing.T) {
	a := New(KindDuplicate, "GlobalUser", "username=bob")
	b := New(KindDuplicate, "GlobalUser", "username=alice")
	c := New(KindDuplicate, "GlobalGroup", "groupname=bob")

	if !errors.Is(a, b) {
		t.Fatalf("two Duplicate errors on the same entity should be Is-equal regardless of detail")
	}
	if errors.Is(a, c) {
		t.Fatalf("Duplicate errors on different entities should not be Is-equal")
	}
}

func TestConstructorsSetKindAndFormat(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"NotFoundf", NotFoundf("GlobalUser", "username=%s", "ghost"), KindNotFound},
		{"Duplicatef", Duplicatef("GlobalUser", "username=%s", "bob"), KindDuplicate},
		{"Validationf", Validationf("Email", "missing @"), KindValidation},
		{"Integrityf", Integrityf("dangling reference"), KindIntegrity},
		{"Configf", Configf("missing store.dsn"), KindConfig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var e *Error
			if !As(tc.err, &e) {
				t.Fatalf("%s did not produce an *Error", tc.name)
			}
			if e.Kind != tc.kind {
				t.Fatalf("%s kind = %v, want %v", tc.name, e.Kind, tc.kind)
			}
		})
	}
}

func TestTimeoutWrapsExternalKind(t *testing.T) {
	cause := fmt.Errorf("deadline exceeded")
	err := Timeout("ldap", cause)

	var e *Error
	if !As(err, &e) {
		t.Fatalf("Timeout did not produce an *Error")
	}
	if e.Kind != KindExternal {
		t.Fatalf("Timeout kind = %v, want KindExternal", e.Kind)
	}
	if !Is(err, cause) {
		t.Fatalf("Timeout should wrap its cause for errors.Is")
	}
}

func TestKindStringUnknown(t *testing.T) {
	var k Kind = 99
	if got := k.String(); got != "Unknown" {
		t.Fatalf("String() = %q, want Unknown", got)
	}
}
