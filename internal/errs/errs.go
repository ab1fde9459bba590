// Package errs defines the error-kind taxonomy shared by every cheeto
// subsystem. Kinds are programmatically distinguishable via errors.Is/As so
// that CLI exit-code mapping and C5/C6/C7's "log and continue" handling can
// switch on kind rather than parsing message strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the distinct, distinguishable error categories from
// the error handling design: Validation, NotFound, Duplicate, Integrity,
// External, Config.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindDuplicate
	KindIntegrity
	KindExternal
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindNotFound:
		return "NotFound"
	case KindDuplicate:
		return "Duplicate"
	case KindIntegrity:
		return "Integrity"
	case KindExternal:
		return "External"
	case KindConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried by every kind below. Entity names
// the affected record type (e.g. "GlobalUser"), Detail carries the specific
// message (field path for Validation, the offending key for Duplicate, etc).
type Error struct {
	Kind   Kind
	Entity string
	Detail string
	Err    error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Entity, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, errs.NotFound) style sentinel comparisons by
// kind: against a bare sentinel (no Entity, Detail or wrapped cause) only the
// Kind has to match; against any other *Error both Kind and Entity must match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Entity == "" && t.Detail == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Entity == t.Entity
}

func New(kind Kind, entity, detail string) *Error {
	return &Error{Kind: kind, Entity: entity, Detail: detail}
}

func Wrap(kind Kind, entity, detail string, err error) *Error {
	return &Error{Kind: kind, Entity: entity, Detail: detail, Err: err}
}

// Sentinel kind markers for errors.Is comparisons against just the kind,
// e.g. errors.Is(err, errs.NotFound).
var (
	NotFound   = &Error{Kind: KindNotFound}
	Duplicate  = &Error{Kind: KindDuplicate}
	Validation = &Error{Kind: KindValidation}
	Integrity  = &Error{Kind: KindIntegrity}
	External   = &Error{Kind: KindExternal}
	Config     = &Error{Kind: KindConfig}
)

// NotFoundf builds a NotFound error for the given entity, e.g.
// errs.NotFoundf("GlobalUser", "username=%s", username).
func NotFoundf(entity, format string, args ...any) error {
	return New(KindNotFound, "NonExistent"+entity, fmt.Sprintf(format, args...))
}

func Duplicatef(entity, format string, args ...any) error {
	return New(KindDuplicate, "Duplicate"+entity, fmt.Sprintf(format, args...))
}

func Validationf(field, format string, args ...any) error {
	return New(KindValidation, field, fmt.Sprintf(format, args...))
}

func Integrityf(format string, args ...any) error {
	return New(KindIntegrity, "", fmt.Sprintf(format, args...))
}

func Externalf(system string, err error, format string, args ...any) error {
	return Wrap(KindExternal, system, fmt.Sprintf(format, args...), err)
}

func Timeout(system string, err error) error {
	return Wrap(KindExternal, system, "Timeout", err)
}

func Configf(format string, args ...any) error {
	return New(KindConfig, "", fmt.Sprintf(format, args...))
}

// As is re-exported for convenience so callers don't need a second import.
func As(err error, target any) bool { return errors.As(err, target) }
func Is(err, target error) bool     { return errors.Is(err, target) }
