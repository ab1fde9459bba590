package main

import (
	"context"
	"errors"
	"os"

	"github.com/ucdavis-hpc/cheeto/internal/errs"
)

// Exit codes from spec.md §6's stable enumeration.
const (
	exitOK                 = 0
	exitValidationError    = 1
	exitBadMerge           = 2
	exitInvalidSponsor     = 3
	exitFileExists         = 4
	exitBadLDAPQuery       = 5
	exitBadCmdlineArgs     = 6
	exitNotUnique          = 7
	exitDoesNotExist       = 8
	exitInvalidMetadata    = 9
	exitOperationCancelled = 10
)

// exitCodeFor maps an error onto §6's stable exit-code enumeration. Most of
// the ten codes name a specific failure scenario rather than a Kind, so this
// is a best-effort classification: errs.Kind gives the generic cases
// (Validation/Duplicate/NotFound/Integrity), and os/context sentinels cover
// the rest. Unrecognized errors fall back to exitBadCmdlineArgs, matching
// cobra's own default of treating an unhandled RunE error as a usage
// problem.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		return exitOperationCancelled
	}
	if errors.Is(err, os.ErrExist) {
		return exitFileExists
	}

	var e *errs.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case errs.KindValidation:
			return exitValidationError
		case errs.KindDuplicate:
			return exitNotUnique
		case errs.KindNotFound:
			return exitDoesNotExist
		case errs.KindIntegrity:
			return exitInvalidMetadata
		case errs.KindExternal:
			if e.Entity == "BadLDAPQuery" || e.Entity == "LDAPCommitFailed" {
				return exitBadLDAPQuery
			}
			return exitInvalidMetadata
		case errs.KindConfig:
			return exitBadCmdlineArgs
		}
	}
	return exitBadCmdlineArgs
}
