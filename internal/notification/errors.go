package notification

import "errors"

// ErrSendFailed is returned when an email notification could not be
// delivered. It is non-fatal: the reconciler or event processor that
// triggered the notification has already completed its own work, so a
// delivery failure is logged and swallowed, never propagated as an
// operation failure.
var ErrSendFailed = errors.New("notification: send failed")
