package model

import "github.com/cockroachdb/errors"

// Caller-facing error categories. The httpapi layer maps these to status
// codes; bus/store internals bubble infrastructure errors through these too.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("conflict")
	ErrInvalid          = errors.New("invalid")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrBusUnavailable   = errors.New("bus unavailable")
)

// DiagnosticClass is the Reconciliation Monitor's internal-only taxonomy.
// Never surfaced to end users; feeds the monitoring routes and alerts.
type DiagnosticClass string

const (
	NotificationLost   DiagnosticClass = "NOTIFICATION_LOST"
	LockContentionLost DiagnosticClass = "LOCK_CONTENTION_LOST"
	ProcessingFailed   DiagnosticClass = "PROCESSING_FAILED"
	CommitDivergence   DiagnosticClass = "COMMIT_DIVERGENCE"
)
