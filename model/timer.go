package model

import "time"

// Timer is owned exclusively by TimerCore. Once Completed is true,
// TargetInstant is frozen; callers must reject further target changes.
type Timer struct {
	TimerID       string     `db:"timer_id" json:"timerId"`
	OwnerID       string     `db:"owner_id" json:"ownerId"`
	TargetInstant time.Time  `db:"target_instant" json:"targetInstant"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
	Completed     bool       `db:"completed" json:"completed"`
	CompletedAt   *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	ShareToken    string     `db:"share_token" json:"shareToken"`
}

// Role is assigned per-viewer on a Timer snapshot.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleViewer Role = "VIEWER"
)

// TimerView is the read-side snapshot returned to HTTP/WS callers: it
// augments the persisted Timer with derived, request-time-only fields.
type TimerView struct {
	TimerID       string        `json:"timerId"`
	OwnerID       string        `json:"ownerId"`
	TargetInstant time.Time     `json:"targetInstant"`
	ShareToken    string        `json:"shareToken,omitempty"`
	Completed     bool          `json:"completed"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	ServerTime    time.Time     `json:"serverTime"`
	Remaining     time.Duration `json:"remaining"`
	OnlineCount   int64         `json:"onlineCount"`
	Role          Role          `json:"role"`
}

// Remaining computes max(0, target-now), the invariant shared by TimerView
// and TimestampMark.
func Remaining(target, at time.Time) time.Duration {
	d := target.Sub(at)
	if d < 0 {
		return 0
	}
	return d
}

// TimestampMark is append-only, scoped to a (timerId,userId) pair.
// Invariant: RemainingAtSave = max(0, TargetAtSave - SavedAt).
type TimestampMark struct {
	ID              int64          `db:"id" json:"id"`
	TimerID         string         `db:"timer_id" json:"timerId"`
	UserID          string         `db:"user_id" json:"userId"`
	SavedAt         time.Time      `db:"saved_at" json:"savedAt"`
	RemainingAtSave time.Duration  `db:"remaining_at_save" json:"remainingAtSave"`
	TargetAtSave    time.Time      `db:"target_at_save" json:"targetAtSave"`
	Meta            map[string]any `db:"-" json:"meta,omitempty"`
	MetaJSON        []byte         `db:"meta" json:"-"`
}

// CompletionLog records one server's attempt at processing a single
// expiry notification for a timer. Zero rows for a timer means the
// notification was lost; more than one means a multi-server race.
type CompletionLog struct {
	ID                     int64      `db:"id" json:"id"`
	TimerID                string     `db:"timer_id" json:"timerId"`
	ServerID               string     `db:"server_id" json:"serverId"`
	NotificationReceivedAt time.Time  `db:"notification_received_at" json:"notificationReceivedAt"`
	ProcessingStartedAt    *time.Time `db:"processing_started_at" json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt  *time.Time `db:"processing_completed_at" json:"processingCompletedAt,omitempty"`
	LockAcquired           bool       `db:"lock_acquired" json:"lockAcquired"`
	Success                bool       `db:"success" json:"success"`
	ErrorMessage           string     `db:"error_message" json:"errorMessage,omitempty"`
	OriginalTargetInstant  time.Time  `db:"original_target_instant" json:"originalTargetInstant"`
	ProcessingDelayMillis  int64      `db:"processing_delay_millis" json:"processingDelayMillis"`
}

// PresenceSession lives only in the shared store, never in primary storage.
type PresenceSession struct {
	SessionID     string    `json:"sessionId"`
	TimerID       string    `json:"timerId"`
	UserID        string    `json:"userId"`
	ServerID      string    `json:"serverId"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Diagnostic is one Reconciliation Monitor finding for a single timer.
type Diagnostic struct {
	TimerID      string          `json:"timerId"`
	Class        DiagnosticClass `json:"class"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	DetectedAt   time.Time       `json:"detectedAt"`
}

// CompletionStats backs GET /monitoring/completion-stats.
type CompletionStats struct {
	WindowStart        time.Time                 `json:"windowStart"`
	WindowEnd          time.Time                 `json:"windowEnd"`
	CompletedCount     int64                     `json:"completedCount"`
	PendingCount       int64                     `json:"pendingCount"`
	MissedCount        int64                     `json:"missedCount"`
	ByDiagnosticClass  map[DiagnosticClass]int64 `json:"byDiagnosticClass"`
}
