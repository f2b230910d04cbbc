// Package timercore implements the Local Dispatcher (component 4.C): the
// only writer of Timer and TimestampMark state, and the component that
// turns bus/local events into pushes on the session transport.
package timercore

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"timerfleet/model"
	"timerfleet/presence"
	"timerfleet/rand"
	"timerfleet/store"
)

var logger = logrus.WithFields(logrus.Fields{"component": "timercore"})

const shareTokenLength = 24

// Publisher is the subset of the Fleet Event Bus that TimerCore needs:
// publish an envelope to the appropriate topic. Implemented by eventbus.Bus.
type Publisher interface {
	Publish(ctx context.Context, env model.Envelope) error
}

// LocalSink is the session-transport side of local fan-out, implemented by
// wsapi.Hub. Dispatcher never holds connections itself.
type LocalSink interface {
	DispatchLocal(timerID string, env model.Envelope)
}

// Dispatcher is the Local Dispatcher. It owns Timer/TimestampMark mutation
// and is the only consumer of model.CompletionSignal.
type Dispatcher struct {
	timers      *store.TimerRepo
	marks       *store.TimestampMarkRepo
	presence    *presence.Index
	bus         Publisher
	local       LocalSink
	serverID    string
	scheduleOut chan<- model.ScheduleRequest
}

func New(
	timers *store.TimerRepo,
	marks *store.TimestampMarkRepo,
	idx *presence.Index,
	bus Publisher,
	local LocalSink,
	serverID string,
	scheduleOut chan<- model.ScheduleRequest,
) *Dispatcher {
	return &Dispatcher{
		timers:      timers,
		marks:       marks,
		presence:    idx,
		bus:         bus,
		local:       local,
		serverID:    serverID,
		scheduleOut: scheduleOut,
	}
}

func (d *Dispatcher) Create(ctx context.Context, targetSeconds int64, ownerID string) (model.Timer, error) {
	timerID := uuid.New().String()
	token, err := rand.GenerateRandomBytes(shareTokenLength)
	if err != nil {
		return model.Timer{}, errors.Wrap(err, "timercore: generate share token")
	}

	now := time.Now()
	target := now.Add(time.Duration(targetSeconds) * time.Second)
	t := model.Timer{
		TimerID:       timerID,
		OwnerID:       ownerID,
		TargetInstant: target,
		CreatedAt:     now,
		UpdatedAt:     now,
		ShareToken:    token,
	}

	if err := d.timers.Create(ctx, t); err != nil {
		return model.Timer{}, err
	}

	d.requestSchedule(model.ScheduleRequest{
		Action:        model.ScheduleRegister,
		TimerID:       timerID,
		TargetInstant: target,
	})

	return t, nil
}

// view composes the read-side TimerView snapshot for an already-loaded
// timer. GetByID and GetByShareToken decide which lookup loads it (id for
// owners, token for shared links).
func (d *Dispatcher) view(ctx context.Context, t model.Timer, userID string) (model.TimerView, error) {
	now := time.Now()
	count, err := d.presence.OnlineCount(ctx, t.TimerID)
	if err != nil {
		return model.TimerView{}, err
	}

	role := model.RoleViewer
	if userID == t.OwnerID {
		role = model.RoleOwner
	}

	view := model.TimerView{
		TimerID:       t.TimerID,
		OwnerID:       t.OwnerID,
		TargetInstant: t.TargetInstant,
		Completed:     t.Completed,
		CompletedAt:   t.CompletedAt,
		ServerTime:    now,
		Remaining:     model.Remaining(t.TargetInstant, now),
		OnlineCount:   count,
		Role:          role,
	}
	if role == model.RoleOwner {
		view.ShareToken = t.ShareToken
	}
	return view, nil
}

func (d *Dispatcher) GetByID(ctx context.Context, timerID, userID string) (model.TimerView, error) {
	t, err := d.timers.GetByID(ctx, timerID)
	if err != nil {
		return model.TimerView{}, err
	}
	return d.view(ctx, t, userID)
}

func (d *Dispatcher) GetByShareToken(ctx context.Context, token, userID string) (model.TimerView, error) {
	t, err := d.timers.GetByShareToken(ctx, token)
	if err != nil {
		return model.TimerView{}, err
	}
	return d.view(ctx, t, userID)
}

// ChangeTarget validates ownership and timer state, then persists the new
// target and propagates it to both the bus and the TTL Scheduler.
func (d *Dispatcher) ChangeTarget(ctx context.Context, timerID string, newTarget time.Time, requesterID string) (model.TimerView, error) {
	t, err := d.timers.GetByID(ctx, timerID)
	if err != nil {
		return model.TimerView{}, err
	}
	if requesterID != t.OwnerID {
		return model.TimerView{}, errors.Mark(errors.New("only the owner may change the target"), model.ErrForbidden)
	}
	if t.Completed {
		return model.TimerView{}, errors.Mark(errors.New("timer already completed"), model.ErrConflict)
	}
	now := time.Now()
	if !newTarget.After(now) {
		return model.TimerView{}, errors.Mark(errors.New("target must be in the future"), model.ErrInvalid)
	}

	if err := d.timers.UpdateTarget(ctx, timerID, newTarget, now); err != nil {
		return model.TimerView{}, err
	}

	d.requestSchedule(model.ScheduleRequest{
		Action:        model.ScheduleUpdate,
		TimerID:       timerID,
		TargetInstant: newTarget,
	})

	env := model.Envelope{
		EventType:      model.EventTargetTimeChanged,
		EventID:        uuid.New().String(),
		TimerID:        timerID,
		Timestamp:      now,
		OriginServerID: d.serverID,
		Payload:        map[string]any{"targetInstant": newTarget},
	}
	d.publishAndDispatch(ctx, env)

	t.TargetInstant = newTarget
	t.UpdatedAt = now
	return d.view(ctx, t, requesterID)
}

// SaveTimestamp appends an unconditional TimestampMark and notifies the bus.
func (d *Dispatcher) SaveTimestamp(ctx context.Context, timerID, userID string, meta map[string]any) (model.TimestampMark, error) {
	t, err := d.timers.GetByID(ctx, timerID)
	if err != nil {
		return model.TimestampMark{}, err
	}

	now := time.Now()
	mark := model.TimestampMark{
		TimerID:         timerID,
		UserID:          userID,
		SavedAt:         now,
		TargetAtSave:    t.TargetInstant,
		RemainingAtSave: model.Remaining(t.TargetInstant, now),
		Meta:            meta,
	}
	id, err := d.marks.Create(ctx, mark)
	if err != nil {
		return model.TimestampMark{}, err
	}
	mark.ID = id

	env := model.Envelope{
		EventType:      model.EventTimestampSaved,
		EventID:        uuid.New().String(),
		TimerID:        timerID,
		Timestamp:      now,
		OriginServerID: d.serverID,
		Payload: map[string]any{
			"userId":          userID,
			"remainingAtSave": mark.RemainingAtSave,
		},
	}
	d.publishAndDispatch(ctx, env)

	return mark, nil
}

// History returns every TimestampMark saved against a timer, newest
// first, backing `GET /timers/{id}/history`.
func (d *Dispatcher) History(ctx context.Context, timerID string) ([]model.TimestampMark, error) {
	if _, err := d.timers.GetByID(ctx, timerID); err != nil {
		return nil, err
	}
	return d.marks.ListForTimer(ctx, timerID)
}

// UserHistory returns one user's saves against a timer, newest first,
// backing `GET /timers/{id}/users/{userId}/history`.
func (d *Dispatcher) UserHistory(ctx context.Context, timerID, userID string) ([]model.TimestampMark, error) {
	if _, err := d.timers.GetByID(ctx, timerID); err != nil {
		return nil, err
	}
	return d.marks.ListForUserOnTimer(ctx, timerID, userID)
}

// OnSharedAccess is raised when a non-owner subscribes to a shared link, so
// the owner's sessions can surface a visit notification even when no other
// local viewers exist (SHARED_TIMER_ACCESSED always bypasses the presence
// filter, see model.AlwaysDispatch).
func (d *Dispatcher) OnSharedAccess(ctx context.Context, timerID, joinerID string) {
	env := model.Envelope{
		EventType:      model.EventSharedTimerAccessed,
		EventID:        uuid.New().String(),
		TimerID:        timerID,
		Timestamp:      time.Now(),
		OriginServerID: d.serverID,
		Payload:        map[string]any{"joinerId": joinerID},
	}
	d.publishAndDispatch(ctx, env)
}

// OnCompletionSignal applies the completion transaction on behalf of the
// TTL Scheduler's mutex winner. It is idempotent: a timer already marked
// completed is a silent no-op, so a force-complete that follows a natural
// completion (or the reverse) does not emit a second completion event.
func (d *Dispatcher) OnCompletionSignal(ctx context.Context, timerID string) error {
	t, err := d.timers.GetByID(ctx, timerID)
	if err != nil {
		return err
	}
	if t.Completed {
		return nil
	}

	now := time.Now()
	if err := d.timers.MarkCompleted(ctx, timerID, now); err != nil {
		return err
	}

	count, err := d.presence.OnlineCount(ctx, timerID)
	if err != nil {
		logger.WithError(err).WithField("timer_id", timerID).Warn("online count lookup failed during completion")
	}

	env := model.Envelope{
		EventType:      model.EventTimerCompleted,
		EventID:        uuid.New().String(),
		TimerID:        timerID,
		Timestamp:      now,
		OriginServerID: d.serverID,
		Payload: map[string]any{
			"ownerId":     t.OwnerID,
			"onlineCount": count,
		},
	}
	d.publishAndDispatch(ctx, env)
	return nil
}

// ForceComplete is the owner-initiated completion route (`POST
// /timers/{id}/complete` and its WebSocket "complete" action equivalent):
// after an ownership check it applies the same completion transaction the
// TTL Scheduler's mutex winner would, idempotently.
func (d *Dispatcher) ForceComplete(ctx context.Context, timerID, requesterID string) error {
	t, err := d.timers.GetByID(ctx, timerID)
	if err != nil {
		return err
	}
	if requesterID != t.OwnerID {
		return errors.Mark(errors.New("only the owner may force-complete a timer"), model.ErrForbidden)
	}
	return d.OnCompletionSignal(ctx, timerID)
}

// OnPresenceChange is called by the WebSocket session layer on every
// connect/disconnect. It synchronously re-queries the fleet-wide online
// count and pushes an ONLINE_USER_COUNT_UPDATED control message straight
// into the local transport — never onto the fleet bus, since the Presence
// Index already reflects every server's view.
func (d *Dispatcher) OnPresenceChange(ctx context.Context, timerID string) {
	count, err := d.presence.OnlineCount(ctx, timerID)
	if err != nil {
		logger.WithError(err).WithField("timer_id", timerID).Warn("online count lookup failed on presence change")
		return
	}
	d.local.DispatchLocal(timerID, model.Envelope{
		EventType:      model.EventOnlineCountUpdated,
		EventID:        uuid.New().String(),
		TimerID:        timerID,
		Timestamp:      time.Now(),
		OriginServerID: d.serverID,
		Payload:        map[string]any{"onlineCount": count},
	})
}

func (d *Dispatcher) publishAndDispatch(ctx context.Context, env model.Envelope) {
	if err := d.bus.Publish(ctx, env); err != nil {
		logger.WithError(err).WithField("timer_id", env.TimerID).Error("bus publish failed")
	}
	// Local sessions on this server also get the push directly: waiting
	// for the bus round-trip to hear our own publish would add needless
	// latency for same-server viewers.
	d.local.DispatchLocal(env.TimerID, env)
}

func (d *Dispatcher) requestSchedule(req model.ScheduleRequest) {
	select {
	case d.scheduleOut <- req:
	default:
		logger.WithField("timer_id", req.TimerID).Warn("schedule request channel full, dropping")
	}
}
