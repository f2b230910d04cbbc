package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"timerfleet/channel"
	"timerfleet/config"
	"timerfleet/model"
	"timerfleet/store"
)

var logger = logrus.WithFields(logrus.Fields{"component": "schedule"})

const scheduleKeyPrefix = "timer:schedule:"

func scheduleKey(timerID string) string {
	return scheduleKeyPrefix + timerID
}

func timerIDFromScheduleKey(key string) (string, bool) {
	if !strings.HasPrefix(key, scheduleKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, scheduleKeyPrefix), true
}

// Scheduler is the TTL Scheduler (4.B). It holds a TTL'd placeholder key per
// pending timer, reacts to Redis keyspace-notification expiry events, elects
// one server per expiry with a short-lived mutex, and routes the win to
// TimerCore over a channel rather than a direct call (see model.CompletionSignal).
type Scheduler struct {
	rdb           *redis.Client
	serverID      string
	mutexTTL      time.Duration
	timers        *store.TimerRepo
	completions   *store.CompletionLogRepo
	signals       chan<- model.CompletionSignal
	requests      <-chan model.ScheduleRequest

	done     chan struct{}
	stopOnce sync.Once
}

// New wires the scheduler to its Redis connection, the timer and
// completion-log repositories it reads and audits through, the channel
// TimerCore listens on for CompletionSignal, and the channel TimerCore
// sends ScheduleRequest on.
func New(rdb *redis.Client, cfg *config.Config, timers *store.TimerRepo, completions *store.CompletionLogRepo, signals chan<- model.CompletionSignal, requests <-chan model.ScheduleRequest) *Scheduler {
	return &Scheduler{
		rdb:         rdb,
		serverID:    cfg.ServerInstanceID,
		mutexTTL:    cfg.CompletionMutexTTL,
		timers:      timers,
		completions: completions,
		signals:     signals,
		requests:    requests,
		done:        make(chan struct{}),
	}
}

// Start subscribes to expiry notifications and begins consuming
// ScheduleRequest from TimerCore. It blocks until ctx is cancelled or Stop
// is called, whichever happens first (combined via channel.Or).
func (s *Scheduler) Start(ctx context.Context) error {
	readyCh := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.subscribeExpiry(ctx, readyCh)
	}()

	select {
	case <-readyCh:
	case err := <-errCh:
		return errors.Wrap(err, "schedule: subscribe to expiry events")
	case <-ctx.Done():
		return ctx.Err()
	}

	go s.consumeRequests(ctx)

	select {
	case <-channel.Or(ctx.Done(), s.done):
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop ends Start's blocking wait; it is idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Scheduler) consumeRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case req, ok := <-s.requests:
			if !ok {
				return
			}
			s.handleRequest(ctx, req)
		}
	}
}

func (s *Scheduler) handleRequest(ctx context.Context, req model.ScheduleRequest) {
	var err error
	switch req.Action {
	case model.ScheduleRegister, model.ScheduleUpdate:
		err = s.register(ctx, req.TimerID, req.TargetInstant)
	case model.ScheduleCancel:
		err = s.cancel(ctx, req.TimerID)
	}
	if err != nil {
		logger.WithError(err).WithField("timer_id", req.TimerID).Warn("schedule request failed")
	}
}

// register sets (or overwrites) the placeholder key that expires exactly at
// the timer's target instant. A target already in the past expires the key
// immediately, which still fires the keyspace notification — completion is
// never missed merely because a target was updated to an already-elapsed time.
func (s *Scheduler) register(ctx context.Context, timerID string, target time.Time) error {
	ttl := time.Until(target)
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	if err := s.rdb.Set(ctx, scheduleKey(timerID), s.serverID, ttl).Err(); err != nil {
		return errors.Wrap(err, "schedule: set placeholder key")
	}
	return nil
}

func (s *Scheduler) cancel(ctx context.Context, timerID string) error {
	if err := s.rdb.Del(ctx, scheduleKey(timerID)).Err(); err != nil {
		return errors.Wrap(err, "schedule: delete placeholder key")
	}
	return nil
}

// subscribeExpiry listens on the keyspace-notification expired-events
// channel for this Redis DB and reacts to our own schedule keys only.
// Grounded on the teacher's PubSubService.SubscribeToEvents, generalized
// from raw []byte payloads to key-name string payloads (keyspace
// notifications don't carry a JSON body — the payload IS the expired key).
func (s *Scheduler) subscribeExpiry(ctx context.Context, ready chan<- struct{}) error {
	db := s.rdb.Options().DB
	channelName := fmt.Sprintf("__keyevent@%d__:expired", db)

	pubsub := s.rdb.Subscribe(ctx, channelName)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	close(ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			timerID, match := timerIDFromScheduleKey(msg.Payload)
			if !match {
				continue
			}
			s.onExpiry(ctx, timerID)
		}
	}
}

// onExpiry is the completion protocol (4.B steps 1-7): acquire the mutex,
// write the notification-received log row, ask TimerCore to apply the
// completion transaction, record the outcome, and release the mutex on
// every exit path.
func (s *Scheduler) onExpiry(ctx context.Context, timerID string) {
	now := time.Now()

	timer, err := s.timers.GetByID(ctx, timerID)
	if err != nil {
		logger.WithError(err).WithField("timer_id", timerID).Error("failed to load timer for completion log")
		return
	}

	logID, err := s.completions.Create(ctx, model.CompletionLog{
		TimerID:                timerID,
		ServerID:               s.serverID,
		NotificationReceivedAt: now,
		OriginalTargetInstant:  timer.TargetInstant,
	})
	if err != nil {
		logger.WithError(err).WithField("timer_id", timerID).Error("failed to log completion notification")
		return
	}

	mtx := newMutex(s.rdb, timerID, s.serverID, s.mutexTTL)
	acquired, err := mtx.acquire(ctx)
	if err != nil {
		logger.WithError(err).WithField("timer_id", timerID).Error("mutex acquire failed")
		return
	}
	if !acquired {
		// Another server already owns this expiry; our own log row stands
		// as the audit trail of having observed the notification.
		return
	}
	defer func() {
		if err := mtx.release(ctx); err != nil {
			logger.WithError(err).WithField("timer_id", timerID).Warn("mutex release failed")
		}
	}()

	started := time.Now()
	result := make(chan error, 1)
	select {
	case s.signals <- model.CompletionSignal{TimerID: timerID, Result: result}:
	case <-ctx.Done():
		return
	}

	var applyErr error
	select {
	case applyErr = <-result:
	case <-ctx.Done():
		return
	}
	completed := time.Now()

	logEntry := model.CompletionLog{
		ProcessingStartedAt:   &started,
		ProcessingCompletedAt: &completed,
		LockAcquired:          true,
		Success:               applyErr == nil,
		ProcessingDelayMillis: started.Sub(timer.TargetInstant).Milliseconds(),
	}
	if applyErr != nil {
		logEntry.ErrorMessage = applyErr.Error()
	}
	if err := s.completions.Update(ctx, logID, logEntry); err != nil {
		logger.WithError(err).WithField("timer_id", timerID).Error("failed to update completion log")
	}
}
