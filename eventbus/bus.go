package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"timerfleet/compressor"
	"timerfleet/model"
	"timerfleet/parser"
	"timerfleet/store"
)

const envelopeField = "envelope"

// PresenceChecker is the narrow slice of presence.Index the bus needs for
// its per-event relevance filter (4.D step 2).
type PresenceChecker interface {
	IsServerRelevant(ctx context.Context, timerID, serverID string) (bool, error)
}

// LocalSink is the session-transport push target (implemented by wsapi.Hub).
type LocalSink interface {
	DispatchLocal(timerID string, env model.Envelope)
}

// Bus is the Fleet Event Bus. One instance runs per server; it publishes
// to both topics and consumes both via a consumer group scoped to this
// server's instance id, which is what makes delivery broadcast rather than
// partitioned/work-stealing — every server's group sees every entry.
type Bus struct {
	rdb        *redis.Client
	serverID   string
	presence   PresenceChecker
	local      LocalSink
	eventLogs  *store.EventLogRepo
	compressor compressor.Compresser
	parser     parser.Parser

	wg   sync.WaitGroup
	stop chan struct{}
}

func New(rdb *redis.Client, serverID string, presence PresenceChecker, local LocalSink, eventLogs *store.EventLogRepo) *Bus {
	return &Bus{
		rdb:        rdb,
		serverID:   serverID,
		presence:   presence,
		local:      local,
		eventLogs:  eventLogs,
		compressor: &compressor.ZstdCompressor{},
		parser:     &parser.JSONParser{},
		stop:       make(chan struct{}),
	}
}

func (b *Bus) groupName(topic model.Topic) string {
	return fmt.Sprintf("server:%s:%s", b.serverID, topic)
}

// Publish writes the envelope to its topic's stream (XADD *, broadcast via
// consumer groups on the read side — see Start).
func (b *Bus) Publish(ctx context.Context, env model.Envelope) error {
	if env.EventID == "" {
		env.EventID = uuid.New().String()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	env.OriginServerID = b.serverID

	body, err := b.parser.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "eventbus: marshal envelope")
	}

	topic := model.TopicOf(env.EventType)
	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: string(topic),
		Values: map[string]any{envelopeField: body},
	}).Err()
	if err != nil {
		return errors.Mark(errors.Wrap(err, "eventbus: xadd"), model.ErrBusUnavailable)
	}
	return nil
}

// Start creates (if absent) this server's consumer group on both topics
// and begins consuming. It returns once both consume loops have exited.
func (b *Bus) Start(ctx context.Context) error {
	if err := dialWithRetry(ctx, b.rdb, 30*time.Second); err != nil {
		return errors.Wrap(err, "eventbus: connect")
	}

	for _, topic := range []model.Topic{model.TopicTimerEvents, model.TopicUserActions} {
		if err := b.ensureGroup(ctx, topic); err != nil {
			return err
		}
	}

	b.wg.Add(2)
	go b.consumeLoop(ctx, model.TopicTimerEvents)
	go b.consumeLoop(ctx, model.TopicUserActions)

	b.wg.Wait()
	return nil
}

func (b *Bus) Stop() {
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
}

func (b *Bus) ensureGroup(ctx context.Context, topic model.Topic) error {
	err := b.rdb.XGroupCreateMkStream(ctx, string(topic), b.groupName(topic), "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return errors.Wrapf(err, "eventbus: create consumer group for %s", topic)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// consumeLoop implements the per-event handler (4.D): relevance filter,
// event-log persistence, local dispatch, continue-on-error ack.
func (b *Bus) consumeLoop(ctx context.Context, topic model.Topic) {
	defer b.wg.Done()

	consumerName := b.serverID
	group := b.groupName(topic)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		default:
		}

		streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumerName,
			Streams:  []string{string(topic), ">"},
			Count:    50,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			logger.WithError(err).WithField("topic", topic).Warn("xreadgroup failed")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.handleMessage(ctx, topic, group, msg)
			}
		}
	}
}

func (b *Bus) handleMessage(ctx context.Context, topic model.Topic, group string, msg redis.XMessage) {
	defer func() {
		if err := b.rdb.XAck(ctx, string(topic), group, msg.ID).Err(); err != nil {
			logger.WithError(err).WithField("msg_id", msg.ID).Warn("xack failed")
		}
	}()

	raw, _ := msg.Values[envelopeField].(string)
	b.handleMessageForTest(ctx, []byte(raw))
}

// handleMessageForTest runs the per-event handler's decode-and-process
// steps (4.D steps 1-4) without the redis-stream acknowledgement, so it
// can be exercised against a bare envelope payload in unit tests.
func (b *Bus) handleMessageForTest(ctx context.Context, raw []byte) {
	var env model.Envelope
	if err := b.parser.Unmarshal(raw, &env); err != nil {
		logger.WithError(err).Error("failed to decode envelope")
		return
	}

	if !model.AlwaysDispatch(env.EventType) {
		relevant, err := b.presence.IsServerRelevant(ctx, env.TimerID, b.serverID)
		if err != nil {
			logger.WithError(err).WithField("timer_id", env.TimerID).Warn("relevance check failed")
			return
		}
		if !relevant {
			return
		}
	}

	if err := b.persistEventLog(ctx, env); err != nil {
		logger.WithError(err).WithField("timer_id", env.TimerID).Error("event log persistence failed")
	}

	b.local.DispatchLocal(env.TimerID, env)
}

func (b *Bus) persistEventLog(ctx context.Context, env model.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "eventbus: marshal event log payload")
	}

	compressed, err := b.compressor.Compress(body)
	if err != nil {
		if errors.Is(err, compressor.ErrNotShrunk) {
			compressed = body
		} else {
			return errors.Wrap(err, "eventbus: compress event log payload")
		}
	}

	return b.eventLogs.Create(ctx, model.EventLogRecord{
		TimerID:        env.TimerID,
		EventType:      env.EventType,
		EventID:        env.EventID,
		OriginServerID: env.OriginServerID,
		Payload:        compressed,
		PersistedAt:    time.Now(),
	})
}
