// Package eventbus implements the Fleet Event Bus (component 4.D) on
// Redis Streams: two logical topics (timer-events, user-actions), one
// consumer group per server instance per topic so every server observes
// every event (broadcast, not work-stealing), grounded on the teacher's
// redis_stream package but rebuilt around go-redis's native Streams API
// and go-redis's own dial/backoff-less pooling rather than redigo's raw
// protocol, since go-redis already anchors the rest of the store layer.
package eventbus

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithFields(logrus.Fields{"component": "eventbus"})

// dialWithRetry pings a freshly constructed client with an exponential
// backoff, grounded on redis_stream.getReadConnectionPool's dial retry —
// generalized from redigo's Dial hook to a post-construction ping since
// go-redis dials lazily on first command.
func dialWithRetry(ctx context.Context, rdb *redis.Client, maxElapsed time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed

	return backoff.Retry(func() error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("event bus redis ping failed, retrying")
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
}
