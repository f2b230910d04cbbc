// Package presence implements the Presence Index (component 4.A): the
// shared-store mappings that let any server in the fleet determine, in
// O(1), whether it has locally connected viewers for a given timer.
//
// Grounded on the teacher's redis.RedisClient: a thin go-redis/v9 wrapper
// constructed once at startup and passed by reference to every key family
// helper below.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"timerfleet/config"
	"timerfleet/model"
)

var logger = logrus.WithFields(logrus.Fields{"component": "presence"})

// Client wraps a go-redis connection the way the teacher's RedisClient
// wraps *redis.Client: a single struct, constructed once, passed around by
// pointer.
type Client struct {
	rdb *redis.Client
}

// NewClient dials Redis and verifies connectivity with a PING, matching the
// teacher's NewRedisClient.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	logger.Info("closing presence redis client")
	return c.rdb.Close()
}

// Raw exposes the underlying client for components (schedule, eventbus)
// that need primitives outside the Presence Index's own contract, such as
// SetNX for the completion mutex or Subscribe for keyspace notifications.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Key families, per the data model table.
func onlineUsersKey(timerID string) string    { return fmt.Sprintf("timer:%s:online_users", timerID) }
func serverUsersKey(serverID string) string   { return fmt.Sprintf("server:%s:users", serverID) }
func connectedServerKey(userID string) string { return fmt.Sprintf("user:%s:connected_server_id", userID) }
func sessionKey(sessionID string) string      { return fmt.Sprintf("session:%s", sessionID) }
func userSessionsKey(userID string) string    { return fmt.Sprintf("user:%s:sessions", userID) }

// Index is the Presence Index contract (4.A).
type Index struct {
	c   *Client
	ttl config.Config
}

// NewIndex builds an Index over an already-connected Client, capturing the
// layered TTLs from Config.
func NewIndex(c *Client, cfg *config.Config) *Index {
	return &Index{c: c, ttl: *cfg}
}

func wrapStoreErr(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	return errors.Mark(errors.Errorf("presence store error: %w", err), model.ErrStoreUnavailable)
}
