package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"timerfleet/model"
)

// RecordConnection adds to all four canonical mappings plus the
// user-sessions index, each with its TTL. Per 4.A, the operation is
// considered successful once all four settle; a transport error on any one
// of them is surfaced as StoreUnavailable and the rest are left as partial
// writes to decay via TTL (no compensation logic).
func (idx *Index) RecordConnection(ctx context.Context, sess model.PresenceSession) error {
	pipe := idx.c.rdb.TxPipeline()
	pipe.SAdd(ctx, onlineUsersKey(sess.TimerID), sess.UserID)
	pipe.Expire(ctx, onlineUsersKey(sess.TimerID), idx.ttl.OnlineUsersTTL)
	pipe.SAdd(ctx, serverUsersKey(sess.ServerID), sess.UserID)
	pipe.Expire(ctx, serverUsersKey(sess.ServerID), idx.ttl.ServerUsersTTL)
	pipe.Set(ctx, connectedServerKey(sess.UserID), sess.ServerID, idx.ttl.ConnectedServerTTL)
	pipe.SAdd(ctx, userSessionsKey(sess.UserID), sess.SessionID)
	pipe.Expire(ctx, userSessionsKey(sess.UserID), idx.ttl.SessionTTL)
	pipe.HSet(ctx, sessionKey(sess.SessionID), map[string]any{
		"timerId":       sess.TimerID,
		"userId":        sess.UserID,
		"serverId":      sess.ServerID,
		"connectedAt":   sess.ConnectedAt.Format(time.RFC3339Nano),
		"lastHeartbeat": sess.LastHeartbeat.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, sessionKey(sess.SessionID), idx.ttl.SessionTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// loadSession reads a session record back out of its hash, returning
// (nil, nil) if the key has expired or never existed — the caller treats
// that as a no-op removal.
func (idx *Index) loadSession(ctx context.Context, sessionID string) (*model.PresenceSession, error) {
	m, err := idx.c.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if len(m) == 0 {
		return nil, nil
	}

	sess := &model.PresenceSession{
		SessionID: sessionID,
		TimerID:   m["timerId"],
		UserID:    m["userId"],
		ServerID:  m["serverId"],
	}
	if t, err := time.Parse(time.RFC3339Nano, m["connectedAt"]); err == nil {
		sess.ConnectedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, m["lastHeartbeat"]); err == nil {
		sess.LastHeartbeat = t
	}
	return sess, nil
}

// RemoveConnection reads the session record and performs the reverse
// removals, then deletes the session. A missing session is a no-op — the
// record may have decayed naturally.
func (idx *Index) RemoveConnection(ctx context.Context, sessionID string) error {
	sess, err := idx.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	return idx.removeConnection(ctx, sess.TimerID, sess.UserID, sess.ServerID, sessionID)
}

// RemoveConnectionByUser is the forced-removal variant (moderators, debug
// tools): identified positionally instead of via a session lookup.
func (idx *Index) RemoveConnectionByUser(ctx context.Context, timerID, userID string) error {
	serverID, err := idx.c.rdb.Get(ctx, connectedServerKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return wrapStoreErr(err)
	}
	return idx.removeConnection(ctx, timerID, userID, serverID, "")
}

func (idx *Index) removeConnection(ctx context.Context, timerID, userID, serverID, sessionID string) error {
	pipe := idx.c.rdb.TxPipeline()
	pipe.SRem(ctx, onlineUsersKey(timerID), userID)
	if serverID != "" {
		pipe.SRem(ctx, serverUsersKey(serverID), userID)
	}
	pipe.Del(ctx, connectedServerKey(userID))
	if sessionID != "" {
		pipe.SRem(ctx, userSessionsKey(userID), sessionID)
		pipe.Del(ctx, sessionKey(sessionID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// Heartbeat refreshes every TTL tied to the session and bumps
// lastHeartbeat, so active state never dies while inactive state decays.
func (idx *Index) Heartbeat(ctx context.Context, sessionID string) error {
	sess, err := idx.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	pipe := idx.c.rdb.TxPipeline()
	pipe.Expire(ctx, onlineUsersKey(sess.TimerID), idx.ttl.OnlineUsersTTL)
	pipe.Expire(ctx, serverUsersKey(sess.ServerID), idx.ttl.ServerUsersTTL)
	pipe.Expire(ctx, connectedServerKey(sess.UserID), idx.ttl.ConnectedServerTTL)
	pipe.Expire(ctx, userSessionsKey(sess.UserID), idx.ttl.SessionTTL)
	pipe.HSet(ctx, sessionKey(sessionID), "lastHeartbeat", time.Now().UTC().Format(time.RFC3339Nano))
	pipe.Expire(ctx, sessionKey(sessionID), idx.ttl.SessionTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// IsServerRelevant returns true iff timer:{t}:online_users and
// server:{s}:users intersect. Implemented with SINTERCARD ... LIMIT 1 so the
// intersection is never materialized: a single O(1)-ish store round-trip,
// constant memory, the hot path called on every bus event on every server.
func (idx *Index) IsServerRelevant(ctx context.Context, timerID, serverID string) (bool, error) {
	n, err := idx.c.rdb.SInterCard(ctx, 1, onlineUsersKey(timerID), serverUsersKey(serverID)).Result()
	if err != nil {
		return false, wrapStoreErr(err)
	}
	return n > 0, nil
}

// OnlineCount returns the cardinality of the timer's viewer set.
func (idx *Index) OnlineCount(ctx context.Context, timerID string) (int64, error) {
	n, err := idx.c.rdb.SCard(ctx, onlineUsersKey(timerID)).Result()
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	return n, nil
}
