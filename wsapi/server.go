package wsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"timerfleet/model"
	"timerfleet/presence"
	"timerfleet/timercore"
)

// ClientFrame is the client-to-server WebSocket message shape (§6):
// {"action":"save"|"change_target"|"complete", ...}.
type ClientFrame struct {
	Action        string         `json:"action"`
	TargetInstant time.Time      `json:"targetInstant,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

const (
	actionSave         = "save"
	actionChangeTarget = "change_target"
	actionComplete     = "complete"
)

// Server upgrades and drives the WebSocket session transport. It is the
// sole place that emits USER_JOINED/USER_LEFT, per the Open Question
// resolution recorded in SPEC_FULL.md: exactly once, here, never from a
// presence-layer listener.
type Server struct {
	hub        *Hub
	dispatcher *timercore.Dispatcher
	presence   *presence.Index
	bus        timercore.Publisher
	serverID   string
	authToken  string
	upgrader   websocket.Upgrader

	allowedOrigins map[string]bool
}

func NewServer(hub *Hub, dispatcher *timercore.Dispatcher, idx *presence.Index, bus timercore.Publisher, serverID, authToken string, allowedOrigins []string) *Server {
	s := &Server{
		hub:            hub,
		dispatcher:     dispatcher,
		presence:       idx,
		bus:            bus,
		serverID:       serverID,
		authToken:      authToken,
		allowedOrigins: make(map[string]bool),
	}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o != "" {
			s.allowedOrigins[o] = true
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// RegisterRoutes wires the session-transport endpoint onto mux, in the
// style of the mrf-agent-racer example's Server.SetupRoutes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/timers/{id}", s.handleWS)
}

// authorize mirrors httpapi.Server.authorize/mrf-agent-racer's
// Server.authorize: bypassed entirely when no token is configured.
func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get("X-Timerfleet-Token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	if s.allowedOrigins[origin] {
		return true
	}
	parsed, err := url.Parse(origin)
	return err == nil && parsed.Host == r.Host
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	timerID := r.PathValue("id")

	userID := r.URL.Query().Get("userId")
	sessionID := uuid.New().String()
	if userID == "" {
		userID = sessionID
	}

	view, err := s.dispatcher.GetByID(ctx, timerID, userID)
	if err != nil {
		http.Error(w, "timer not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("ws upgrade failed")
		return
	}

	c := newClient(conn, sessionID, timerID, userID)
	s.hub.subscribe(timerID, c)

	now := time.Now()
	if err := s.presence.RecordConnection(ctx, model.PresenceSession{
		SessionID:     sessionID,
		TimerID:       timerID,
		UserID:        userID,
		ServerID:      s.serverID,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}); err != nil {
		logger.WithError(err).WithField("timer_id", timerID).Warn("record connection failed")
	}

	s.emitAndDispatch(ctx, model.Envelope{
		EventType:      model.EventUserJoined,
		EventID:        uuid.New().String(),
		TimerID:        timerID,
		Timestamp:      now,
		OriginServerID: s.serverID,
		Payload:        map[string]any{"userId": userID},
	})
	s.dispatcher.OnPresenceChange(ctx, timerID)

	if view.Role == model.RoleViewer {
		s.dispatcher.OnSharedAccess(ctx, timerID, userID)
	}

	go s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.disconnect(c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.WithError(err).Warn("failed to decode client frame")
			continue
		}
		s.handleAction(context.Background(), c, frame)
	}
}

func (s *Server) handleAction(ctx context.Context, c *client, frame ClientFrame) {
	var err error
	switch frame.Action {
	case actionSave:
		_, err = s.dispatcher.SaveTimestamp(ctx, c.timerID, c.userID, frame.Meta)
	case actionChangeTarget:
		_, err = s.dispatcher.ChangeTarget(ctx, c.timerID, frame.TargetInstant, c.userID)
	case actionComplete:
		err = s.dispatcher.ForceComplete(ctx, c.timerID, c.userID)
	default:
		logger.WithField("action", frame.Action).Warn("unrecognized client frame action")
		return
	}
	if err != nil {
		logger.WithError(err).WithField("timer_id", c.timerID).WithField("action", frame.Action).Warn("client action failed")
	}
}

func (s *Server) disconnect(c *client) {
	ctx := context.Background()
	s.hub.unsubscribe(c.timerID, c)
	c.close()

	if err := s.presence.RemoveConnection(ctx, c.sessionID); err != nil {
		logger.WithError(err).WithField("timer_id", c.timerID).Warn("remove connection failed")
	}

	s.emitAndDispatch(ctx, model.Envelope{
		EventType:      model.EventUserLeft,
		EventID:        uuid.New().String(),
		TimerID:        c.timerID,
		Timestamp:      time.Now(),
		OriginServerID: s.serverID,
		Payload:        map[string]any{"userId": c.userID},
	})
	s.dispatcher.OnPresenceChange(ctx, c.timerID)
}

// emitAndDispatch publishes to the fleet bus and pushes to local
// subscribers directly, mirroring timercore.Dispatcher.publishAndDispatch:
// same-server viewers shouldn't wait on the bus round-trip for their own
// server's join/leave event.
func (s *Server) emitAndDispatch(ctx context.Context, env model.Envelope) {
	if err := s.bus.Publish(ctx, env); err != nil {
		logger.WithError(err).WithField("timer_id", env.TimerID).Error("bus publish failed")
	}
	s.hub.DispatchLocal(env.TimerID, env)
}
