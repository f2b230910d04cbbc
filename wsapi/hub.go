// Package wsapi implements the session transport: the WebSocket connect
// handler and the per-timer local fan-out it feeds into.
//
// Grounded on the mrf-agent-racer example's ws package — that example
// broadcasts every message to every client over one flat connection set;
// here fan-out is scoped per timerId, so the flat client map becomes a
// map of timerId to client sets, and writePump/client lifecycle keep the
// teacher's shape.
package wsapi

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"timerfleet/model"
)

var logger = logrus.WithFields(logrus.Fields{"component": "wsapi"})

// Hub tracks which connections are subscribed to which timerId and fans
// local dispatches out to them. It implements both timercore.LocalSink and
// eventbus.LocalSink, which share the same DispatchLocal signature.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*client]bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*client]bool)}
}

func (h *Hub) subscribe(timerID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[timerID]
	if !ok {
		set = make(map[*client]bool)
		h.subs[timerID] = set
	}
	set[c] = true
}

func (h *Hub) unsubscribe(timerID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[timerID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.subs, timerID)
	}
}

// DispatchLocal pushes an envelope to every connection subscribed to
// timerID on this server. Satisfies timercore.LocalSink and
// eventbus.LocalSink.
func (h *Hub) DispatchLocal(timerID string, env model.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logger.WithError(err).Error("failed to marshal envelope for local dispatch")
		return
	}

	h.mu.RLock()
	set := h.subs[timerID]
	clients := make([]*client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			logger.Warn("ws client too slow, disconnecting")
			c.close()
		}
	}
}

// SubscriberCount reports how many local connections are watching a timer,
// mainly useful for tests and diagnostics.
func (h *Hub) SubscriberCount(timerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[timerID])
}
