package wsapi

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// client mirrors the teacher's ws.client: a connection plus a buffered
// outbound channel drained by its own writePump goroutine, so a slow
// reader never blocks the dispatch path.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	timerID   string
	userID    string

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, sessionID, timerID, userID string) *client {
	c := &client{
		conn:      conn,
		send:      make(chan []byte, 64),
		sessionID: sessionID,
		timerID:   timerID,
		userID:    userID,
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}
