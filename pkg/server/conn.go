package server

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// conn is one registered WebSocket connection. The reader goroutine lives
// in the server; writes go through an unbounded queue drained by a single
// writer goroutine so handlers and log broadcasts never block on the
// socket.
type conn struct {
	id     string
	remote string
	ws     *websocket.Conn

	// fallbackToken came with the upgrade request (Bearer header or
	// cookie); it authenticates requests whose params omit the token.
	fallbackToken string

	mu             sync.Mutex
	cond           *sync.Cond
	queue          [][]byte
	closed         bool
	subscribedLogs bool
}

func newConn(id, remote string, ws *websocket.Conn, fallbackToken string) *conn {
	c := &conn{id: id, remote: remote, ws: ws, fallbackToken: fallbackToken}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// send marshals a frame and enqueues it. Frames are written in enqueue
// order, so progress sent before a response stays before it on the wire.
func (c *conn) send(frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection %s: %w", c.id, util.ErrNotConnected)
	}
	c.queue = append(c.queue, data)
	c.cond.Signal()
	return nil
}

// writeLoop drains the queue onto the socket until the connection closes.
func (c *conn) writeLoop() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed && len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, frame := range batch {
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		}
	}
}

// close marks the connection dead and wakes the writer. Safe to call more
// than once.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	_ = c.ws.Close()
}

func (c *conn) setSubscribed(on bool) {
	c.mu.Lock()
	c.subscribedLogs = on
	c.mu.Unlock()
}

func (c *conn) subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedLogs
}
