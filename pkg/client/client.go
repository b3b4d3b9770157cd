// Package client is the WebSocket RPC client used by sherpactl: one
// socket per session, calls matched to responses by request ID, with
// status and log frames surfaced through callbacks.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sherpa-network/sherpa/pkg/rpc"
	"github.com/sherpa-network/sherpa/pkg/util"
)

// StatusFunc receives server status frames (progress, waiting, done).
type StatusFunc func(*rpc.Status)

// LogFunc receives broadcast log frames after log_subscribe.
type LogFunc func(*rpc.Log)

// Client is one connected control-plane session.
type Client struct {
	ws *websocket.Conn

	// Token is injected into params that carry an empty token field.
	Token string

	onStatus StatusFunc
	onLog    LogFunc

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *rpc.Response
	closed  bool
	readErr error
}

// Option configures a Client at dial time.
type Option func(*Client)

// WithToken sets the session token injected into every call.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

// WithStatusFunc installs the status-frame callback.
func WithStatusFunc(fn StatusFunc) Option {
	return func(c *Client) { c.onStatus = fn }
}

// WithLogFunc installs the log-frame callback.
func WithLogFunc(fn LogFunc) Option {
	return func(c *Client) { c.onLog = fn }
}

// Dial connects to a sherpa server. Accepts http(s) or ws(s) URLs, with
// or without the /ws path.
func Dial(ctx context.Context, serverURL string, opts ...Option) (*Client, error) {
	wsURL, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w: %v", wsURL, util.ErrNotConnected, err)
	}

	c := &Client{
		ws:      ws,
		pending: make(map[string]chan *rpc.Response),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c, nil
}

// normalizeURL rewrites a server URL into the ws(s)://host/ws form.
func normalizeURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("server url %q: %w", serverURL, util.ErrValidationFailed)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	case "":
		u, err = url.Parse("ws://" + serverURL)
		if err != nil {
			return "", fmt.Errorf("server url %q: %w", serverURL, util.ErrValidationFailed)
		}
	default:
		return "", fmt.Errorf("server url scheme %q: %w", u.Scheme, util.ErrValidationFailed)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Call performs one RPC and decodes the result into out (which may be
// nil). Status frames arriving while the call is in flight go to the
// status callback.
func (c *Client) Call(ctx context.Context, method string, params, out interface{}) error {
	raw, err := c.marshalParams(params)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	ch := make(chan *rpc.Response, 1)
	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = util.ErrNotConnected
		}
		return fmt.Errorf("session closed: %w", err)
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := rpc.Request{Type: rpc.TypeRequest, ID: id, Method: method, Params: raw}
	c.writeMu.Lock()
	err = c.ws.WriteJSON(&req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("connection lost during %s: %w", method, util.ErrNotConnected)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// marshalParams injects the session token into params that have an empty
// token field.
func (c *Client) marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		params = struct{}{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	if c.Token == "" {
		return raw, nil
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw, nil
	}
	if tok, ok := m["token"].(string); !ok || tok == "" {
		m["token"] = c.Token
	}
	return json.Marshal(m)
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		switch rpc.FrameType(data) {
		case rpc.TypeResponse:
			var resp rpc.Response
			if err := json.Unmarshal(data, &resp); err != nil {
				continue
			}
			c.mu.Lock()
			ch := c.pending[resp.ID]
			c.mu.Unlock()
			if ch != nil {
				ch <- &resp
			}
		case rpc.TypeStatus:
			if c.onStatus == nil {
				continue
			}
			var st rpc.Status
			if err := json.Unmarshal(data, &st); err == nil {
				c.onStatus(&st)
			}
		case rpc.TypeLog:
			if c.onLog == nil {
				continue
			}
			var lg rpc.Log
			if err := json.Unmarshal(data, &lg); err == nil {
				c.onLog(&lg)
			}
		}
	}
}

// fail closes every pending call after a read error.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.readErr = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Close tears the session down.
func (c *Client) Close() error {
	c.fail(nil)
	return c.ws.Close()
}
