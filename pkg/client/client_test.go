package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sherpa-network/sherpa/pkg/rpc"
)

// ============================================================
// URL handling
// ============================================================

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://example.com:8419", "ws://example.com:8419/ws"},
		{"https://example.com", "wss://example.com/ws"},
		{"ws://example.com/ws", "ws://example.com/ws"},
		{"wss://example.com:8419/", "wss://example.com:8419/ws"},
	}
	for _, tt := range tests {
		got, err := normalizeURL(tt.in)
		if err != nil {
			t.Errorf("normalizeURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("normalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := normalizeURL("ftp://example.com"); err == nil {
		t.Error("ftp scheme accepted")
	}
}

// ============================================================
// Frame routing
// ============================================================

// echoServer answers every request with one progress status frame and a
// response echoing the method name.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var req rpc.Request
			if err := ws.ReadJSON(&req); err != nil {
				return
			}

			st := rpc.NewStatus(rpc.StatusProgress, "working on "+req.Method)
			st.Progress = &rpc.Progress{CurrentPhase: "phase", PhaseNumber: 1, TotalPhases: 1}
			if err := ws.WriteJSON(st); err != nil {
				return
			}

			var params map[string]interface{}
			_ = json.Unmarshal(req.Params, &params)
			resp, _ := rpc.NewResponse(req.ID, map[string]interface{}{
				"method": req.Method,
				"token":  params["token"],
			})
			if err := ws.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func TestCallRoutesStatusAndResponse(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	var statuses []string
	c, err := Dial(context.Background(), srv.URL,
		WithToken("session-token"),
		WithStatusFunc(func(st *rpc.Status) { statuses = append(statuses, st.Message) }))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out struct {
		Method string `json:"method"`
		Token  string `json:"token"`
	}
	if err := c.Call(ctx, "list_labs", rpc.TokenParams{}, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.Method != "list_labs" {
		t.Errorf("echoed method = %q", out.Method)
	}
	// The client injected the session token into empty params.
	if out.Token != "session-token" {
		t.Errorf("echoed token = %q", out.Token)
	}
	if len(statuses) != 1 || !strings.Contains(statuses[0], "list_labs") {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestCallErrorResponse(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var req rpc.Request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		_ = ws.WriteJSON(rpc.NewErrorResponse(req.ID, rpc.NewError(rpc.CodeAuthForbidden, "not yours")))
		// Hold the socket open until the client hangs up.
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = c.Call(ctx, "inspect", rpc.LabParams{LabID: "deadbeef"}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	var wire *rpc.Error
	if !asWireError(err, &wire) || wire.Code != rpc.CodeAuthForbidden {
		t.Errorf("error = %v", err)
	}
}

func asWireError(err error, out **rpc.Error) bool {
	if e, ok := err.(*rpc.Error); ok {
		*out = e
		return true
	}
	return false
}

// ============================================================
// Token cache
// ============================================================

func TestTokenRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if tok, err := LoadToken(); err != nil || tok != "" {
		t.Fatalf("fresh LoadToken = %q, %v", tok, err)
	}
	if _, err := RequireToken(); err == nil {
		t.Fatal("RequireToken without a session should fail")
	}

	if err := SaveToken("abc.def.ghi"); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	path, err := tokenPath()
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}

	tok, err := LoadToken()
	if err != nil || tok != "abc.def.ghi" {
		t.Errorf("LoadToken = %q, %v", tok, err)
	}

	if err := ClearToken(); err != nil {
		t.Fatalf("ClearToken: %v", err)
	}
	if tok, _ := LoadToken(); tok != "" {
		t.Errorf("token survives ClearToken: %q", tok)
	}
	// Clearing twice is fine.
	if err := ClearToken(); err != nil {
		t.Errorf("second ClearToken: %v", err)
	}
}
