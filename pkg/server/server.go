// Package server is the WebSocket RPC control plane: a single /ws
// endpoint multiplexing requests, responses, progress status frames, and
// broadcast log frames over one socket per client. Authentication is
// token-per-request; authorization is owner-or-admin, enforced here
// before any handler touches a lab.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sherpa-network/sherpa/pkg/auth"
	"github.com/sherpa-network/sherpa/pkg/config"
	"github.com/sherpa-network/sherpa/pkg/images"
	"github.com/sherpa-network/sherpa/pkg/lab"
	"github.com/sherpa-network/sherpa/pkg/rpc"
	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/util"
)

// Engine is the lab-lifecycle surface the dispatcher drives.
type Engine interface {
	Up(ctx context.Context, manifestText string, owner *store.User, send lab.ProgressSender) (*lab.UpSummary, error)
	Destroy(ctx context.Context, labID string) (*lab.DestroySummary, error)
	Suspend(ctx context.Context, labID string) ([]lab.VmActionResult, error)
	Resume(ctx context.Context, labID string) ([]lab.VmActionResult, error)
	List(ctx context.Context, owner string, all bool) ([]lab.LabSummary, error)
	Inspect(ctx context.Context, labID string) (*lab.LabDetail, error)
	Owner(ctx context.Context, labID string) (string, error)
}

// Datastore is the slice of the store the server uses directly: accounts
// and the counts/probes behind server_info.
type Datastore interface {
	GetUserByName(ctx context.Context, username string) (*store.User, error)
	CreateUser(ctx context.Context, u *store.User) (*store.User, error)
	UpdateUser(ctx context.Context, u *store.User) (*store.User, error)
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]*store.User, error)

	ListLabs(ctx context.Context) ([]*store.Lab, error)
	ListNodeImages(ctx context.Context) ([]*store.NodeImage, error)
	Ping(ctx context.Context) error
}

// ImageService is the registry surface behind the image methods.
type ImageService interface {
	Import(ctx context.Context, model, version, src string, latest bool) (*images.ImportResult, error)
	Scan(ctx context.Context) ([]images.ScanResult, error)
	RegisterContainer(ctx context.Context, repo, tag string) (*store.NodeImage, error)
}

// Puller pulls container images and answers the docker reachability probe.
type Puller interface {
	ImagePull(ctx context.Context, repo, tag string) error
	Ping(ctx context.Context) error
}

// Deps carries everything a Server needs. LibvirtPing may be nil when the
// daemon runs without a hypervisor (container-only host).
type Deps struct {
	Cfg         *config.Config
	Issuer      *auth.Issuer
	DB          Datastore
	Engine      Engine
	Images      ImageService
	Docker      Puller
	LibvirtPing func() error
}

// Server dispatches RPC calls over registered WebSocket connections.
type Server struct {
	deps     Deps
	registry *registry
	locks    *labLocks
	logs     *logHook
	upgrader websocket.Upgrader
}

// New builds a server and installs its log hook on the process logger so
// subscribed connections receive the daemon's log stream.
func New(deps Deps) *Server {
	s := &Server{
		deps:     deps,
		registry: newRegistry(),
		locks:    newLabLocks(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The control plane is token-authenticated per request, not
			// origin-trusted; browsers are not the expected client.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.logs = newLogHook(s.registry)
	util.AddHook(s.logs)
	return s
}

// Handler returns the HTTP mux: /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Shutdown closes every live connection.
func (s *Server) Shutdown() {
	s.registry.closeAll()
}

// Connections reports the number of registered connections.
func (s *Server) Connections() int {
	return s.registry.count()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Warnf("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}

	c := newConn(uuid.NewString(), r.RemoteAddr, ws, auth.TokenFromRequest(r))
	s.registry.add(c)
	go c.writeLoop()
	util.WithField("connection", c.id).Debugf("connection opened from %s", c.remote)

	defer func() {
		s.registry.remove(c.id)
		c.close()
		util.WithField("connection", c.id).Debug("connection closed")
	}()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			// Binary frames are reserved.
			continue
		}
		if rpc.FrameType(data) != rpc.TypeRequest {
			continue
		}
		var req rpc.Request
		if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
			continue
		}
		// Each request runs on its own goroutine; the connection's write
		// queue keeps its progress frames ahead of its response. Handlers
		// outlive the socket so partial state always lands in the store.
		go s.dispatch(context.Background(), c, &req)
	}
}
