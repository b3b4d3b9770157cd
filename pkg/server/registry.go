package server

import "sync"

// registry tracks live connections by UUID. It is the only state shared
// across connections.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*conn)}
}

func (r *registry) add(c *conn) {
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// broadcastLog fans a log frame out to every subscribed connection. Send
// failures mean the connection is going away; the reader will unregister
// it.
func (r *registry) broadcastLog(frame interface{}) {
	r.mu.RLock()
	subscribers := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		if c.subscribed() {
			subscribers = append(subscribers, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range subscribers {
		_ = c.send(frame)
	}
}

// closeAll terminates every connection; used on daemon shutdown.
func (r *registry) closeAll() {
	r.mu.Lock()
	conns := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
