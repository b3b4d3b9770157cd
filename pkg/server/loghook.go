package server

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sherpa-network/sherpa/pkg/rpc"
)

// logRingSize bounds the replay buffer handed to new subscribers.
const logRingSize = 500

// logHook bridges the daemon logger onto subscribed connections and keeps
// a bounded ring of recent frames for replay on subscribe.
type logHook struct {
	reg *registry

	mu   sync.Mutex
	ring []*rpc.Log
}

func newLogHook(reg *registry) *logHook {
	return &logHook{reg: reg}
}

// Levels implements logrus.Hook.
func (h *logHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
		logrus.DebugLevel,
	}
}

// Fire implements logrus.Hook.
func (h *logHook) Fire(entry *logrus.Entry) error {
	frame := &rpc.Log{
		Type:      rpc.TypeLog,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Timestamp: entry.Time.UTC(),
	}
	if len(entry.Data) > 0 {
		frame.Context = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			frame.Context[k] = v
		}
	}

	h.mu.Lock()
	h.ring = append(h.ring, frame)
	if len(h.ring) > logRingSize {
		h.ring = h.ring[len(h.ring)-logRingSize:]
	}
	h.mu.Unlock()

	h.reg.broadcastLog(frame)
	return nil
}

// replay returns the buffered frames, oldest first.
func (h *logHook) replay() []*rpc.Log {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*rpc.Log, len(h.ring))
	copy(out, h.ring)
	return out
}
