// Package virt wraps the native libvirt API: scoped connection, storage
// pools and volumes with streamed uploads, lab networks, and domain
// lifecycle. The libvirt connection is not thread-safe, so every call is
// routed through a single worker goroutine that owns it; callers block on
// a reply channel and the reactor never touches libvirt directly.
package virt

import (
	"fmt"
	"sync"

	libvirt "libvirt.org/go/libvirt"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// Session is a scoped libvirt connection. Close is guaranteed to release
// the underlying file descriptor; libvirt leaks it otherwise.
type Session struct {
	jobs chan job
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

type job struct {
	fn    func(conn *libvirt.Connect) error
	reply chan error
}

// Connect opens a libvirt connection at uri and starts the worker that
// owns it.
func Connect(uri string) (*Session, error) {
	s := &Session{
		jobs: make(chan job),
		done: make(chan struct{}),
	}

	ready := make(chan error, 1)
	go s.worker(uri, ready)
	if err := <-ready; err != nil {
		return nil, fmt.Errorf("libvirt connect %s: %w: %v", uri, util.ErrUnavailable, err)
	}
	util.Debugf("virt: connected to %s", uri)
	return s, nil
}

// worker owns the connection for the session's whole lifetime. Blocking
// libvirt calls happen only here.
func (s *Session) worker(uri string, ready chan<- error) {
	defer close(s.done)

	conn, err := libvirt.NewConnect(uri)
	ready <- err
	if err != nil {
		return
	}

	for j := range s.jobs {
		j.reply <- j.fn(conn)
	}
	if _, err := conn.Close(); err != nil {
		util.Warnf("virt: close connection: %v", err)
	}
}

// run executes fn on the worker goroutine and waits for its result.
func (s *Session) run(fn func(conn *libvirt.Connect) error) error {
	j := job{fn: fn, reply: make(chan error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("libvirt session closed: %w", util.ErrNotConnected)
	}
	s.jobs <- j
	s.mu.Unlock()

	return <-j.reply
}

// Close shuts the worker down and releases the connection.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	<-s.done
}

// Ping verifies the hypervisor is still answering.
func (s *Session) Ping() error {
	return s.run(func(conn *libvirt.Connect) error {
		_, err := conn.GetVersion()
		return err
	})
}
