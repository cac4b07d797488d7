// Package server binds a TCP listener, accepts connections, and drives one
// worker per connection through handshake and the command loop.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"go.uber.org/atomic"

	"github.com/ruleserver/mysqlrules/internal/bridge"
	"github.com/ruleserver/mysqlrules/internal/dispatch"
	"github.com/ruleserver/mysqlrules/internal/logging"
	"github.com/ruleserver/mysqlrules/internal/protocol"
	"github.com/ruleserver/mysqlrules/internal/state"
	"github.com/ruleserver/mysqlrules/rule"
)

// Options configures a Server.
type Options struct {
	Addr string

	Default state.Credentials
	Remote  state.Credentials

	Rules []rule.Rule

	AuthPolicy protocol.AuthPolicy

	ServerVersion string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DrainTimeout bounds how long Stop waits for in-flight workers before
	// returning, per spec.md §6 "exit code 0 on graceful shutdown".
	DrainTimeout time.Duration

	// OnReady, if set, is called once the listener is bound, with its
	// actual address (useful when Addr names an ephemeral port).
	OnReady func(addr net.Addr)
}

// Server owns the listener and the shared, read-only rule list.
type Server struct {
	opts       Options
	bridge     *bridge.Bridge
	dispatcher *dispatch.Dispatcher
	nextConnID atomic.Uint32

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	wg       sync.WaitGroup
}

// New builds a Server. It does not bind a socket until Serve is called.
func New(opts Options) *Server {
	if opts.ServerVersion == "" {
		opts.ServerVersion = "8.0.31-rules"
	}
	if opts.AuthPolicy == nil {
		opts.AuthPolicy = protocol.DefaultAuthPolicy{}
	}
	if opts.DrainTimeout == 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	b := bridge.New()
	return &Server{
		opts:       opts,
		bridge:     b,
		dispatcher: dispatch.New(opts.Rules, b),
	}
}

// Serve binds the listener and runs the accept loop until ctx is canceled
// or Stop is called. It returns after the listener is closed and (bounded
// by DrainTimeout) in-flight workers have finished.
func (s *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return errors.Annotatef(err, "server: listen on %s", s.opts.Addr)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.opts.OnReady != nil {
		s.opts.OnReady(ln.Addr())
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.acceptLoop(ln); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.opts.DrainTimeout):
	}
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) error {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			if netErr, ok := err.(net.Error); ok && netErr.Temporary() { //nolint:staticcheck
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if max := time.Second; delay > max {
					delay = max
				}
				logging.L().WithError(err).Warnf("server: accept temporary error, backing off %s", delay)
				time.Sleep(delay)
				continue
			}
			return errors.Trace(err)
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Stop closes the listener and waits up to DrainTimeout for in-flight
// workers to finish.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.opts.DrainTimeout):
		logging.L().Warn("server: drain timeout exceeded, returning with workers still active")
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	connID := s.nextConnID.Inc()
	w := &worker{
		connID:     connID,
		conn:       conn,
		server:     s,
		authPolicy: s.opts.AuthPolicy,
	}
	w.run()
}
