// Package server implements the TCP accept loop described in SPEC_FULL.md
// §4.5: one request, one reply, per connection, dispatched through a
// worker pool so the accept loop itself never blocks on request handling.
// Grounded on the original source's KvsServer (serve/serve_engine/handle),
// re-expressed with net.Listener and the workerpool abstraction instead of
// a blocking per-connection thread.
package server

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/aether-kv/kvs/internal/backend"
	"github.com/aether-kv/kvs/internal/kvserrors"
	"github.com/aether-kv/kvs/internal/protocol"
	"github.com/aether-kv/kvs/internal/workerpool"
)

// Server binds a listener and dispatches accepted connections to a store
// through a worker pool.
type Server struct {
	store Store
	pool  workerpool.Pool

	mu       sync.Mutex
	listener net.Listener
	killed   atomic.Bool
}

// Store is the subset of backend.Store the server needs; kept distinct
// from backend.Store so tests can supply a fake without pulling in a real
// engine or sled-alternative backend.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, bool, error)
	Remove(key string) error
}

var _ Store = (backend.Store)(nil)

// New builds a server over store, dispatching connections through pool.
func New(store Store, pool workerpool.Pool) *Server {
	return &Server{store: store, pool: pool}
}

// Start binds addr and serves connections until a KILL request is handled
// or the listener is closed. It blocks until then.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("server: listening", "addr", addr)
	return s.Serve(ln)
}

// Serve runs the accept loop on an already-bound listener, until a KILL
// request is handled or the listener is closed. Exposed separately from
// Start so callers (and tests) that need the bound address before serving
// begins can bind it themselves first.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.killed.Load() || errors.Is(err, net.ErrClosed) {
				slog.Info("server: accept loop stopped")
				return nil
			}
			slog.Error("server: accept failed", "error", err)
			return err
		}

		s.pool.Submit(func() {
			s.handle(conn)
		})
	}
}

// Stop closes the listener, unblocking Accept in Start.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// handle processes exactly one request/reply exchange on conn, then closes
// it, per §4.5: "read one framed request, execute it against the backend,
// send one framed reply, close."
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	req, err := protocol.ReadRequest(conn)
	if err != nil {
		slog.Warn("server: failed to read request", "error", err, "remote", conn.RemoteAddr())
		return
	}

	reply := s.execute(req)

	if err := protocol.WriteReply(conn, reply); err != nil {
		slog.Warn("server: failed to write reply", "error", err, "remote", conn.RemoteAddr())
	}

	// Stop the accept loop from the goroutine that actually handled the
	// KILL request, rather than racing with it from the loop itself: the
	// job runs on a pool worker, so checking s.killed right after Submit
	// in Serve could observe it before this goroutine ever set it.
	if req.Cmd == protocol.CmdKill && reply.Status == protocol.Success {
		s.Stop()
	}
}

// execute runs one request against the store and maps the outcome to a
// reply, per §4.4's argument-arity rules and §4.6's status mapping.
func (s *Server) execute(req *protocol.Request) *protocol.Reply {
	wantArgs, known := protocol.RequiredArgs(req.Cmd)
	if !known {
		return &protocol.Reply{Status: protocol.InvalidCommand, Result: "unknown command: " + req.Cmd}
	}
	if len(req.Argument) != wantArgs {
		return &protocol.Reply{
			Status: protocol.InvalidArguments,
			Result: "wrong number of arguments",
		}
	}

	switch req.Cmd {
	case protocol.CmdGet:
		value, ok, err := s.store.Get(req.Argument[0])
		if err != nil {
			slog.Error("server: get failed", "key", req.Argument[0], "error", err)
			return &protocol.Reply{Status: protocol.ServerInternalError, Result: err.Error()}
		}
		if !ok {
			// A GET miss is Success with Found: false, per §8.6 —
			// KeyNotFound is reserved for REMOVE of a missing key.
			return &protocol.Reply{Status: protocol.Success, Found: false}
		}
		return &protocol.Reply{Status: protocol.Success, Found: true, Result: value}

	case protocol.CmdSet:
		if err := s.store.Set(req.Argument[0], req.Argument[1]); err != nil {
			slog.Error("server: set failed", "key", req.Argument[0], "error", err)
			return &protocol.Reply{Status: protocol.ServerInternalError, Result: err.Error()}
		}
		return &protocol.Reply{Status: protocol.Success}

	case protocol.CmdRm, protocol.CmdRemove, protocol.CmdDelete:
		err := s.store.Remove(req.Argument[0])
		if err != nil {
			var notExist *kvserrors.ErrKeyNotExist
			if errors.As(err, &notExist) {
				return &protocol.Reply{Status: protocol.KeyNotFound}
			}
			slog.Error("server: remove failed", "key", req.Argument[0], "error", err)
			return &protocol.Reply{Status: protocol.ServerInternalError, Result: err.Error()}
		}
		return &protocol.Reply{Status: protocol.Success}

	case protocol.CmdKill:
		slog.Info("server: kill requested, accept loop will stop")
		s.killed.Store(true)
		return &protocol.Reply{Status: protocol.Success}

	default:
		return &protocol.Reply{Status: protocol.InvalidCommand, Result: "unknown command: " + req.Cmd}
	}
}
