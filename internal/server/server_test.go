package server

import (
	"net"
	"sync"
	"testing"

	"github.com/aether-kv/kvs/internal/kvserrors"
	"github.com/aether-kv/kvs/internal/protocol"
	"github.com/aether-kv/kvs/internal/workerpool"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeStore) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return &kvserrors.ErrKeyNotExist{Key: key}
	}
	delete(f.data, key)
	return nil
}

func startTestServer(t *testing.T, store Store) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &Server{store: store, pool: workerpool.NewDirectPool()}
	s.listener = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.pool.Submit(func() { s.handle(conn) })
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func roundTrip(t *testing.T, addr string, req *protocol.Request) *protocol.Reply {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.WriteRequest(conn, req))
	rep, err := protocol.ReadReply(conn)
	require.NoError(t, err)
	return rep
}

func TestServer_SetGetRemove(t *testing.T) {
	store := newFakeStore()
	addr, stop := startTestServer(t, store)
	defer stop()

	rep := roundTrip(t, addr, &protocol.Request{Cmd: protocol.CmdSet, Argument: []string{"k", "v"}})
	require.Equal(t, protocol.Success, rep.Status)

	rep = roundTrip(t, addr, &protocol.Request{Cmd: protocol.CmdGet, Argument: []string{"k"}})
	require.Equal(t, protocol.Success, rep.Status)
	require.True(t, rep.Found)
	require.Equal(t, "v", rep.Result)

	rep = roundTrip(t, addr, &protocol.Request{Cmd: protocol.CmdRm, Argument: []string{"k"}})
	require.Equal(t, protocol.Success, rep.Status)

	rep = roundTrip(t, addr, &protocol.Request{Cmd: protocol.CmdGet, Argument: []string{"k"}})
	require.Equal(t, protocol.Success, rep.Status)
	require.False(t, rep.Found)
}

func TestServer_WrongArityIsInvalidArguments(t *testing.T) {
	store := newFakeStore()
	addr, stop := startTestServer(t, store)
	defer stop()

	rep := roundTrip(t, addr, &protocol.Request{Cmd: protocol.CmdSet, Argument: []string{"only-one"}})
	require.Equal(t, protocol.InvalidArguments, rep.Status)
}

func TestServer_UnknownCommandIsInvalidCommand(t *testing.T) {
	store := newFakeStore()
	addr, stop := startTestServer(t, store)
	defer stop()

	rep := roundTrip(t, addr, &protocol.Request{Cmd: "BOGUS"})
	require.Equal(t, protocol.InvalidCommand, rep.Status)
}

func TestServer_RemoveMissingKeyIsKeyNotFound(t *testing.T) {
	store := newFakeStore()
	addr, stop := startTestServer(t, store)
	defer stop()

	rep := roundTrip(t, addr, &protocol.Request{Cmd: protocol.CmdRm, Argument: []string{"missing"}})
	require.Equal(t, protocol.KeyNotFound, rep.Status)
}
