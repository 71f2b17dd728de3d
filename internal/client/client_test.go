package client

import (
	"net"
	"testing"

	"github.com/aether-kv/kvs/internal/kvserrors"
	"github.com/aether-kv/kvs/internal/server"
	"github.com/aether-kv/kvs/internal/workerpool"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	data map[string]string
}

func (m *memStore) Set(key, value string) error {
	m.data[key] = value
	return nil
}

func (m *memStore) Get(key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Remove(key string) error {
	if _, ok := m.data[key]; !ok {
		return &kvserrors.ErrKeyNotExist{Key: key}
	}
	delete(m.data, key)
	return nil
}

func TestClient_SetGetRemove(t *testing.T) {
	store := &memStore{data: make(map[string]string)}
	s := server.New(store, workerpool.NewDirectPool())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	go func() { _ = s.Serve(ln) }()
	defer s.Stop()

	c := New(addr)

	require.NoError(t, c.Set("foo", "bar"))

	val, found, err := c.Get("foo")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "bar", val)

	_, found, err = c.Get("missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Remove("foo"))

	err = c.Remove("foo")
	require.ErrorAs(t, err, new(*kvserrors.ErrKeyNotExist))
}
