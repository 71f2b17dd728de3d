package sledbackend

import (
	"testing"

	"github.com/aether-kv/kvs/internal/kvserrors"
	"github.com/stretchr/testify/require"
)

func TestBackend_SetGetRemove(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Set("foo", "bar"))
	val, ok, err := b.Get("foo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bar", val)

	require.NoError(t, b.Remove("foo"))
	_, ok, err = b.Get("foo")
	require.NoError(t, err)
	require.False(t, ok)

	err = b.Remove("foo")
	var notExist *kvserrors.ErrKeyNotExist
	require.ErrorAs(t, err, &notExist)
}

func TestBackend_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, b.Set("k1", "v1"))
	require.NoError(t, b.Set("k2", "v2"))
	require.NoError(t, b.Close())

	b2, err := Open(dir)
	require.NoError(t, err)
	defer b2.Close()

	val, ok, err := b2.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", val)

	val, ok, err = b2.Get("k2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", val)
}
