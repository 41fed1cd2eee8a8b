package metastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutGetDelete(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "instance/0/abc", []byte(`{"typename":"Tensor"}`)))

	got, err := store.Get(ctx, "instance/0/abc")
	require.NoError(t, err)
	assert.Equal(t, `{"typename":"Tensor"}`, string(got))

	require.NoError(t, store.Delete(ctx, "instance/0/abc"))
	_, err = store.Get(ctx, "instance/0/abc")
	assert.Error(t, err)
}

func TestLocalListByPrefix(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "instance/0/a", []byte("1")))
	require.NoError(t, store.Put(ctx, "instance/0/b", []byte("2")))
	require.NoError(t, store.Put(ctx, "instance/1/c", []byte("3")))

	got, err := store.List(ctx, "instance/0/")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("1"), got["instance/0/a"])
}

func TestEtcdBackendReportsNotAvailable(t *testing.T) {
	_, err := NewEtcd("127.0.0.1:2379", "/vineyard")
	assert.ErrorIs(t, err, ErrNotAvailable)
}
