package names

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Put("foo", 42))
	id, err := r.Get("foo")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
}

func TestGetMissingNameFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	assert.Error(t, err)
}

func TestGetWaitUnblocksOnLaterPut(t *testing.T) {
	r := NewRegistry()
	done := make(chan uint64, 1)
	go func() {
		id, err := r.GetWait(context.Background(), "foo", true)
		assert.NoError(t, err)
		done <- id
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Put("foo", 7))

	select {
	case id := <-done:
		assert.Equal(t, uint64(7), id)
	case <-time.After(time.Second):
		t.Fatal("GetWait never unblocked")
	}
}

func TestGetWaitCancelledByContextDoesNotLeakWaiter(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := r.GetWait(ctx, "bar", true)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("GetWait never returned after cancel")
	}

	r.mu.Lock()
	waiters := len(r.waiters["bar"])
	r.mu.Unlock()
	assert.Equal(t, 0, waiters)
}
