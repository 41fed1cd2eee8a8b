package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vineyard-go/vineyard/pkg/common/types"
)

func TestPushThenPullReturnsChunkInOrder(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(1))
	require.NoError(t, s.PushChunk(1, 100))
	require.NoError(t, s.PushChunk(1, 101))

	c1, err := s.PullChunk(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, types.ObjectID(100), c1)

	c2, err := s.PullChunk(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, types.ObjectID(101), c2)
}

func TestPullBlocksUntilPush(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(1))

	result := make(chan types.ObjectID, 1)
	go func() {
		id, err := s.PullChunk(context.Background(), 1)
		assert.NoError(t, err)
		result <- id
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.PushChunk(1, 7))

	select {
	case id := <-result:
		assert.Equal(t, types.ObjectID(7), id)
	case <-time.After(time.Second):
		t.Fatal("PullChunk never unblocked")
	}
}

func TestStopDrainedReturnsStreamDrainedOnceEmpty(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(1))
	require.NoError(t, s.PushChunk(1, 1))
	require.NoError(t, s.Stop(1, false))

	id, err := s.PullChunk(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, types.ObjectID(1), id)

	_, err = s.PullChunk(context.Background(), 1)
	assert.ErrorContains(t, err, "code: 42")
}

func TestStopAbortedReturnsStreamFailed(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(1))
	require.NoError(t, s.Stop(1, true))

	_, err := s.PullChunk(context.Background(), 1)
	assert.ErrorContains(t, err, "code: 43")
}

func TestCancelledContextUnblocksPuller(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(1))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.PullChunk(ctx, 1)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("PullChunk never returned after cancel")
	}
}
