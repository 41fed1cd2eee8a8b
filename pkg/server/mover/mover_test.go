package mover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vineyard-go/vineyard/pkg/server/arena"
	"github.com/vineyard-go/vineyard/pkg/server/bulkstore"
)

func TestMoveBuffersOwnershipTransfersByteIdenticalPayload(t *testing.T) {
	source := bulkstore.New(arena.DLMalloc, 0, bulkstore.SpillConfig{})
	defer source.Close()
	target := bulkstore.New(arena.DLMalloc, 0, bulkstore.SpillConfig{})
	defer target.Close()

	id, _, err := source.Create(16)
	require.NoError(t, err)
	require.NoError(t, source.Seal(id))

	skipped, err := MoveBuffersOwnership(map[uint64]uint64{id: id}, source, target)
	require.NoError(t, err)
	assert.Empty(t, skipped)

	assert.False(t, source.Exists(id), "source must no longer reach the moved id")
	assert.True(t, target.Exists(id), "target must now reach the moved id")

	payloads, err := target.Get([]uint64{id}, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), payloads[0].DataSize)
}

func TestMoveBuffersOwnershipSkipsStillReferencedPayload(t *testing.T) {
	source := bulkstore.New(arena.DLMalloc, 0, bulkstore.SpillConfig{})
	defer source.Close()
	target := bulkstore.New(arena.DLMalloc, 0, bulkstore.SpillConfig{})
	defer target.Close()

	id, _, err := source.Create(16)
	require.NoError(t, err)
	require.NoError(t, source.Seal(id))
	require.NoError(t, source.AddDependency([]uint64{id}, bulkstore.ConnID(1)))

	skipped, err := MoveBuffersOwnership(map[uint64]uint64{id: id}, source, target)
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, skipped)
	assert.True(t, source.Exists(id))
	assert.False(t, target.Exists(id))
}
