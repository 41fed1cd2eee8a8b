package bulkstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/server/arena"
)

func TestGetFailsUntilSealed(t *testing.T) {
	s := New(arena.DLMalloc, 0, SpillConfig{})
	defer s.Close()

	id, _, err := s.Create(16)
	require.NoError(t, err)

	_, err = s.Get([]uint64{id}, false)
	assert.ErrorContains(t, err, "code: 14")

	_, err = s.Get([]uint64{id}, true)
	assert.NoError(t, err)

	require.NoError(t, s.Seal(id))
	payloads, err := s.Get([]uint64{id}, false)
	require.NoError(t, err)
	assert.True(t, payloads[0].IsSealed)
}

func TestUnknownIDIsObjectNotExists(t *testing.T) {
	s := New(arena.DLMalloc, 0, SpillConfig{})
	defer s.Close()

	_, err := s.Get([]uint64{0x9999}, true)
	var status *common.Status
	require.ErrorAs(t, err, &status)
	assert.Equal(t, common.KObjectNotExists, status.Code)
}

func TestReleaseDropsDependencyAndIsInUse(t *testing.T) {
	s := New(arena.DLMalloc, 0, SpillConfig{})
	defer s.Close()

	id, _, err := s.Create(16)
	require.NoError(t, err)
	require.NoError(t, s.Seal(id))
	require.NoError(t, s.AddDependency([]uint64{id}, ConnID(1)))

	inUse, err := s.IsInUse(id)
	require.NoError(t, err)
	assert.True(t, inUse)

	require.NoError(t, s.Release(id, ConnID(1)))
	inUse, err = s.IsInUse(id)
	require.NoError(t, err)
	assert.False(t, inUse)
}

func TestReleaseConnectionDropsAllItsDependencies(t *testing.T) {
	s := New(arena.DLMalloc, 0, SpillConfig{})
	defer s.Close()

	idA, _, _ := s.Create(16)
	idB, _, _ := s.Create(16)
	require.NoError(t, s.Seal(idA))
	require.NoError(t, s.Seal(idB))
	require.NoError(t, s.AddDependency([]uint64{idA, idB}, ConnID(7)))

	s.ReleaseConnection(ConnID(7))

	inUse, _ := s.IsInUse(idA)
	assert.False(t, inUse)
	inUse, _ = s.IsInUse(idB)
	assert.False(t, inUse)
}

func TestOnDeleteForceFreesRegardlessOfRefCount(t *testing.T) {
	s := New(arena.DLMalloc, 0, SpillConfig{})
	defer s.Close()

	id, _, _ := s.Create(16)
	require.NoError(t, s.Seal(id))
	require.NoError(t, s.AddDependency([]uint64{id}, ConnID(1)))

	require.NoError(t, s.OnDelete(id))
	assert.False(t, s.Exists(id))
}

func TestSpillingEvictsUnusedSealedPayloadsUnderWatermark(t *testing.T) {
	dir := t.TempDir()
	limit := uint64(64 << 20)
	s := New(arena.DLMalloc, limit, SpillConfig{Path: dir, LowerRate: 0.3, UpperRate: 0.8})
	defer s.Close()

	ids := make([]uint64, 0, 8)
	for i := 0; i < 8; i++ {
		id, _, err := s.Create(16 << 20)
		require.NoError(t, err)
		require.NoError(t, s.Seal(id))
		ids = append(ids, id)
	}

	assert.Less(t, s.Footprint(), uint64(19<<20))

	spilledCount := 0
	for _, id := range ids {
		spilled, err := s.IsSpilled(id)
		require.NoError(t, err)
		if spilled {
			spilledCount++
		}
	}
	assert.Greater(t, spilledCount, 0)

	for _, id := range ids {
		spilled, _ := s.IsSpilled(id)
		if spilled {
			payloads, err := s.Get([]uint64{id}, false)
			require.NoError(t, err)
			assert.False(t, payloads[0].IsSpilled)
			reSpilled, _ := s.IsSpilled(id)
			assert.False(t, reSpilled)
			break
		}
	}
}

func TestRemoveOwnershipSkipsStillReferencedPayloads(t *testing.T) {
	s := New(arena.DLMalloc, 0, SpillConfig{})
	defer s.Close()

	idA, _, _ := s.Create(16)
	idB, _, _ := s.Create(16)
	require.NoError(t, s.Seal(idA))
	require.NoError(t, s.Seal(idB))
	require.NoError(t, s.AddDependency([]uint64{idA}, ConnID(1)))

	removed := s.RemoveOwnership([]uint64{idA, idB})
	_, hasA := removed[idA]
	_, hasB := removed[idB]
	assert.False(t, hasA, "still-referenced payload must not move")
	assert.True(t, hasB)
	assert.False(t, s.Exists(idB))
	assert.True(t, s.Exists(idA))
}
