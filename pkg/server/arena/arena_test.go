package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vineyard-go/vineyard/pkg/common/types"
)

func TestCreateZeroSizeReturnsEmptyBlobID(t *testing.T) {
	a := New(DLMalloc, 0)
	id, p, err := a.Create(0)
	require.NoError(t, err)
	assert.Equal(t, types.EmptyBlobID(), id)
	assert.Equal(t, uint64(0), p.DataSize)
}

func TestCreateAndWriteRoundTrip(t *testing.T) {
	a := New(DLMalloc, 1<<20)
	defer a.Close()

	id, p, err := a.Create(16)
	require.NoError(t, err)
	assert.True(t, types.IsBlob(id))
	assert.Equal(t, uint64(16), p.DataSize)
	assert.False(t, p.IsSealed)

	buf, err := a.Bytes(p)
	require.NoError(t, err)
	require.Len(t, buf, 16)
	for i := range buf {
		buf[i] = byte(i)
	}

	again, err := a.Bytes(p)
	require.NoError(t, err)
	for i := range again {
		assert.Equal(t, byte(i), again[i])
	}
}

func TestCreateGrowsNewRegionWhenCurrentIsFull(t *testing.T) {
	a := New(DLMalloc, 64)
	defer a.Close()

	_, p1, err := a.Create(48)
	require.NoError(t, err)
	_, p2, err := a.Create(48)
	require.NoError(t, err)

	assert.NotEqual(t, p1.StoreFd, p2.StoreFd, "second allocation should grow a fresh region")
}

func TestFinalizeArenaRegistersSubAllocations(t *testing.T) {
	a := New(DLMalloc, 0)
	defer a.Close()

	fd, err := a.MakeArena(4096)
	require.NoError(t, err)

	ids, payloads, err := a.FinalizeArena(fd, []int64{0, 1024}, []int64{512, 512})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Len(t, payloads, 2)
	assert.Equal(t, uint64(512), payloads[0].DataSize)
	assert.Equal(t, uint64(1024), payloads[1].DataOffset)
}

func TestFinalizeArenaRejectsOutOfBoundsSubAllocation(t *testing.T) {
	a := New(DLMalloc, 0)
	defer a.Close()

	fd, err := a.MakeArena(1024)
	require.NoError(t, err)

	_, _, err = a.FinalizeArena(fd, []int64{512}, []int64{1024})
	assert.Error(t, err)
}

func TestFootprintTracksAllocations(t *testing.T) {
	a := New(DLMalloc, 1<<20)
	defer a.Close()

	_, _, err := a.Create(100)
	require.NoError(t, err)
	_, _, err = a.Create(50)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), a.Footprint())

	a.ReleaseFootprint(100)
	assert.Equal(t, uint64(50), a.Footprint())
}
