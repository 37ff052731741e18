package bam

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexBuilderObserveCoalescesNearbyChunks(t *testing.T) {
	b := NewIndexBuilder(1)
	// Two records in the same bin whose chunk boundaries are within
	// MinChunkGap should be merged into a single chunk.
	b.Observe(0, 100, 104, 4681, true, 0, 100)
	b.Observe(0, 200, 204, 4681, true, 100, 200)

	idx := b.Finalize()
	require.Len(t, idx.Refs[0].Bins, 1)
	assert.Equal(t, 1, len(idx.Refs[0].Bins[0].Chunks))
	assert.Equal(t, Offset(200), idx.Refs[0].Bins[0].Chunks[0].End)
}

func TestIndexBuilderObserveSplitsDistantChunks(t *testing.T) {
	b := NewIndexBuilder(1)
	b.Observe(0, 100, 104, 4681, true, 0, 100)
	b.Observe(0, 200, 204, 4681, true, 1<<20, 1<<20+100)

	idx := b.Finalize()
	require.Len(t, idx.Refs[0].Bins[0].Chunks, 2)
}

func TestIndexBuilderLinearIndexForwardFill(t *testing.T) {
	b := NewIndexBuilder(1)
	b.Observe(0, 0, 10, 4681, true, 50, 60)
	// A record far away creates a gap of empty tiles that must be
	// forward-filled from the nearest preceding populated tile.
	b.Observe(0, 5*LinearWindowSize, 5*LinearWindowSize+10, 4681, true, 500, 600)

	idx := b.Finalize()
	ivals := idx.Refs[0].Intervals
	require.True(t, len(ivals) >= 6)
	for tile := 1; tile < 5; tile++ {
		assert.Equal(t, ivals[0], ivals[tile], "tile %d should forward-fill from tile 0", tile)
	}
}

func TestIndexBuilderUnmappedCount(t *testing.T) {
	b := NewIndexBuilder(1)
	b.Observe(-1, 0, 0, 0, false, 0, 10)
	b.Observe(-1, 0, 0, 0, false, 10, 20)
	idx := b.Finalize()
	require.NotNil(t, idx.UnmappedCount)
	assert.Equal(t, uint64(2), *idx.UnmappedCount)
}

func TestWriteIndexReadIndexRoundTrip(t *testing.T) {
	b := NewIndexBuilder(1)
	b.Observe(0, 100, 104, 4681, true, 0, 100)
	b.Observe(0, 5000, 5010, 4682, true, 100, 300)
	idx := b.Finalize()

	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, idx))

	got, err := ReadIndex(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, idx.Magic, got.Magic)
	require.Len(t, got.Refs, 1)
	assert.Equal(t, len(idx.Refs[0].Bins), len(got.Refs[0].Bins))
	assert.Equal(t, idx.Refs[0].Intervals, got.Refs[0].Intervals)
}

func TestSplitOffsetDecomposesVirtualOffset(t *testing.T) {
	vo := (int64(12345) << 16) | int64(42)
	file, within := SplitOffset(Offset(vo))
	assert.Equal(t, int64(12345), file)
	assert.Equal(t, uint16(42), within)
}
