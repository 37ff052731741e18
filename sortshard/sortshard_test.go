package sortshard

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordbio/hts/encoding/bam"
	"github.com/concordbio/hts/encoding/sam"
)

func testHeader() *sam.Header {
	h := sam.NewHeader()
	_ = h.AddReference(sam.NewReference("chr1", 100000))
	_ = h.AddReference(sam.NewReference("chr2", 200000))
	return h
}

func testRecord(name string, ref *sam.Reference, pos int) *sam.Record {
	return &sam.Record{
		Name:    name,
		Ref:     ref,
		Pos:     pos,
		MapQ:    60,
		Seq:     "ACGT",
		Qual:    []byte{30, 30, 30, 30},
		MatePos: -1,
	}
}

func TestWriterReaderBlockRoundTrip(t *testing.T) {
	pool := newBlockPool()
	var buf bytes.Buffer
	w := newWriter(&buf, false, []byte("hdr-bytes"), pool)
	entries := []entry{
		{key: 1, body: []byte("one")},
		{key: 2, body: []byte("two")},
		{key: 3, body: []byte("three")},
	}
	for _, e := range entries {
		require.NoError(t, w.add(e))
	}
	require.NoError(t, w.finish())

	raw := buf.Bytes()
	ra := bytes.NewReader(raw)
	idx, trailerOffset, err := readIndex(ra, int64(len(raw)))
	require.NoError(t, err)
	assert.False(t, idx.snappy)
	assert.EqualValues(t, 3, idx.numRecords)
	assert.Equal(t, []byte("hdr-bytes"), idx.encHeader)

	region := io.LimitReader(bytes.NewReader(raw), trailerOffset)
	rd := open(region, idx, pool)
	var got []entry
	for rd.scan() {
		got = append(got, rd.key())
	}
	require.NoError(t, rd.Err())
	require.Len(t, got, 3)
	for i, e := range entries {
		assert.Equal(t, e.key, got[i].key)
		assert.Equal(t, e.body, got[i].body)
	}
}

func TestWriterReaderSnappyRoundTrip(t *testing.T) {
	pool := newBlockPool()
	var buf bytes.Buffer
	w := newWriter(&buf, true, nil, pool)
	for i := 0; i < 50; i++ {
		require.NoError(t, w.add(entry{key: uint64(i), body: []byte("payload-data-for-entry")}))
	}
	require.NoError(t, w.finish())

	raw := buf.Bytes()
	idx, trailerOffset, err := readIndex(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	assert.True(t, idx.snappy)
	assert.EqualValues(t, 50, idx.numRecords)

	rd := open(io.LimitReader(bytes.NewReader(raw), trailerOffset), idx, pool)
	n := 0
	for rd.scan() {
		assert.Equal(t, uint64(n), rd.key().key)
		n++
	}
	require.NoError(t, rd.Err())
	assert.Equal(t, 50, n)
}

func TestPositionComparatorOrdersByRefPosReverse(t *testing.T) {
	h := testHeader()
	cmp := positionComparator{}
	r1 := testRecord("a", h.Reference(0), 100)
	r2 := testRecord("b", h.Reference(0), 200)
	r3 := testRecord("c", h.Reference(1), 0)
	k1, k2, k3 := cmp.keyOf(r1), cmp.keyOf(r2), cmp.keyOf(r3)
	assert.Less(t, k1, k2)
	assert.Less(t, k2, k3)
}

func TestSorterSortsByPosition(t *testing.T) {
	h := testHeader()
	out, err := ioutil.TempFile("", "sorter-out")
	require.NoError(t, err)
	defer os.Remove(out.Name())
	require.NoError(t, out.Close())

	s := NewSorter(out.Name(), h, SortOptions{SortBatchSize: 2, Parallelism: 1})
	s.AddRecord(testRecord("r3", h.Reference(0), 300))
	s.AddRecord(testRecord("r1", h.Reference(0), 100))
	s.AddRecord(testRecord("r2", h.Reference(0), 200))
	s.AddRecord(testRecord("r0", nil, 0))
	stats, err := s.Close()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.RecordsWritten)
	assert.Equal(t, 4, stats.RecordsRead)

	raw, err := ioutil.ReadFile(out.Name())
	require.NoError(t, err)
	idx, trailerOffset, err := readIndex(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	pool := newBlockPool()
	rd := open(io.LimitReader(bytes.NewReader(raw), trailerOffset), idx, pool)
	var names []string
	for rd.scan() {
		names = append(names, bamRecordName(rd.key().body))
	}
	require.NoError(t, rd.Err())
	// r0 is unmapped and sorts last under the position comparator.
	assert.Equal(t, []string{"r1", "r2", "r3", "r0"}, names)
}

func TestSorterSortsByName(t *testing.T) {
	h := testHeader()
	out, err := ioutil.TempFile("", "sorter-out-byname")
	require.NoError(t, err)
	defer os.Remove(out.Name())
	require.NoError(t, out.Close())

	s := NewSorter(out.Name(), h, SortOptions{Order: OrderName, SortBatchSize: 100, Parallelism: 1})
	s.AddRecord(testRecord("charlie", h.Reference(0), 10))
	s.AddRecord(testRecord("alpha", h.Reference(0), 20))
	s.AddRecord(testRecord("bravo", h.Reference(0), 30))
	stats, err := s.Close()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RecordsWritten)

	raw, err := ioutil.ReadFile(out.Name())
	require.NoError(t, err)
	idx, trailerOffset, err := readIndex(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	pool := newBlockPool()
	rd := open(io.LimitReader(bytes.NewReader(raw), trailerOffset), idx, pool)
	var names []string
	for rd.scan() {
		names = append(names, bamRecordName(rd.key().body))
	}
	require.NoError(t, rd.Err())
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names)
}

func TestMergeToBAMRejectsEmptyShardList(t *testing.T) {
	err := MergeToBAM(nil, "/tmp/shouldnotbecreated.bam", OrderPosition, 6, false)
	assert.Error(t, err)
}

func TestMergeToWriterBuildsIndex(t *testing.T) {
	h := testHeader()
	shard, err := ioutil.TempFile("", "sorter-shard")
	require.NoError(t, err)
	defer os.Remove(shard.Name())
	require.NoError(t, shard.Close())

	s := NewSorter(shard.Name(), h, SortOptions{SortBatchSize: 100, Parallelism: 1})
	s.AddRecord(testRecord("r1", h.Reference(0), 100))
	s.AddRecord(testRecord("r2", h.Reference(0), 200))
	s.AddRecord(testRecord("r3", h.Reference(1), 50))
	_, err = s.Close()
	require.NoError(t, err)

	var buf bytes.Buffer
	idx, err := MergeToWriter([]string{shard.Name()}, &buf, OrderPosition, 6, true)
	require.NoError(t, err)
	require.NotNil(t, idx)
	require.Len(t, idx.Refs, 2)
	assert.NotEmpty(t, idx.Refs[0].Bins, "chr1 should have at least one observed bin")
	assert.NotEmpty(t, idx.Refs[1].Bins, "chr2 should have at least one observed bin")

	// The chunks recorded for ref 0 must point into the bytes actually
	// written to buf, not past the end of it.
	for _, bin := range idx.Refs[0].Bins {
		for _, c := range bin.Chunks {
			fileOffset, _ := bam.SplitOffset(c.End)
			assert.LessOrEqual(t, fileOffset, int64(buf.Len()))
		}
	}
}

func TestMergeToWriterNoIndexReturnsNil(t *testing.T) {
	h := testHeader()
	shard, err := ioutil.TempFile("", "sorter-shard-noidx")
	require.NoError(t, err)
	defer os.Remove(shard.Name())
	require.NoError(t, shard.Close())

	s := NewSorter(shard.Name(), h, SortOptions{SortBatchSize: 100, Parallelism: 1})
	s.AddRecord(testRecord("r1", h.Reference(0), 100))
	_, err = s.Close()
	require.NoError(t, err)

	var buf bytes.Buffer
	idx, err := MergeToWriter([]string{shard.Name()}, &buf, OrderPosition, 6, false)
	require.NoError(t, err)
	assert.Nil(t, idx)
}
