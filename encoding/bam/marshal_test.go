package bam

import (
	"bytes"
	"testing"

	"github.com/concordbio/hts/encoding/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRefs() ([]*sam.Reference, *sam.Header) {
	h := sam.NewHeader()
	chr1 := sam.NewReference("chr1", 100000)
	chr2 := sam.NewReference("chr2", 200000)
	_ = h.AddReference(chr1)
	_ = h.AddReference(chr2)
	return h.References(), h
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	refs, _ := testRefs()
	cigar, err := sam.ParseCigar("4M")
	require.NoError(t, err)

	src := &sam.Record{
		Name:    "read1",
		Ref:     refs[0],
		Pos:     100,
		MapQ:    60,
		Cigar:   cigar,
		Flags:   sam.Paired | sam.Read1,
		MateRef: refs[0],
		MatePos: 200,
		TempLen: 104,
		Seq:     "ACGT",
		Qual:    []byte{30, 31, 32, 33},
	}
	require.NoError(t, src.AuxFields.Add(sam.Tag{'N', 'M'}, 'i', int32(0)))

	var buf bytes.Buffer
	require.NoError(t, Marshal(src, &buf))

	rec := NewRecord()
	require.NoError(t, Decode(bytes.NewReader(buf.Bytes()), rec, refs))
	require.NoError(t, rec.MaterializeAll())

	assert.Equal(t, src.Name, rec.Name)
	assert.Equal(t, src.Pos, rec.Pos)
	assert.Equal(t, src.MapQ, rec.MapQ)
	assert.Equal(t, src.Cigar.String(), rec.Cigar.String())
	assert.Equal(t, src.Flags, rec.Flags)
	assert.Equal(t, src.Seq, rec.Seq)
	assert.Equal(t, src.Qual, rec.Qual)
	assert.Equal(t, src.MatePos, rec.MatePos)
	assert.Equal(t, src.TempLen, rec.TempLen)
	assert.Equal(t, 1, len(rec.AuxFields))
	assert.Equal(t, int32(0), rec.AuxFields.Get(sam.Tag{'N', 'M'}).Value())
}

func TestMarshalRejectsMismatchedSeqQualLength(t *testing.T) {
	refs, _ := testRefs()
	src := &sam.Record{Name: "r", Ref: refs[0], Pos: 0, Seq: "ACGT", Qual: []byte{1, 2}}
	var buf bytes.Buffer
	assert.Error(t, Marshal(src, &buf))
}

func TestMarshalRejectsEmptyName(t *testing.T) {
	src := &sam.Record{Name: "", Seq: "A"}
	var buf bytes.Buffer
	assert.Error(t, Marshal(src, &buf))
}

func TestComputeBinUsesOverrideWhenSet(t *testing.T) {
	b := 7
	r := &sam.Record{Pos: 0, Bin: &b}
	assert.Equal(t, 7, computeBin(r))
}

func TestUnmappedRecordHasNilQualSentinel(t *testing.T) {
	refs, _ := testRefs()
	src := &sam.Record{Name: "u", Pos: -1, Seq: "AC"}
	var buf bytes.Buffer
	require.NoError(t, Marshal(src, &buf))

	rec := NewRecord()
	require.NoError(t, Decode(bytes.NewReader(buf.Bytes()), rec, refs))
	rec.MaterializeQual()
	assert.Nil(t, rec.Qual)
}
