package samtext

import (
	"strings"
	"testing"

	"github.com/concordbio/hts/encoding/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() *sam.Header {
	h := sam.NewHeader()
	_ = h.AddReference(sam.NewReference("chr1", 100000))
	_ = h.AddReference(sam.NewReference("chr2", 200000))
	return h
}

func TestParseLineMandatoryFields(t *testing.T) {
	h := testHeader()
	line := "read1\t99\tchr1\t101\t60\t4M\t=\t301\t204\tACGT\tFFFF\tNM:i:0\tAS:i:-5"
	r, err := ParseLine(line, h)
	require.NoError(t, err)
	assert.Equal(t, "read1", r.Name)
	assert.Equal(t, sam.Flags(99), r.Flags)
	assert.Equal(t, 100, r.Pos) // 1-based 101 -> 0-based 100
	assert.Equal(t, byte(60), r.MapQ)
	assert.Equal(t, "4M", r.Cigar.String())
	assert.Equal(t, r.Ref, r.MateRef) // "=" resolves to same reference
	assert.Equal(t, 300, r.MatePos)
	assert.Equal(t, 204, r.TempLen)
	assert.Equal(t, "ACGT", r.Seq)
	assert.Equal(t, []byte{37, 37, 37, 37}, r.Qual)
	require.Len(t, r.AuxFields, 2)
	// NM:i:0 narrows to the smallest BAM integer type that fits (uint8 for 0).
	assert.Equal(t, uint8(0), r.AuxFields.Get(sam.Tag{'N', 'M'}).Value())
}

func TestParseLineUnmappedSentinelsAndTooShort(t *testing.T) {
	h := testHeader()
	r, err := ParseLine("u\t4\t*\t0\t0\t*\t*\t0\t0\t*\t*", h)
	require.NoError(t, err)
	assert.Nil(t, r.Ref)
	assert.Nil(t, r.MateRef)
	assert.Empty(t, r.Cigar)
	assert.Nil(t, r.Qual)

	_, err = ParseLine("x\t0", h)
	assert.Error(t, err)
}

func TestFormatLineRoundTrip(t *testing.T) {
	h := testHeader()
	line := "read1\t99\tchr1\t101\t60\t4M\t=\t301\t204\tACGT\tFFFF\tNM:i:0"
	r, err := ParseLine(line, h)
	require.NoError(t, err)
	out := FormatLine(r)
	assert.Equal(t, line, out)
}

func TestParseLineBArrayTag(t *testing.T) {
	h := testHeader()
	line := "r\t0\t*\t0\t0\t*\t*\t0\t0\t*\t*\tXA:B:i,1,-2,3"
	r, err := ParseLine(line, h)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, -2, 3}, r.AuxFields.Get(sam.Tag{'X', 'A'}).Value())
}

func TestReaderStreamsRecordsInOrder(t *testing.T) {
	text := "@HD\tVN:1.6\n" +
		"@SQ\tSN:chr1\tLN:1000\n" +
		"r1\t0\tchr1\t1\t60\t4M\t*\t0\t0\tACGT\tFFFF\n" +
		"r2\t0\tchr1\t5\t60\t4M\t*\t0\t0\tACGT\tFFFF\n" +
		"r3\t0\tchr1\t9\t60\t4M\t*\t0\t0\tACGT\tFFFF\n"

	rd, err := NewReader(strings.NewReader(text), nil)
	require.NoError(t, err)
	require.NotNil(t, rd.Header())

	var names []string
	for {
		r, err := rd.Read()
		if err != nil {
			break
		}
		names = append(names, r.Name)
	}
	require.NoError(t, rd.Close())
	assert.Equal(t, []string{"r1", "r2", "r3"}, names)
}

func TestReaderSkipsShortLines(t *testing.T) {
	text := "@HD\tVN:1.6\n\n\nr1\t0\t*\t0\t0\t*\t*\t0\t0\tAC\tFF\n"
	rd, err := NewReader(strings.NewReader(text), nil)
	require.NoError(t, err)
	r, err := rd.Read()
	require.NoError(t, err)
	assert.Equal(t, "r1", r.Name)
	_, err = rd.Read()
	assert.Error(t, err)
}
