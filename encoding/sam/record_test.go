package sam

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseCodeRoundTrip(t *testing.T) {
	for _, b := range []byte("=ACMGRSVTWYHKDBN") {
		code, ok := BaseCode(b)
		assert.True(t, ok)
		assert.Equal(t, b, BaseLetter(code))
	}
	// Lower-case letters map to the same code as upper-case.
	code, ok := BaseCode('a')
	assert.True(t, ok)
	assert.Equal(t, byte('A'), BaseLetter(code))
}

func TestBaseCodeRejectsUnknownLetter(t *testing.T) {
	_, ok := BaseCode('Q')
	assert.False(t, ok)
}

func TestRecordEndUsesCigarReferenceLength(t *testing.T) {
	cigar, _ := ParseCigar("10M2I3D5M")
	r := &Record{Pos: 100, Cigar: cigar}
	assert.Equal(t, 100+10+3+5, r.End())
}

func TestRefIDAndMateRefIDDefaultUnmapped(t *testing.T) {
	r := &Record{}
	assert.Equal(t, -1, r.RefID())
	assert.Equal(t, -1, r.MateRefID())

	h := NewHeader()
	ref := NewReference("chr1", 1000)
	_ = h.AddReference(ref)
	r.Ref = ref
	assert.Equal(t, 0, r.RefID())
}

func TestMinBinHierarchy(t *testing.T) {
	assert.Equal(t, 4681, MinBin(100, 104))
	// A huge interval spanning more than 2^26 bases falls to the top bin.
	assert.Equal(t, 0, MinBin(0, 1<<27))
}
