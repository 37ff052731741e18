package sam

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaderAndReferences(t *testing.T) {
	text := "@HD\tVN:1.6\tSO:coordinate\n" +
		"@SQ\tSN:chr1\tLN:1000\n" +
		"@SQ\tSN:chr2\tLN:2000\n" +
		"@PG\tID:bwa\tPN:bwa\tVN:0.7.17\n" +
		"read1\t0\tchr1\t1\t60\t4M\t*\t0\t0\tACGT\tFFFF\n"

	h, firstRec, err := ParseHeader(bufio.NewReader(strings.NewReader(text)))
	require.NoError(t, err)
	assert.Equal(t, "coordinate", h.SortOrder)
	assert.Equal(t, 2, len(h.References()))
	assert.Equal(t, 0, h.IndexOf("chr1"))
	assert.Equal(t, 1, h.IndexOf("chr2"))
	assert.Equal(t, -1, h.IndexOf("chr3"))
	assert.True(t, h.Contains("chr1"))
	assert.Equal(t, 1000, h.Reference(0).Len())
	assert.Contains(t, firstRec, "read1")
	require.Len(t, h.Programs, 1)
	assert.Equal(t, "bwa", h.Programs[0].ID)
}

func TestAddReferenceRejectsDuplicateName(t *testing.T) {
	h := NewHeader()
	require.NoError(t, h.AddReference(NewReference("chr1", 100)))
	assert.Error(t, h.AddReference(NewReference("chr1", 200)))
}

func TestWriteToAppendsProgramRecord(t *testing.T) {
	h := NewHeader()
	require.NoError(t, h.AddReference(NewReference("chr1", 100)))
	h.Programs = []ProgramRecord{{ID: "bwa", Name: "bwa"}}

	var buf bytes.Buffer
	prog := ProgramRecord{ID: "htssort", Name: "htssort", Version: "1.0"}
	require.NoError(t, h.WriteTo(&buf, prog, false))
	out := buf.String()
	assert.Contains(t, out, "@SQ\tSN:chr1\tLN:100")
	assert.Contains(t, out, "@PG\tID:bwa")
	assert.Contains(t, out, "@PG\tID:htssort")
}

func TestWriteToPrunesPriorSameNameProgram(t *testing.T) {
	h := NewHeader()
	h.Programs = []ProgramRecord{{ID: "htssort-old", Name: "htssort"}}

	var buf bytes.Buffer
	prog := ProgramRecord{ID: "htssort-new", Name: "htssort"}
	require.NoError(t, h.WriteTo(&buf, prog, true))
	out := buf.String()
	assert.NotContains(t, out, "htssort-old")
	assert.Contains(t, out, "htssort-new")
}

func TestMergeHeadersTranslatesReferenceIDs(t *testing.T) {
	h1 := NewHeader()
	require.NoError(t, h1.AddReference(NewReference("chr2", 200)))
	require.NoError(t, h1.AddReference(NewReference("chr1", 100)))

	h2 := NewHeader()
	require.NoError(t, h2.AddReference(NewReference("chr1", 100)))
	require.NoError(t, h2.AddReference(NewReference("chr3", 300)))

	merged, translations, err := MergeHeaders([]*Header{h1, h2})
	require.NoError(t, err)
	require.Len(t, merged.References(), 3)

	assert.Equal(t, "chr2", translations[0][0].Name())
	assert.Equal(t, "chr1", translations[0][1].Name())
	assert.Equal(t, translations[0][1], translations[1][0])
	assert.Equal(t, "chr3", translations[1][1].Name())
}

func TestMergeHeadersRejectsLengthMismatch(t *testing.T) {
	h1 := NewHeader()
	require.NoError(t, h1.AddReference(NewReference("chr1", 100)))
	h2 := NewHeader()
	require.NoError(t, h2.AddReference(NewReference("chr1", 999)))

	_, _, err := MergeHeaders([]*Header{h1, h2})
	assert.Error(t, err)
}
