package bgzf

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("acgtACGT"), 9000) // > 64KB, forces >=2 blocks
	var out bytes.Buffer
	w := NewWriter(&out, 6, nil)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// At least 2 data members plus the 28-byte terminator.
	assert.True(t, out.Len() > len(terminator))
	tail := out.Bytes()[out.Len()-len(terminator):]
	assert.Equal(t, terminator[:], tail)

	r := NewReader(bytes.NewReader(out.Bytes()), nil)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	require.NoError(t, r.Close())
}

func TestBuildMemberFullBlockFitsMaxBlockSize(t *testing.T) {
	// A full DefaultUncompressedBlockSize payload at level 0 (stored, no
	// compression) must still produce one member no larger than
	// MaxBlockSize: 0xff00 payload bytes plus stored-block and gzip
	// framing stay under 64KB.
	payload := make([]byte, DefaultUncompressedBlockSize)
	for i := range payload {
		payload[i] = byte(i * 2654435761 >> 3)
	}
	member, err := buildMember(payload, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(member), MaxBlockSize)
}

func TestEmptyWriteProducesOnlyEOFMarker(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out, 6, nil)
	require.NoError(t, w.Close())
	assert.Equal(t, terminator[:], out.Bytes())
}

func TestCloseIsIdempotent(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out, 6, nil)
	require.NoError(t, w.Close())
	n1 := out.Len()
	require.NoError(t, w.Close())
	assert.Equal(t, n1, out.Len())
}
