package bgzf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVirtualOffsetRoundTrip(t *testing.T) {
	vo := VirtualOffset(123456, 789)
	block, within := SplitVirtualOffset(vo)
	assert.Equal(t, int64(123456), block)
	assert.Equal(t, uint16(789), within)
}

func TestVirtualOffsetZero(t *testing.T) {
	assert.Equal(t, uint64(0), VirtualOffset(0, 0))
}

func TestErrMalformedHeaderMessage(t *testing.T) {
	err := &ErrMalformedHeader{Reason: "bad magic"}
	assert.Contains(t, err.Error(), "bad magic")
}
