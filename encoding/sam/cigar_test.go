package sam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCigarRoundTrip(t *testing.T) {
	for _, s := range []string{"4M", "10M2I3D5M", "76M", "*"} {
		c, err := ParseCigar(s)
		require.NoError(t, err)
		if s == "*" {
			assert.Empty(t, c)
			continue
		}
		assert.Equal(t, s, c.String())
	}
}

func TestCigarReferenceAndQueryLength(t *testing.T) {
	c, err := ParseCigar("10M2I3D5M")
	require.NoError(t, err)
	assert.Equal(t, 10+3+5, c.ReferenceLength())
	assert.Equal(t, 10+2+5, c.QueryLength())
}

func TestParseCigarRejectsGarbage(t *testing.T) {
	_, err := ParseCigar("4Q")
	assert.Error(t, err)
	_, err = ParseCigar("M4")
	assert.Error(t, err)
}

func TestMinBinMatchesSpecVector(t *testing.T) {
	// CIGAR=4M at pos 100 (0-based): end = 104.
	assert.Equal(t, 4681, MinBin(100, 104))
}
