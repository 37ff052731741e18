package sam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuxScalarRoundTrip(t *testing.T) {
	cases := []struct {
		typ   byte
		value interface{}
	}{
		{'A', byte('x')},
		{'c', int8(-5)},
		{'C', uint8(200)},
		{'s', int16(-1000)},
		{'S', uint16(60000)},
		{'i', int32(-100000)},
		{'I', uint32(4000000000)},
		{'f', float32(3.5)},
		{'Z', "hello world"},
		{'H', "DEADBEEF"},
	}
	for _, c := range cases {
		a, err := NewAux(Tag{'X', '1'}, c.typ, c.value)
		require.NoError(t, err)
		assert.Equal(t, Tag{'X', '1'}, a.Tag())
		assert.Equal(t, c.typ, a.Type())
		assert.Equal(t, c.value, a.Value())
	}
}

func TestAuxBArrayRoundTrip(t *testing.T) {
	a, err := NewAux(Tag{'B', 'I'}, 'B', []int32{1, -2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, -2, 3}, a.Value())
}

func TestTagsAddEditRemove(t *testing.T) {
	var tags Tags
	require.NoError(t, tags.Add(Tag{'N', 'M'}, 'i', int32(3)))
	assert.True(t, tags.Has(Tag{'N', 'M'}))

	// Adding again fails.
	assert.Error(t, tags.Add(Tag{'N', 'M'}, 'i', int32(9)))

	// Edit always succeeds and updates the value.
	require.NoError(t, tags.Edit(Tag{'N', 'M'}, 'i', int32(9)))
	assert.Equal(t, int32(9), tags.Get(Tag{'N', 'M'}).Value())

	tags.Remove(Tag{'N', 'M'})
	assert.False(t, tags.Has(Tag{'N', 'M'}))

	// Edit on an absent tag creates it.
	require.NoError(t, tags.Edit(Tag{'A', 'S'}, 'i', int32(42)))
	assert.True(t, tags.Has(Tag{'A', 'S'}))
}
