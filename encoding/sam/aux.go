package sam

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tag is the two-character key identifying an Aux field (spec §3).
type Tag [2]byte

func (t Tag) String() string { return string(t[:]) }

// Aux is one encoded tag: two key bytes, one type byte, then a
// type-dependent value encoding, exactly as it appears in the BAM binary
// payload (spec §3, §4.5). Aux values round-trip byte for byte between
// the binary and text codecs.
type Aux []byte

// NewAux builds an Aux field from a tag, a one-byte type code (one of
// AcCsSiIfZHB), and a value whose concrete type must match typ.
func NewAux(tag Tag, typ byte, value interface{}) (Aux, error) {
	a := Aux{tag[0], tag[1], typ}
	switch typ {
	case 'A':
		v, ok := value.(byte)
		if !ok {
			return nil, fmt.Errorf("sam: aux type A requires byte value")
		}
		a = append(a, v)
	case 'c':
		v, err := asInt8(value)
		if err != nil {
			return nil, err
		}
		a = append(a, byte(v))
	case 'C':
		v, err := asUint8(value)
		if err != nil {
			return nil, err
		}
		a = append(a, v)
	case 's':
		v, err := asInt16(value)
		if err != nil {
			return nil, err
		}
		a = appendUint16(a, uint16(v))
	case 'S':
		v, err := asUint16(value)
		if err != nil {
			return nil, err
		}
		a = appendUint16(a, v)
	case 'i':
		v, err := asInt32(value)
		if err != nil {
			return nil, err
		}
		a = appendUint32(a, uint32(v))
	case 'I':
		v, err := asUint32(value)
		if err != nil {
			return nil, err
		}
		a = appendUint32(a, v)
	case 'f':
		v, err := asFloat32(value)
		if err != nil {
			return nil, err
		}
		a = appendUint32(a, math.Float32bits(v))
	case 'Z':
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("sam: aux type Z requires string value")
		}
		a = append(a, s...)
		a = append(a, 0)
	case 'H':
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("sam: aux type H requires hex string value")
		}
		a = append(a, s...)
		a = append(a, 0)
	case 'B':
		return newAuxArray(tag, value)
	default:
		return nil, fmt.Errorf("sam: unknown aux type %q", typ)
	}
	return a, nil
}

func newAuxArray(tag Tag, value interface{}) (Aux, error) {
	a := Aux{tag[0], tag[1], 'B'}
	switch v := value.(type) {
	case []int8:
		a = append(a, 'c')
		a = appendUint32(a, uint32(len(v)))
		for _, e := range v {
			a = append(a, byte(e))
		}
	case []uint8:
		a = append(a, 'C')
		a = appendUint32(a, uint32(len(v)))
		a = append(a, v...)
	case []int16:
		a = append(a, 's')
		a = appendUint32(a, uint32(len(v)))
		for _, e := range v {
			a = appendUint16(a, uint16(e))
		}
	case []uint16:
		a = append(a, 'S')
		a = appendUint32(a, uint32(len(v)))
		for _, e := range v {
			a = appendUint16(a, e)
		}
	case []int32:
		a = append(a, 'i')
		a = appendUint32(a, uint32(len(v)))
		for _, e := range v {
			a = appendUint32(a, uint32(e))
		}
	case []uint32:
		a = append(a, 'I')
		a = appendUint32(a, uint32(len(v)))
		for _, e := range v {
			a = appendUint32(a, e)
		}
	case []float32:
		a = append(a, 'f')
		a = appendUint32(a, uint32(len(v)))
		for _, e := range v {
			a = appendUint32(a, math.Float32bits(e))
		}
	default:
		return nil, fmt.Errorf("sam: unsupported B-array element type %T", value)
	}
	return a, nil
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func asInt8(v interface{}) (int8, error) {
	switch x := v.(type) {
	case int8:
		return x, nil
	case int:
		return int8(x), nil
	}
	return 0, fmt.Errorf("sam: aux type c requires an integer value, got %T", v)
}

func asUint8(v interface{}) (uint8, error) {
	switch x := v.(type) {
	case uint8:
		return x, nil
	case int:
		return uint8(x), nil
	}
	return 0, fmt.Errorf("sam: aux type C requires an integer value, got %T", v)
}

func asInt16(v interface{}) (int16, error) {
	switch x := v.(type) {
	case int16:
		return x, nil
	case int:
		return int16(x), nil
	}
	return 0, fmt.Errorf("sam: aux type s requires an integer value, got %T", v)
}

func asUint16(v interface{}) (uint16, error) {
	switch x := v.(type) {
	case uint16:
		return x, nil
	case int:
		return uint16(x), nil
	}
	return 0, fmt.Errorf("sam: aux type S requires an integer value, got %T", v)
}

func asInt32(v interface{}) (int32, error) {
	switch x := v.(type) {
	case int32:
		return x, nil
	case int:
		return int32(x), nil
	}
	return 0, fmt.Errorf("sam: aux type i requires an integer value, got %T", v)
}

func asUint32(v interface{}) (uint32, error) {
	switch x := v.(type) {
	case uint32:
		return x, nil
	case int:
		return uint32(x), nil
	}
	return 0, fmt.Errorf("sam: aux type I requires an integer value, got %T", v)
}

func asFloat32(v interface{}) (float32, error) {
	switch x := v.(type) {
	case float32:
		return x, nil
	case float64:
		return float32(x), nil
	}
	return 0, fmt.Errorf("sam: aux type f requires a float value, got %T", v)
}

// Tag returns the field's two-character key.
func (a Aux) Tag() Tag { return Tag{a[0], a[1]} }

// Type returns the field's one-character type code.
func (a Aux) Type() byte { return a[2] }

// Value returns the decoded Go value carried by the field: byte, int8,
// uint8, int16, uint16, int32, uint32, float32, string (Z and H), or one
// of the B-array slice types.
func (a Aux) Value() interface{} {
	payload := a[3:]
	switch a.Type() {
	case 'A':
		return payload[0]
	case 'c':
		return int8(payload[0])
	case 'C':
		return payload[0]
	case 's':
		return int16(binary.LittleEndian.Uint16(payload))
	case 'S':
		return binary.LittleEndian.Uint16(payload)
	case 'i':
		return int32(binary.LittleEndian.Uint32(payload))
	case 'I':
		return binary.LittleEndian.Uint32(payload)
	case 'f':
		return math.Float32frombits(binary.LittleEndian.Uint32(payload))
	case 'Z', 'H':
		if n := len(payload); n > 0 && payload[n-1] == 0 {
			payload = payload[:n-1]
		}
		return string(payload)
	case 'B':
		return a.arrayValue(payload)
	}
	return nil
}

func (a Aux) arrayValue(payload []byte) interface{} {
	elemType := payload[0]
	n := binary.LittleEndian.Uint32(payload[1:5])
	data := payload[5:]
	switch elemType {
	case 'c':
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(data[i])
		}
		return out
	case 'C':
		out := make([]uint8, n)
		copy(out, data[:n])
		return out
	case 's':
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		return out
	case 'S':
		out := make([]uint16, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(data[i*2:])
		}
		return out
	case 'i':
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out
	case 'I':
		out := make([]uint32, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(data[i*4:])
		}
		return out
	case 'f':
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out
	}
	return nil
}

// Tags is an ordered, tag-unique dictionary of Aux fields (spec §3, §4.5).
// Order is insertion order.
type Tags []Aux

// Get returns the field for tag, or nil if absent.
func (t Tags) Get(tag Tag) Aux {
	for _, a := range t {
		if a.Tag() == tag {
			return a
		}
	}
	return nil
}

// Has reports whether tag is present.
func (t Tags) Has(tag Tag) bool { return t.Get(tag) != nil }

// Add appends a new field. It fails if tag already exists (spec §4.5:
// "add fails if the tag already exists").
func (t *Tags) Add(tag Tag, typ byte, value interface{}) error {
	if t.Has(tag) {
		return fmt.Errorf("sam: tag %s already exists", tag)
	}
	a, err := NewAux(tag, typ, value)
	if err != nil {
		return err
	}
	*t = append(*t, a)
	return nil
}

// Edit replaces an existing field or creates it (remove-then-add; spec
// §4.5: "edit always succeeds or creates").
func (t *Tags) Edit(tag Tag, typ byte, value interface{}) error {
	a, err := NewAux(tag, typ, value)
	if err != nil {
		return err
	}
	t.Remove(tag)
	*t = append(*t, a)
	return nil
}

// Remove deletes tag if present; it is a no-op otherwise.
func (t *Tags) Remove(tag Tag) {
	out := (*t)[:0]
	for _, a := range *t {
		if a.Tag() != tag {
			out = append(out, a)
		}
	}
	*t = out
}
