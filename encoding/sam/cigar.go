package sam

import (
	"fmt"
	"strconv"
	"strings"
)

// CigarOpType is one of the MIDNSHP=X operation codes (spec §3, GLOSSARY).
type CigarOpType byte

const (
	CigarMatch        CigarOpType = iota // M
	CigarInsertion                       // I
	CigarDeletion                        // D
	CigarSkipped                         // N
	CigarSoftClipped                     // S
	CigarHardClipped                     // H
	CigarPadded                          // P
	CigarEqual                           // =
	CigarMismatch                       // X
	cigarOpCount
)

// cigarOpLetters maps a CigarOpType to its single-letter representation;
// the index also doubles as the 4-bit BAM op code (spec §4.5).
var cigarOpLetters = [cigarOpCount]byte{'M', 'I', 'D', 'N', 'S', 'H', 'P', '=', 'X'}

var cigarLetterToOp = func() map[byte]CigarOpType {
	m := make(map[byte]CigarOpType, cigarOpCount)
	for op, c := range cigarOpLetters {
		m[c] = CigarOpType(op)
	}
	return m
}()

// Byte returns the single-character representation of the op.
func (t CigarOpType) Byte() byte { return cigarOpLetters[t] }

func (t CigarOpType) String() string { return string(t.Byte()) }

// ParseCigarOpType maps a letter to its CigarOpType, or false if unknown.
func ParseCigarOpType(c byte) (CigarOpType, bool) {
	t, ok := cigarLetterToOp[c]
	return t, ok
}

// ConsumesReference reports whether the op advances the reference
// coordinate: D, M, N, =, X do; I, S, H, P do not (spec §4.5).
func (t CigarOpType) ConsumesReference() bool {
	switch t {
	case CigarMatch, CigarDeletion, CigarSkipped, CigarEqual, CigarMismatch:
		return true
	default:
		return false
	}
}

// ConsumesQuery reports whether the op advances the query (read) position.
func (t CigarOpType) ConsumesQuery() bool {
	switch t {
	case CigarMatch, CigarInsertion, CigarSoftClipped, CigarEqual, CigarMismatch:
		return true
	default:
		return false
	}
}

// CigarOp is one run-length-encoded CIGAR operation.
type CigarOp struct {
	Type CigarOpType
	Len  int
}

func (c CigarOp) String() string {
	return strconv.Itoa(c.Len) + c.Type.String()
}

// Cigar is an ordered sequence of CigarOp.
type Cigar []CigarOp

// String renders the CIGAR in text form, or "*" if empty (spec §4.6).
func (c Cigar) String() string {
	if len(c) == 0 {
		return "*"
	}
	var b strings.Builder
	for _, op := range c {
		b.WriteString(op.String())
	}
	return b.String()
}

// ReferenceLength returns the span of the CIGAR on the reference: the sum
// of the lengths of all reference-consuming ops. This is endPos-pos for a
// record placed at pos (spec §3, §4.5 "endPos derivation").
func (c Cigar) ReferenceLength() int {
	n := 0
	for _, op := range c {
		if op.Type.ConsumesReference() {
			n += op.Len
		}
	}
	return n
}

// QueryLength returns the number of query bases the CIGAR accounts for.
func (c Cigar) QueryLength() int {
	n := 0
	for _, op := range c {
		if op.Type.ConsumesQuery() {
			n += op.Len
		}
	}
	return n
}

// ParseCigar parses the text CIGAR form (e.g. "4M1I3M"), or returns an
// empty Cigar for "*".
func ParseCigar(s string) (Cigar, error) {
	if s == "*" || s == "" {
		return nil, nil
	}
	var c Cigar
	n := 0
	hasDigits := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch >= '0' && ch <= '9' {
			n = n*10 + int(ch-'0')
			hasDigits = true
			continue
		}
		if !hasDigits {
			return nil, fmt.Errorf("sam: malformed cigar %q: missing length before op %q", s, ch)
		}
		op, ok := ParseCigarOpType(ch)
		if !ok {
			return nil, fmt.Errorf("sam: malformed cigar %q: unknown op %q", s, ch)
		}
		c = append(c, CigarOp{Type: op, Len: n})
		n = 0
		hasDigits = false
	}
	if hasDigits {
		return nil, fmt.Errorf("sam: malformed cigar %q: trailing length with no op", s)
	}
	return c, nil
}
