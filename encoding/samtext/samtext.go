// Package samtext implements the text SAM record codec (spec §4.6):
// parsing tab-separated alignment lines into sam.Record and rendering
// sam.Record back to text. It is grounded on the teacher's binary codec
// style (encoding/bam) generalized to a line-oriented grammar, and on
// original_source/openge's sam_reader.cpp line-skip and worker-throttling
// policy, adapted onto this module's pool.Pool/pool.BoundedQueue rather
// than openge's hand-rolled semaphore.
package samtext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/concordbio/hts/encoding/sam"
)

// MinLineLength is the shortest byte count a text alignment line can
// plausibly have; shorter lines are skipped rather than treated as an
// error (spec §4.6, grounded on sam_reader.cpp: "if line is shorter than
// 10 chars, it is definitely not a full SAM line").
const MinLineLength = 10

var errTooFewFields = fmt.Errorf("samtext: fewer than 11 mandatory fields")

// ParseLine parses one tab-separated SAM alignment line into a
// sam.Record, resolving rname/rnext against h's sequence dictionary
// (spec §4.6). A line with fewer than 11 fields, including any line
// shorter than MinLineLength, is an error here; Reader skips lines
// shorter than MinLineLength (blank trailing lines in hand-edited SAM
// files) before they reach ParseLine.
func ParseLine(line string, h *sam.Header) (*sam.Record, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 11 {
		return nil, errTooFewFields
	}

	flagN, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("samtext: bad FLAG %q: %w", fields[1], err)
	}
	pos, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("samtext: bad POS %q: %w", fields[3], err)
	}
	mapq, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, fmt.Errorf("samtext: bad MAPQ %q: %w", fields[4], err)
	}
	pnext, err := strconv.Atoi(fields[7])
	if err != nil {
		return nil, fmt.Errorf("samtext: bad PNEXT %q: %w", fields[7], err)
	}
	tlen, err := strconv.Atoi(fields[8])
	if err != nil {
		return nil, fmt.Errorf("samtext: bad TLEN %q: %w", fields[8], err)
	}

	cigar, err := sam.ParseCigar(fields[5])
	if err != nil {
		return nil, err
	}

	r := &sam.Record{
		Name:    fields[0],
		Flags:   sam.Flags(flagN),
		Pos:     pos - 1, // 1-based in text, 0-based in the data model
		MapQ:    byte(mapq),
		Cigar:   cigar,
		MatePos: pnext - 1,
		TempLen: tlen,
		Seq:     fields[9],
	}
	if fields[10] != "*" {
		qual := make([]byte, len(fields[10]))
		for i := 0; i < len(qual); i++ {
			qual[i] = fields[10][i] - 33
		}
		r.Qual = qual
	}

	r.Ref = resolveRef(fields[2], h, nil)
	r.MateRef = resolveRef(fields[6], h, r.Ref)

	for _, f := range fields[11:] {
		if f == "" {
			continue
		}
		aux, err := parseAuxText(f)
		if err != nil {
			return nil, err
		}
		r.AuxFields = append(r.AuxFields, aux)
	}
	return r, nil
}

// resolveRef interprets an RNAME/RNEXT field: "*" means unmapped, "="
// means same as same (used only for RNEXT, which passes r.Ref as same),
// anything else is looked up in the dictionary. A name absent from the
// dictionary resolves to nil rather than failing the whole line (spec
// §4.6, matching sam_reader.cpp's "missing from sequence dictionary"
// warning-not-fatal policy).
func resolveRef(name string, h *sam.Header, same *sam.Reference) *sam.Reference {
	switch name {
	case "*":
		return nil
	case "=":
		return same
	default:
		if id := h.IndexOf(name); id >= 0 {
			return h.Reference(id)
		}
		return nil
	}
}

// parseAuxText parses one "TAG:TYPE:VALUE" optional field (spec §3 GLOSSARY,
// §4.6).
func parseAuxText(field string) (sam.Aux, error) {
	parts := strings.SplitN(field, ":", 3)
	if len(parts) != 3 || len(parts[0]) != 2 || len(parts[1]) != 1 {
		return nil, fmt.Errorf("samtext: malformed optional field %q", field)
	}
	tag := sam.Tag{parts[0][0], parts[0][1]}
	typ := parts[1][0]
	raw := parts[2]

	var value interface{}
	switch typ {
	case 'A':
		if len(raw) != 1 {
			return nil, fmt.Errorf("samtext: type A value must be one character, got %q", raw)
		}
		value = raw[0]
	case 'i':
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("samtext: bad integer tag value %q: %w", raw, err)
		}
		value = int32(n)
	case 'f':
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, fmt.Errorf("samtext: bad float tag value %q: %w", raw, err)
		}
		value = float32(f)
	case 'Z', 'H':
		value = raw
	case 'B':
		return parseAuxArrayText(tag, raw)
	default:
		return nil, fmt.Errorf("samtext: unknown tag type %q", typ)
	}
	// The binary codec stores i/c/C/s/S/I distinctly; the text format only
	// has "i" for any integer width, so encode as the smallest type that
	// fits: the text codec narrows on read, and FormatLine widens every
	// integer type back to "i" on write.
	if typ == 'i' {
		return sam.NewAux(tag, narrowestIntType(value.(int32)), narrowedIntValue(value.(int32)))
	}
	return sam.NewAux(tag, typ, value)
}

func narrowestIntType(v int32) byte {
	switch {
	case v >= 0 && v <= 0xff:
		return 'C'
	case v >= -0x80 && v < 0x80:
		return 'c'
	case v >= 0 && v <= 0xffff:
		return 'S'
	case v >= -0x8000 && v < 0x8000:
		return 's'
	case v >= 0:
		return 'I'
	default:
		return 'i'
	}
}

func narrowedIntValue(v int32) interface{} {
	switch narrowestIntType(v) {
	case 'C':
		return uint8(v)
	case 'c':
		return int8(v)
	case 'S':
		return uint16(v)
	case 's':
		return int16(v)
	case 'I':
		return uint32(v)
	default:
		return v
	}
}

func parseAuxArrayText(tag sam.Tag, raw string) (sam.Aux, error) {
	parts := strings.Split(raw, ",")
	if len(parts) == 0 {
		return nil, fmt.Errorf("samtext: empty B-array value")
	}
	subtype := parts[0]
	elems := parts[1:]
	switch subtype {
	case "c":
		return sam.NewAux(tag, 'B', parseIntArray8(elems))
	case "C":
		return sam.NewAux(tag, 'B', parseUintArray8(elems))
	case "s":
		return sam.NewAux(tag, 'B', parseIntArray16(elems))
	case "S":
		return sam.NewAux(tag, 'B', parseUintArray16(elems))
	case "i":
		return sam.NewAux(tag, 'B', parseIntArray32(elems))
	case "I":
		return sam.NewAux(tag, 'B', parseUintArray32(elems))
	case "f":
		return sam.NewAux(tag, 'B', parseFloatArray32(elems))
	default:
		return nil, fmt.Errorf("samtext: unknown B-array subtype %q", subtype)
	}
}

func parseIntArray8(elems []string) []int8 {
	out := make([]int8, len(elems))
	for i, e := range elems {
		n, _ := strconv.ParseInt(e, 10, 8)
		out[i] = int8(n)
	}
	return out
}

func parseUintArray8(elems []string) []uint8 {
	out := make([]uint8, len(elems))
	for i, e := range elems {
		n, _ := strconv.ParseUint(e, 10, 8)
		out[i] = uint8(n)
	}
	return out
}

func parseIntArray16(elems []string) []int16 {
	out := make([]int16, len(elems))
	for i, e := range elems {
		n, _ := strconv.ParseInt(e, 10, 16)
		out[i] = int16(n)
	}
	return out
}

func parseUintArray16(elems []string) []uint16 {
	out := make([]uint16, len(elems))
	for i, e := range elems {
		n, _ := strconv.ParseUint(e, 10, 16)
		out[i] = uint16(n)
	}
	return out
}

func parseIntArray32(elems []string) []int32 {
	out := make([]int32, len(elems))
	for i, e := range elems {
		n, _ := strconv.ParseInt(e, 10, 32)
		out[i] = int32(n)
	}
	return out
}

func parseUintArray32(elems []string) []uint32 {
	out := make([]uint32, len(elems))
	for i, e := range elems {
		n, _ := strconv.ParseUint(e, 10, 32)
		out[i] = uint32(n)
	}
	return out
}

func parseFloatArray32(elems []string) []float32 {
	out := make([]float32, len(elems))
	for i, e := range elems {
		f, _ := strconv.ParseFloat(e, 32)
		out[i] = float32(f)
	}
	return out
}
