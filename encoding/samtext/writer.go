package samtext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/concordbio/hts/encoding/sam"
)

// FormatLine renders r as one tab-separated SAM alignment line, without a
// trailing newline (spec §4.6 "Encode").
func FormatLine(r *sam.Record) string {
	var b strings.Builder
	b.WriteString(r.Name)
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(int(r.Flags)))
	b.WriteByte('\t')
	if r.Ref != nil {
		b.WriteString(r.Ref.Name())
	} else {
		b.WriteByte('*')
	}
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(r.Pos + 1))
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(int(r.MapQ)))
	b.WriteByte('\t')
	b.WriteString(r.Cigar.String())
	b.WriteByte('\t')
	writeMateRef(&b, r)
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(r.MatePos + 1))
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(r.TempLen))
	b.WriteByte('\t')
	if r.Seq == "" {
		b.WriteByte('*')
	} else {
		b.WriteString(r.Seq)
	}
	b.WriteByte('\t')
	if r.Qual == nil {
		b.WriteByte('*')
	} else {
		for _, q := range r.Qual {
			b.WriteByte(q + 33)
		}
	}
	for _, a := range r.AuxFields {
		b.WriteByte('\t')
		b.WriteString(formatAuxText(a))
	}
	return b.String()
}

func writeMateRef(b *strings.Builder, r *sam.Record) {
	switch {
	case r.MateRef == nil:
		b.WriteByte('*')
	case r.Ref != nil && r.MateRef == r.Ref:
		b.WriteByte('=')
	default:
		b.WriteString(r.MateRef.Name())
	}
}

// formatAuxText renders one Aux field as "TAG:TYPE:VALUE" (spec §4.6).
// The binary codec's narrow integer types (c/C/s/S/i/I) all render as
// text type "i", matching the SAM specification's single integer tag
// type.
func formatAuxText(a sam.Aux) string {
	tag := a.Tag()
	typ := a.Type()
	textType := typ
	switch typ {
	case 'c', 'C', 's', 'S', 'I':
		textType = 'i'
	}
	return fmt.Sprintf("%s:%c:%s", tag.String(), textType, formatAuxValue(a))
}

func formatAuxValue(a sam.Aux) string {
	switch v := a.Value().(type) {
	case byte:
		return string(v)
	case int8:
		return strconv.Itoa(int(v))
	case uint8:
		return strconv.Itoa(int(v))
	case int16:
		return strconv.Itoa(int(v))
	case uint16:
		return strconv.Itoa(int(v))
	case int32:
		return strconv.Itoa(int(v))
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case string:
		return v
	case []int8, []uint8, []int16, []uint16, []int32, []uint32, []float32:
		return formatAuxArrayValue(a.Type(), v)
	}
	return ""
}

func formatAuxArrayValue(typ byte, v interface{}) string {
	var b strings.Builder
	switch arr := v.(type) {
	case []int8:
		b.WriteByte('c')
		for _, e := range arr {
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(int(e)))
		}
	case []uint8:
		b.WriteByte('C')
		for _, e := range arr {
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(int(e)))
		}
	case []int16:
		b.WriteByte('s')
		for _, e := range arr {
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(int(e)))
		}
	case []uint16:
		b.WriteByte('S')
		for _, e := range arr {
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(int(e)))
		}
	case []int32:
		b.WriteByte('i')
		for _, e := range arr {
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(int(e)))
		}
	case []uint32:
		b.WriteByte('I')
		for _, e := range arr {
			b.WriteByte(',')
			b.WriteString(strconv.FormatUint(uint64(e), 10))
		}
	case []float32:
		b.WriteByte('f')
		for _, e := range arr {
			b.WriteByte(',')
			b.WriteString(strconv.FormatFloat(float64(e), 'g', -1, 32))
		}
	}
	return b.String()
}
