package bam

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/concordbio/hts/encoding/sam"
)

const bamFixedBytes = 32

func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

var (
	errCorruptAuxField = errors.New("bam: corrupt aux field")
	errRecordTooShort   = errors.New("bam: record too short")
	errRecordTooLarge   = errors.New("bam: record payload exceeds 64KB limit")
)

// auxWidth gives the fixed byte width of each scalar aux type, or a
// negative sentinel for the variable-width types (spec §4.5 "Tags: ...
// knows how to skip each"). Grounded on the teacher's unmarshal.go jumps
// table.
var auxWidth = [256]int{
	'A': 1,
	'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4,
	'f': 4,
	'Z': -1,
	'H': -1,
	'B': -1,
}

// tagSpan returns the total byte length (including the 3-byte tag+type
// header) of the aux field starting at aux[0], or an error if the field
// is truncated or has an unrecognized type.
func tagSpan(aux []byte) (int, error) {
	if len(aux) < 3 {
		return 0, errCorruptAuxField
	}
	t := aux[2]
	switch w := auxWidth[t]; {
	case w > 0:
		span := 3 + w
		if len(aux) < span {
			return 0, errCorruptAuxField
		}
		return span, nil
	case w < 0:
		switch t {
		case 'Z', 'H':
			for i := 3; i < len(aux); i++ {
				if aux[i] == 0 {
					return i + 1, nil
				}
			}
			return 0, errCorruptAuxField
		case 'B':
			if len(aux) < 8 {
				return 0, errCorruptAuxField
			}
			elemWidth := auxWidth[aux[3]]
			if elemWidth <= 0 {
				return 0, errCorruptAuxField
			}
			n := le32(aux[4:8])
			span := 8 + int(n)*elemWidth
			if len(aux) < span {
				return 0, errCorruptAuxField
			}
			return span, nil
		}
	}
	return 0, fmt.Errorf("%w: unrecognized aux type %q", errCorruptAuxField, t)
}

// parseTags walks the raw tag blob and slices it into individual Aux
// values without copying (spec §4.5 "Tags").
func parseTags(raw []byte) (sam.Tags, error) {
	var tags sam.Tags
	for i := 0; i < len(raw); {
		span, err := tagSpan(raw[i:])
		if err != nil {
			return nil, err
		}
		tags = append(tags, sam.Aux(raw[i:i+span]))
		i += span
	}
	return tags, nil
}

// Decode reads one BAM record from r into rec, whose embedded sam.Record
// is populated with the fixed "core" fields; the variable payload is
// stored unparsed for lazy materialization (spec §4.5 "Decode").
// refs resolves refID/mateRefID against the open file's sequence
// dictionary.
func Decode(r io.Reader, rec *Record, refs []*sam.Reference) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err // EOF here is the well-formed end of the BAM record stream
	}
	blockLen := int(int32(le32(lenBuf[:])))
	if blockLen < bamFixedBytes {
		return errRecordTooShort
	}
	if blockLen > 0x10000 {
		return errRecordTooLarge
	}

	body := make([]byte, blockLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("bam: truncated record: %w", err)
	}

	refID := int32(le32(body[0:4]))
	pos := int32(le32(body[4:8]))
	binMqNl := le32(body[8:12])
	flagNc := le32(body[12:16])
	seqLen := int32(le32(body[16:20]))
	nextRefID := int32(le32(body[20:24]))
	nextPos := int32(le32(body[24:28]))
	tlen := int32(le32(body[28:32]))

	mapq := byte((binMqNl >> 8) & 0xff)
	nameLen := int(binMqNl & 0xff)
	flags := sam.Flags(flagNc >> 16)
	nCigarOp := int(flagNc & 0xffff)

	rec.reset()
	rec.Magic = Magic
	rec.Ref = refIDToRef(refID, refs)
	rec.Pos = int(pos)
	rec.MapQ = mapq
	rec.Flags = flags
	rec.MateRef = refIDToRef(nextRefID, refs)
	rec.MatePos = int(nextPos)
	rec.TempLen = int(tlen)
	// rec.Bin is left nil (reset's default): computeBin recomputes the
	// bin from pos/CIGAR on every re-encode (spec §4.5/§8) instead of
	// trusting the file's possibly-stale stored bin. A caller that wants
	// to force a specific bin can still set rec.Bin explicitly before
	// marshaling.

	rec.setRaw(body[bamFixedBytes:], nameLen, nCigarOp, int(seqLen))
	return nil
}

func refIDToRef(id int32, refs []*sam.Reference) *sam.Reference {
	if id < 0 || int(id) >= len(refs) {
		return nil
	}
	return refs[id]
}
