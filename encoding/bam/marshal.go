package bam

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/concordbio/hts/encoding/sam"
)

var (
	errNameAbsentOrTooLong           = errors.New("bam: name absent or too long")
	errSequenceQualityLengthMismatch = errors.New("bam: sequence/quality length mismatch")
)

type binaryWriter struct {
	w   *bytes.Buffer
	buf [4]byte
}

func (w *binaryWriter) writeUint8(v uint8) {
	w.buf[0] = v
	w.w.Write(w.buf[:1])
}

func (w *binaryWriter) writeUint16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:2], v)
	w.w.Write(w.buf[:2])
}

func (w *binaryWriter) writeInt32(v int32) {
	binary.LittleEndian.PutUint32(w.buf[:4], uint32(v))
	w.w.Write(w.buf[:4])
}

func (w *binaryWriter) writeUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.w.Write(w.buf[:4])
}

// buildAux concatenates the record's tags into one byte blob, in
// insertion order, exactly as they must appear in the BAM payload
// (spec §3 "Tag").
func buildAux(tags sam.Tags) []byte {
	var buf []byte
	for _, a := range tags {
		buf = append(buf, []byte(a)...)
	}
	return buf
}

// Marshal serializes r's currently-materialized fields into BAM binary
// format (spec §4.5 "Encode"). If r has lazily-unmaterialized fields
// (e.g. it was decoded and passed through unmodified), callers that want
// a byte-identical round trip should call r.MaterializeAll first; Marshal
// itself only ever reads the embedded sam.Record view.
func Marshal(r *sam.Record, buf *bytes.Buffer) error {
	if len(r.Name) == 0 || len(r.Name) > 254 {
		return errNameAbsentOrTooLong
	}
	if r.Qual != nil && len(r.Qual) != len(r.Seq) {
		return errSequenceQualityLengthMismatch
	}

	packedSeq, err := packSeq(r.Seq)
	if err != nil {
		return err
	}
	tags := buildAux(r.AuxFields)

	bin := computeBin(r)

	recLen := bamFixedBytes +
		len(r.Name) + 1 +
		len(r.Cigar)*4 +
		len(packedSeq) +
		len(r.Seq) +
		len(tags)

	bw := binaryWriter{w: buf}
	bw.writeInt32(int32(recLen))
	bw.writeInt32(int32(r.RefID()))
	bw.writeInt32(int32(r.Pos))
	bw.writeUint8(byte(len(r.Name) + 1))
	bw.writeUint8(r.MapQ)
	bw.writeUint16(uint16(bin))
	bw.writeUint16(uint16(len(r.Cigar)))
	bw.writeUint16(uint16(r.Flags))
	bw.writeInt32(int32(len(r.Seq)))
	bw.writeInt32(int32(r.MateRefID()))
	bw.writeInt32(int32(r.MatePos))
	bw.writeInt32(int32(r.TempLen))

	buf.WriteString(r.Name)
	buf.WriteByte(0)
	for _, op := range r.Cigar {
		bw.writeUint32(uint32(op.Len)<<4 | uint32(op.Type))
	}
	buf.Write(packedSeq)
	if r.Qual != nil {
		buf.Write(r.Qual)
	} else {
		for i := 0; i < len(r.Seq); i++ {
			buf.WriteByte(0xff)
		}
	}
	buf.Write(tags)
	return nil
}

// BinFor returns the bin Marshal would compute for r: r.Bin if the
// caller set an explicit override, otherwise the recomputed minimum bin.
// Exported so callers that need a record's canonical bin without
// re-marshaling it (e.g. sortshard's index-building merge pass, spec
// §4.10) share the same formula Marshal uses instead of reimplementing
// it.
func BinFor(r *sam.Record) int {
	return computeBin(r)
}

// computeBin returns r.Bin if the caller set an explicit override,
// otherwise the spec's minimum-bin formula over [pos, pos+referenceLength)
// (spec §3 invariant, §4.5 "Encode").
func computeBin(r *sam.Record) int {
	if r.Bin != nil {
		return *r.Bin
	}
	end := r.Pos + r.Cigar.ReferenceLength()
	if end <= r.Pos {
		end = r.Pos + 1
	}
	return sam.MinBin(r.Pos, end)
}

// packSeq packs an unpacked base string into the BAM 4-bit alphabet
// (spec §3, §4.5: "unknown base is fatal").
func packSeq(seq string) ([]byte, error) {
	out := make([]byte, (len(seq)+1)/2)
	for i := 0; i < len(seq); i++ {
		code, ok := sam.BaseCode(seq[i])
		if !ok {
			return nil, fmt.Errorf("bam: unknown base letter %q at position %d", seq[i], i)
		}
		if i%2 == 0 {
			out[i/2] = code << 4
		} else {
			out[i/2] |= code
		}
	}
	return out, nil
}
