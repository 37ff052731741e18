package bam

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/concordbio/hts/encoding/sam"
)

// bamMagic is the 4-byte magic that opens every BAM file, immediately
// following the outermost BGZF wrapping (spec §4.5, §4.7).
var bamMagic = [4]byte{'B', 'A', 'M', 1}

var errBadMagic = errors.New("bam: bad magic, not a BAM file")

// EncodeHeader serializes h's text header plus its sequence dictionary
// into the whole-file BAM header block: magic, l_text, text, n_ref, then
// one (l_name, name, l_ref) triple per reference (spec §4.7). prog is
// appended as a trailing @PG line, the same convention C5's record codec
// uses for text headers embedded in a BAM stream.
func EncodeHeader(h *sam.Header, prog sam.ProgramRecord, w io.Writer) error {
	var text bytes.Buffer
	if err := h.WriteTo(&text, prog, false); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(bamMagic[:])
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(text.Len()))
	buf.Write(scratch[:])
	buf.Write(text.Bytes())
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(h.References())))
	buf.Write(scratch[:])
	for _, ref := range h.References() {
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(ref.Name())+1))
		buf.Write(scratch[:])
		buf.WriteString(ref.Name())
		buf.WriteByte(0)
		binary.LittleEndian.PutUint32(scratch[:], uint32(ref.Len()))
		buf.Write(scratch[:])
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// DecodeHeader parses the whole-file BAM header block written by
// EncodeHeader. The returned header's sequence dictionary is rebuilt from
// the binary n_ref/l_name/name/l_ref fields, which take precedence over
// (and must agree with) any @SQ lines present in the embedded text.
func DecodeHeader(r io.Reader) (*sam.Header, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != bamMagic {
		return nil, errBadMagic
	}

	lText, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	text := make([]byte, lText)
	if _, err := io.ReadFull(r, text); err != nil {
		return nil, err
	}

	nRef, err := readUint32(r)
	if err != nil {
		return nil, err
	}

	h := sam.NewHeader()
	if err := h.ParseText(text); err != nil {
		return nil, err
	}
	// The binary dictionary is authoritative; rebuild it fresh rather than
	// trusting whatever @SQ lines happened to be embedded in the text.
	h.ResetReferences()
	for i := uint32(0); i < nRef; i++ {
		lName, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		name := make([]byte, lName)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		lRef, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		if lName == 0 || name[lName-1] != 0 {
			return nil, fmt.Errorf("bam: reference name %d not NUL-terminated", i)
		}
		ref := sam.NewReference(string(name[:lName-1]), int(lRef))
		if err := h.AddReference(ref); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
