// Package bam implements the binary BAM record codec (spec §4.5), the
// cached record allocator (spec §4.2), and the BAI block index builder
// (spec §4.10). It is grounded on the teacher repo's encoding/bam package
// (marshal.go/unmarshal.go's aux-field scanning tables, index.go's .bai
// layout), generalized from eager marshaling into the lazily-materialized
// record this spec calls for.
package bam

import (
	"sync"

	"github.com/concordbio/hts/encoding/sam"
)

// Magic tags a Record as having come from the Allocator, distinguishing it
// from a zero-value sam.Record a caller constructed directly (mirrors the
// teacher's bam.Record/sam.Record cast-safety check).
const Magic = uint64(0x93c9838d4d9f4f71)

// Record is one alignment. It embeds sam.Record, the fully materialized
// view, plus the raw variable-length payload captured at decode time. The
// name/CIGAR/sequence/quality/tag accessors below materialize their
// corresponding sam.Record field from the raw payload on first use,
// guarded by mu so concurrent readers race-free (spec §3 "Derived/lazy
// fields", §4.5 "guarded by a per-record lock").
type Record struct {
	sam.Record

	Magic uint64

	mu sync.Mutex

	raw        []byte // the variable payload as read from disk: name\0|cigar|seq|qual|tags
	nameLen    int
	nCigarOp   int
	seqLen     int
	nameDone   bool
	cigarDone  bool
	seqDone    bool
	qualDone   bool
	tagsDone   bool
}

// NewRecord allocates a bare Record outside of any Allocator; most callers
// should prefer Allocator.Allocate.
func NewRecord() *Record {
	return &Record{Magic: Magic}
}

// reset restores a Record to the Allocator's documented post-allocate
// defaults (spec §4.2): refID=-1, position=-1, bin=0, mapq=0, flag=0, mate
// refID=-1, mate position=-1, isize=0, variable-length fields empty.
func (r *Record) reset() {
	r.Name = ""
	r.Ref = nil
	r.Pos = -1
	r.MapQ = 0
	r.Cigar = nil
	r.Flags = 0
	r.MateRef = nil
	r.MatePos = -1
	r.TempLen = 0
	r.Seq = ""
	r.Qual = nil
	r.AuxFields = nil
	r.Bin = nil
	r.raw = nil
	r.nameLen, r.nCigarOp, r.seqLen = 0, 0, 0
	r.nameDone, r.cigarDone, r.seqDone, r.qualDone, r.tagsDone = false, false, false, false, false
}

// setRaw installs the decoded core fields and the still-unparsed variable
// payload (spec §4.5 "Decode"): the payload is *not* parsed eagerly, only
// stored with the three counts needed to recover its substructure.
func (r *Record) setRaw(raw []byte, nameLen, nCigarOp, seqLen int) {
	r.raw = raw
	r.nameLen = nameLen
	r.nCigarOp = nCigarOp
	r.seqLen = seqLen
}

func (r *Record) rawName() []byte  { return r.raw[:r.nameLen] }
func (r *Record) rawCigar() []byte { return r.raw[r.nameLen : r.nameLen+4*r.nCigarOp] }
func (r *Record) rawSeq() []byte {
	start := r.nameLen + 4*r.nCigarOp
	return r.raw[start : start+(r.seqLen+1)/2]
}
func (r *Record) rawQual() []byte {
	start := r.nameLen + 4*r.nCigarOp + (r.seqLen+1)/2
	return r.raw[start : start+r.seqLen]
}
func (r *Record) rawTags() []byte {
	start := r.nameLen + 4*r.nCigarOp + (r.seqLen+1)/2 + r.seqLen
	return r.raw[start:]
}

// MaterializeName ensures Record.Name is populated from the raw payload.
func (r *Record) MaterializeName() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nameDone || r.raw == nil {
		return
	}
	b := r.rawName()
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	r.Name = string(b)
	r.nameDone = true
}

// MaterializeCigar ensures Record.Cigar is populated from the raw payload
// (spec §4.5 "CIGAR: nCigarOps little-endian 32-bit words").
func (r *Record) MaterializeCigar() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cigarDone || r.raw == nil {
		return
	}
	raw := r.rawCigar()
	cig := make(sam.Cigar, r.nCigarOp)
	for i := 0; i < r.nCigarOp; i++ {
		word := le32(raw[i*4:])
		cig[i] = sam.CigarOp{Type: sam.CigarOpType(word & 0xf), Len: int(word >> 4)}
	}
	r.Cigar = cig
	r.cigarDone = true
}

// MaterializeSeq ensures Record.Seq is populated by unpacking the 4-bit
// packed sequence through the sam alphabet table.
func (r *Record) MaterializeSeq() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seqDone || r.raw == nil {
		return
	}
	raw := r.rawSeq()
	buf := make([]byte, r.seqLen)
	for i := 0; i < r.seqLen; i++ {
		b := raw[i/2]
		var code byte
		if i%2 == 0 {
			code = b >> 4
		} else {
			code = b & 0xf
		}
		buf[i] = sam.BaseLetter(code)
	}
	r.Seq = string(buf)
	r.seqDone = true
}

// MaterializeQual ensures Record.Qual is populated. A leading 0xFF byte
// means the whole array is unstored, represented as a nil slice (spec
// §4.5 "Qualities").
func (r *Record) MaterializeQual() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.qualDone || r.raw == nil {
		return
	}
	raw := r.rawQual()
	if len(raw) > 0 && raw[0] == 0xff {
		r.Qual = nil
	} else {
		q := make([]byte, len(raw))
		copy(q, raw)
		r.Qual = q
	}
	r.qualDone = true
}

// MaterializeTags ensures Record.AuxFields is populated by scanning the
// raw tag blob with the type-width table in unmarshal.go.
func (r *Record) MaterializeTags() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tagsDone || r.raw == nil {
		return nil
	}
	tags, err := parseTags(r.rawTags())
	if err != nil {
		return err
	}
	r.AuxFields = tags
	r.tagsDone = true
	return nil
}

// MaterializeAll forces every lazy field, used by the text codec, the
// sorter, and tests that need a fully-populated record.
func (r *Record) MaterializeAll() error {
	r.MaterializeName()
	r.MaterializeCigar()
	r.MaterializeSeq()
	r.MaterializeQual()
	return r.MaterializeTags()
}
