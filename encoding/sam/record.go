package sam

import "strings"

// Record is one fully materialized alignment (spec §3). encoding/bam.Record
// embeds this type and lazily fills it in from the raw binary payload;
// encoding/samtext fills it in directly while parsing a text line.
type Record struct {
	Name     string
	Ref      *Reference // nil means unmapped / refID==-1
	Pos      int        // 0-based
	MapQ     byte
	Cigar    Cigar
	Flags    Flags
	MateRef  *Reference
	MatePos  int
	TempLen  int
	Seq      string // unpacked bases, uppercase IUPAC
	Qual     []byte // raw quality bytes (Phred, not ASCII-offset); nil/unset is len==0 or first byte 0xFF sentinel preserved by bam codec
	AuxFields Tags
	Bin      *int // explicit bin override; nil means "recompute on encode" (spec §4.5)
}

// RefID returns the reference index of Ref, or -1 if unmapped.
func (r *Record) RefID() int {
	if r.Ref == nil {
		return -1
	}
	return r.Ref.ID()
}

// MateRefID returns the reference index of MateRef, or -1 if the mate is
// unmapped/absent.
func (r *Record) MateRefID() int {
	if r.MateRef == nil {
		return -1
	}
	return r.MateRef.ID()
}

// End returns the alignment's end position on the reference (exclusive),
// derived from Pos and Cigar (spec §4.5 "endPos derivation").
func (r *Record) End() int {
	return r.Pos + r.Cigar.ReferenceLength()
}

// seqAlphabet is the BAM 4-bit packed base alphabet (spec §3, §4.5).
const seqAlphabet = "=ACMGRSVTWYHKDBN"

var baseToCode = func() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = 0xff
	}
	for i := 0; i < len(seqAlphabet); i++ {
		t[seqAlphabet[i]] = byte(i)
		t[strings.ToLower(string(seqAlphabet[i]))[0]] = byte(i)
	}
	return t
}()

// BaseCode returns the 4-bit packed code for an upper- or lower-case base
// letter, or (0, false) if the letter is not in the alphabet (spec §4.5:
// "unknown base is fatal" at the encode call site).
func BaseCode(b byte) (byte, bool) {
	c := baseToCode[b]
	if c == 0xff {
		return 0, false
	}
	return c, true
}

// BaseLetter maps a 4-bit packed code back to its alphabet letter.
func BaseLetter(code byte) byte {
	if int(code) >= len(seqAlphabet) {
		return 'N'
	}
	return seqAlphabet[code]
}

// Level offsets for the 6-level hierarchical binning
// scheme (spec §3 "minimum-bin formula"), matching the canonical BAM
// reg2bin/bin_limit constants.
const (
	binLevel0Offset = 0
	binLevel1Offset = 1
	binLevel2Offset = 9
	binLevel3Offset = 73
	binLevel4Offset = 585
	binLevel5Offset = 4681
)

// MinBin computes the smallest BAM bin spanning the half-open interval
// [beg, end) on the reference, using the spec's 6-level interval tree
// (spec §3, §4.5, §8 test vector: MinBin(100,104)==4681).
func MinBin(beg, end int) int {
	end--
	switch {
	case beg>>14 == end>>14:
		return binLevel5Offset + (beg >> 14)
	case beg>>17 == end>>17:
		return binLevel4Offset + (beg >> 17)
	case beg>>20 == end>>20:
		return binLevel3Offset + (beg >> 20)
	case beg>>23 == end>>23:
		return binLevel2Offset + (beg >> 23)
	case beg>>26 == end>>26:
		return binLevel1Offset + (beg >> 26)
	default:
		return binLevel0Offset
	}
}

// MaxBinNumber is the highest real bin id; 37450 is the synthetic
// "reference metadata" bin used by the BAI index (spec §3, §4.10).
const (
	MaxBinNumber      = 37449
	MetadataBinNumber = 37450
)
