// Package sam defines the logical data model shared by the binary (bam)
// and text (samtext) codecs: the record, its header, the sequence
// dictionary, CIGAR operations and the typed tag dictionary. It owns no
// I/O; encoding/bam and encoding/samtext translate bytes to and from the
// types here.
package sam

import "strconv"

// Flags is the 16-bit alignment flag bitset (spec §3).
type Flags uint16

const (
	Paired        Flags = 1 << iota // read is paired
	ProperPair                      // read is mapped in a proper pair
	Unmapped                        // read is unmapped
	MateUnmapped                    // mate is unmapped
	Reverse                         // read is reverse-complemented
	MateReverse                     // mate is reverse-complemented
	Read1                           // first in pair
	Read2                           // second in pair
	Secondary                       // secondary alignment
	QCFail                          // QC failure
	Duplicate                       // PCR/optical duplicate
	Supplementary                   // supplementary alignment
)

// String renders the flag bitset the way the text codec does: decimal.
func (f Flags) String() string {
	return strconv.Itoa(int(f))
}
