// Package bgzf implements the Blocked GNU Zip Format (BGZF) container used
// by BAM: a stream of independently-gzip-compressible blocks, each no more
// than 64KB compressed and uncompressed, terminated by an empty EOF
// marker block (spec §3, §4.3, §4.4, §6).
package bgzf

import "fmt"

// MaxBlockSize is the largest legal uncompressed payload, and also the
// largest legal compressed member size (spec §3 "Block").
const MaxBlockSize = 0x10000

// DefaultUncompressedBlockSize is the uncompressed payload size the
// writer targets per block; smaller than MaxBlockSize to leave headroom
// for compression overhead before the encoder must escalate its level
// (spec §4.4).
const DefaultUncompressedBlockSize = 0xff00

var bgzfExtraPrefix = [4]byte{'B', 'C', 2, 0}

// terminator is the canonical 28-byte BGZF EOF marker: a valid gzip
// member with an empty payload (spec §4.3, §4.4, §6).
var terminator = [28]byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00, 0x42, 0x43,
	0x02, 0x00, 0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// VirtualOffset combines a compressed-block file offset and an
// uncompressed within-block offset into the 64-bit value used to seek
// inside a BGZF stream (spec §3 "Virtual offset").
func VirtualOffset(blockOffset int64, withinBlock uint16) uint64 {
	return uint64(blockOffset)<<16 | uint64(withinBlock)
}

// SplitVirtualOffset recovers the (blockOffset, withinBlock) pair from a
// virtual offset.
func SplitVirtualOffset(vo uint64) (blockOffset int64, withinBlock uint16) {
	return int64(vo >> 16), uint16(vo & 0xffff)
}

// ErrMalformedHeader is returned when a BGZF member header fails the
// magic/method/flag/XLEN/subfield checks (spec §4.3 step 2); it is
// treated as fatal by callers per spec §7.
type ErrMalformedHeader struct {
	Reason string
}

func (e *ErrMalformedHeader) Error() string {
	return fmt.Sprintf("bgzf: malformed member header: %s", e.Reason)
}
