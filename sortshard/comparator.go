package sortshard

import (
	"bytes"

	"github.com/concordbio/hts/encoding/sam"
)

// Order selects the sort order a Sorter produces (spec §4.9's two-
// comparator requirement: position order, matching "samtools sort"'s
// default, and name order for tools that group by read name).
type Order int

const (
	// OrderPosition sorts by (reference id, position, reverse flag), then
	// by the records' serialized bytes -- the teacher's recCoord comparator.
	OrderPosition Order = iota
	// OrderName sorts lexicographically by read name, then by the
	// records' serialized bytes.
	OrderName
)

// invalidCoord/unmappedCoord are sentinels reserved by the position
// comparator, one above and one within the valid recCoord range
// (teacher's invalidCoord/unmappedCoord in cmd/bio-bam-sort/sorter/sort.go).
const (
	invalidCoord   uint64 = 0xfffffffffffffffe
	unmappedCoordV uint64 = 0x7ffffffffffffffe
)

// positionKey encodes (refID, pos, reverse) into one comparable uint64,
// the same bit layout as the teacher's recCoord: refID in bits [33:64),
// pos in bits [1:33), reverse in bit 0.
func positionKey(refID, pos int, reverse bool) uint64 {
	var key uint64
	if refID < 0 {
		key = unmappedCoordV
	} else {
		key = (uint64(uint32(refID)) << 33) | (uint64(uint32(pos)) << 1)
	}
	if reverse {
		key |= 1
	}
	return key
}

func positionKeyFromRecord(rec *sam.Record) uint64 {
	return positionKey(rec.RefID(), rec.Pos, rec.Flags&sam.Reverse != 0)
}

// Comparator orders two sortshard entries given their key and serialized
// body. key encodes whatever keyOf below produced; for OrderName it is the
// first 8 name bytes packed into a uint64, which nameComparator.Compare
// does not consult (it reads the full name out of the body), so entries
// are comparable without a full record decode.
type Comparator interface {
	// keyOf derives the sortable key for rec, stored alongside its
	// serialized body.
	keyOf(rec *sam.Record) uint64
	// Compare returns <0, 0, >0 as (key0,body0) sorts before, same as, or
	// after (key1,body1).
	Compare(key0 uint64, body0 []byte, key1 uint64, body1 []byte) int
}

type positionComparator struct{}

func (positionComparator) keyOf(rec *sam.Record) uint64 { return positionKeyFromRecord(rec) }

func (positionComparator) Compare(k0 uint64, b0 []byte, k1 uint64, b1 []byte) int {
	if k0 < k1 {
		return -1
	}
	if k0 > k1 {
		return 1
	}
	return bytes.Compare(b0, b1)
}

// nameComparator sorts by read name. Names are stored inline at the front
// of the serialized BAM body (l_read_name-prefixed NUL-terminated string
// starting at byte 32 of the body, per the BAM record layout spec §3), so
// Compare reads the name directly out of the body rather than needing a
// side channel.
type nameComparator struct{}

func (nameComparator) keyOf(rec *sam.Record) uint64 {
	return nameBucket(rec.Name)
}

// nameBucket packs up to the first 8 bytes of name into a uint64, the key
// stored with each name-ordered entry. nameComparator.Compare ignores this
// key and orders entries by the complete name read out of the serialized
// body.
func nameBucket(name string) uint64 {
	var b [8]byte
	copy(b[:], name)
	var key uint64
	for _, c := range b {
		key = key<<8 | uint64(c)
	}
	return key
}

func (nameComparator) Compare(_ uint64, b0 []byte, _ uint64, b1 []byte) int {
	n0 := bamRecordName(b0)
	n1 := bamRecordName(b1)
	if n0 != n1 {
		if n0 < n1 {
			return -1
		}
		return 1
	}
	return bytes.Compare(b0, b1)
}

// bamRecordName extracts the NUL-terminated read name from a serialized
// BAM record body: a 4-byte block_length prefix, the 32-byte fixed
// "core", then the name (spec §3 "Record layout").
func bamRecordName(body []byte) string {
	const nameOffset = 4 + 32
	if len(body) <= nameOffset {
		return ""
	}
	rest := body[nameOffset:]
	for i, c := range rest {
		if c == 0 {
			return string(rest[:i])
		}
	}
	return string(rest)
}

func comparatorFor(order Order) Comparator {
	if order == OrderName {
		return nameComparator{}
	}
	return positionComparator{}
}
