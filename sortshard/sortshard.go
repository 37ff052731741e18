// Package sortshard implements the external-memory k-way merge sort
// (spec §4.9): records are buffered in memory up to a batch size, sorted
// and flushed to a temp "sortshard" file, and the resulting shards are
// merged in sort order into the final output.
//
// A sortshard file holds BAM-serialized records framed by their sort key,
// grouped into ~1MB blocks, optionally snappy-compressed, followed by a
// trailer describing the shard (record count, compression flag, and the
// shard's encoded BAM header). This is grounded directly on the teacher's
// cmd/bio-bam-sort/sorter/sortshard.go block layout (key+size+body framing,
// per-block snappy compression, trailer-based index), with the teacher's
// recordio/protobuf framing replaced by the same plain encoding/binary
// framing the rest of this module uses for BAM itself -- recordio and its
// protobuf trailer schema are internal to grailbio/base and have no
// standalone home in this module's dependency surface (see DESIGN.md).
package sortshard

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
)

// blockSize is the target pre-compression size of one shard block,
// matching the teacher's sortShardBlockSize.
const blockSize = 1 << 20

// recordHeaderSize is the per-record framing overhead: 8-byte sort key,
// 4-byte body length (teacher's sortShardRecordHeaderSize).
const recordHeaderSize = 12

// invalidKey marks the end of valid records within a block buffer; it is
// larger than any real key so a half-written trailing record is detected
// on read.
const invalidKey uint64 = 0xfffffffffffffffe

// blockPool recycles shard block buffers across writers and readers in
// one merge, avoiding a fresh 1MB allocation per block.
type blockPool struct {
	sync.Pool
}

func newBlockPool() *blockPool {
	return &blockPool{sync.Pool{New: func() interface{} { return make([]byte, 0) }}}
}

func (p *blockPool) get() []byte {
	b := p.Get().([]byte)
	if cap(b) < blockSize {
		b = make([]byte, blockSize)
	} else {
		b = b[:blockSize]
	}
	return b
}

func (p *blockPool) put(b []byte) { p.Put(b[:0]) }

// entry is one sort key and its BAM-serialized record body, the unit the
// writer/reader/merge step all operate on (teacher's sortEntry).
type entry struct {
	key  uint64
	body []byte
}

func (e entry) compare(cmp Comparator, other entry) int {
	return cmp.Compare(e.key, e.body, other.key, other.body)
}

// index is the shard trailer: whether blocks are snappy-compressed, how
// many records the shard holds, and the shard's BAM header, binary-encoded
// via encoding/bam.EncodeHeader (teacher's biopb.SortShardIndex, minus the
// per-block file-offset index this module's merge step doesn't need since
// it always reads shards start-to-end).
type index struct {
	snappy     bool
	numRecords uint32
	encHeader  []byte
}

func (idx *index) marshal() []byte {
	buf := make([]byte, 9+len(idx.encHeader))
	if idx.snappy {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], idx.numRecords)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(idx.encHeader)))
	copy(buf[9:], idx.encHeader)
	return buf
}

func unmarshalIndex(b []byte) (index, error) {
	if len(b) < 9 {
		return index{}, fmt.Errorf("sortshard: truncated index trailer")
	}
	idx := index{snappy: b[0] != 0, numRecords: binary.LittleEndian.Uint32(b[1:5])}
	n := binary.LittleEndian.Uint32(b[5:9])
	if uint64(len(b)) < 9+uint64(n) {
		return index{}, fmt.Errorf("sortshard: truncated index header blob")
	}
	idx.encHeader = append([]byte(nil), b[9:9+n]...)
	return idx, nil
}

// writer accumulates entries into blocks and writes them, followed by a
// length-prefixed trailer and an 8-byte footer pointing at it, to w.
type writer struct {
	w       io.Writer
	pool    *blockPool
	snappy  bool
	curBuf  []byte
	remain  []byte
	nInBuf  int
	written int64 // bytes written to w so far
	idx     index
}

func newWriter(w io.Writer, useSnappy bool, encHeader []byte, pool *blockPool) *writer {
	wr := &writer{w: w, pool: pool, snappy: useSnappy, idx: index{snappy: useSnappy, encHeader: encHeader}}
	wr.curBuf = pool.get()
	wr.remain = wr.curBuf
	return wr
}

// add appends one entry, flushing the current block first if it is full.
// Entries must be added in non-decreasing key order within one block run
// (the caller is expected to have already sorted the batch).
func (w *writer) add(e entry) error {
	if w.tryAdd(e) {
		return nil
	}
	if err := w.flush(); err != nil {
		return err
	}
	if !w.tryAdd(e) {
		return fmt.Errorf("sortshard: record of %d bytes exceeds block size %d", len(e.body), blockSize)
	}
	return nil
}

func (w *writer) tryAdd(e entry) bool {
	if len(w.remain) < recordHeaderSize+len(e.body) {
		if len(w.remain) >= recordHeaderSize {
			binary.LittleEndian.PutUint64(w.remain[:8], invalidKey)
		}
		return false
	}
	binary.LittleEndian.PutUint64(w.remain[:8], e.key)
	binary.LittleEndian.PutUint32(w.remain[8:12], uint32(len(e.body)))
	copy(w.remain[recordHeaderSize:], e.body)
	w.remain = w.remain[recordHeaderSize+len(e.body):]
	w.nInBuf++
	w.idx.numRecords++
	return true
}

// flush writes the current block to w, compressing it first if enabled.
func (w *writer) flush() error {
	if w.nInBuf == 0 {
		return nil
	}
	raw := w.curBuf[:len(w.curBuf)-len(w.remain)]
	out := raw
	if w.snappy {
		compressed := w.pool.get()
		out = snappy.Encode(compressed, raw)
	}
	if err := w.writeBlockFrame(out); err != nil {
		return err
	}
	w.pool.put(w.curBuf)
	w.curBuf = w.pool.get()
	w.remain = w.curBuf
	w.nInBuf = 0
	return nil
}

func (w *writer) writeBlockFrame(b []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	n, err := w.w.Write(b)
	w.written += int64(len(hdr)) + int64(n)
	return err
}

// finish flushes any pending block, then writes the trailer and an 8-byte
// footer giving the trailer's byte offset.
func (w *writer) finish() error {
	if err := w.flush(); err != nil {
		return err
	}
	w.pool.put(w.curBuf)
	w.curBuf, w.remain = nil, nil

	trailerOffset := w.written
	trailer := w.idx.marshal()
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(trailer)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(trailer); err != nil {
		return err
	}
	var footer [8]byte
	binary.LittleEndian.PutUint64(footer[:], uint64(trailerOffset))
	_, err := w.w.Write(footer[:])
	return err
}

// blockParser walks the decoded contents of one block buffer, yielding
// entries in the order they were written.
type blockParser struct {
	buf []byte
	cur entry
}

func (p *blockParser) reset(buf []byte) {
	p.buf = buf
	p.advance()
}

func (p *blockParser) advance() {
	if len(p.buf) <= recordHeaderSize {
		p.cur = entry{key: invalidKey}
		return
	}
	key := binary.LittleEndian.Uint64(p.buf[:8])
	if key == invalidKey {
		p.cur = entry{key: invalidKey}
		return
	}
	n := binary.LittleEndian.Uint32(p.buf[8:12])
	if uint64(len(p.buf)) < recordHeaderSize+uint64(n) {
		p.cur = entry{key: invalidKey}
		return
	}
	body := make([]byte, n)
	copy(body, p.buf[recordHeaderSize:recordHeaderSize+n])
	p.cur = entry{key: key, body: body}
	p.buf = p.buf[recordHeaderSize+n:]
}

func (p *blockParser) done() bool { return p.cur.key == invalidKey }
func (p *blockParser) entry() entry {
	return p.cur
}

// reader streams entries out of a shard file written by writer, one block
// at a time, decompressing as needed.
type reader struct {
	r      io.Reader
	pool   *blockPool
	idx    index
	parser blockParser
	curBuf []byte
	err    error
}

// open reads r from its start through the block sequence; the caller is
// responsible for having already read and removed the trailing
// index+footer (open stops at the first zero-length "end of blocks"
// signal, which this format does not use -- callers instead pass an
// io.Reader limited with io.LimitReader to the trailer's byte offset).
func open(r io.Reader, idx index, pool *blockPool) *reader {
	return &reader{r: r, pool: pool, idx: idx, parser: blockParser{cur: entry{key: invalidKey}}}
}

// readIndex reads the trailing index trailer and footer from a
// full shard file accessed through ra, returning the index and the byte
// length of the block region that precedes it.
func readIndex(ra io.ReaderAt, size int64) (index, int64, error) {
	if size < 8 {
		return index{}, 0, fmt.Errorf("sortshard: file too short for footer")
	}
	var footer [8]byte
	if _, err := ra.ReadAt(footer[:], size-8); err != nil {
		return index{}, 0, err
	}
	trailerOffset := int64(binary.LittleEndian.Uint64(footer[:]))
	if trailerOffset < 0 || trailerOffset > size-8 {
		return index{}, 0, fmt.Errorf("sortshard: corrupt trailer offset %d", trailerOffset)
	}
	var lenBuf [4]byte
	if _, err := ra.ReadAt(lenBuf[:], trailerOffset); err != nil {
		return index{}, 0, err
	}
	trailerLen := binary.LittleEndian.Uint32(lenBuf[:])
	trailerBytes := make([]byte, trailerLen)
	if _, err := ra.ReadAt(trailerBytes, trailerOffset+4); err != nil {
		return index{}, 0, err
	}
	idx, err := unmarshalIndex(trailerBytes)
	return idx, trailerOffset, err
}

// scan advances to the next entry, reading and decoding blocks from r as
// needed. It returns false at end of stream or on error (check err).
func (rd *reader) scan() bool {
	if !rd.parser.done() {
		rd.parser.advance()
	}
	for rd.parser.done() {
		if rd.curBuf != nil {
			rd.pool.put(rd.curBuf)
			rd.curBuf = nil
		}
		raw, ok := rd.readBlock()
		if !ok {
			return false
		}
		rd.curBuf = raw
		rd.parser.reset(raw)
	}
	return true
}

func (rd *reader) readBlock() ([]byte, bool) {
	var hdr [4]byte
	if _, err := io.ReadFull(rd.r, hdr[:]); err != nil {
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			rd.err = err
		}
		return nil, false
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	raw := make([]byte, n)
	if _, err := io.ReadFull(rd.r, raw); err != nil {
		rd.err = err
		return nil, false
	}
	if !rd.idx.snappy {
		return raw, true
	}
	dst := rd.pool.get()
	out, err := snappy.Decode(dst, raw)
	if err != nil {
		rd.err = err
		return nil, false
	}
	return out, true
}

func (rd *reader) key() entry { return rd.parser.entry() }
func (rd *reader) Err() error { return rd.err }
