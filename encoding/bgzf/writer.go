package bgzf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/concordbio/hts/pool"
	"github.com/klauspost/compress/flate"
)

// MaxCompressionLevel is the ceiling the writer escalates to before
// giving up on a block that won't fit in MaxBlockSize once compressed
// (spec §4.4, §7 "capacity" errors).
const MaxCompressionLevel = flate.BestCompression // 9

// writerState models the spec §4.11 BGZF output state machine:
// Idle -> Open -> Writing <-> Flushing -> Closed. Writer only ever
// transitions Open -> Closed (Idle/Writing/Flushing collapse into "not yet
// closed" from the caller's point of view; Close is idempotent).
type writerState int32

const (
	stateOpen writerState = iota
	stateClosed
)

// blockMeta describes one block's position in the logical (uncompressed)
// stream and, once its compress job has run and been written, its real
// file offset (spec §4.4 "virtual-offset remapping table").
type blockMeta struct {
	logicalStart int64
	length       int64
	fileOffset   int64 // valid only after the block has been written
}

// Writer accepts arbitrary-length byte writes, splits them into BGZF
// blocks, and compresses/writes those blocks in parallel while
// preserving output order (spec §4.4).
type Writer struct {
	w     io.Writer
	p     *pool.Pool
	level int

	buf            bytes.Buffer
	blockSize      int
	flushedLogical int64

	mu        sync.Mutex // guards buf, blocks, flushedLogical, prevLatch
	blocks    []*blockMeta
	prevLatch chan struct{}

	writeMu    sync.Mutex // serializes writes to w; file offset advances under this lock
	fileOffset int64

	wg sync.WaitGroup

	fatalM sync.Mutex
	fatal  error

	state writerState
}

// NewWriter creates a Writer at the given klauspost/compress/flate
// compression level (spec §4.4), dispatching compress jobs to p (nil
// means pool.Singleton()).
func NewWriter(w io.Writer, level int, p *pool.Pool) *Writer {
	if p == nil {
		p = pool.Singleton()
	}
	return &Writer{
		w:         w,
		p:         p,
		level:     level,
		blockSize: DefaultUncompressedBlockSize,
	}
}

func (w *Writer) setFatal(err error) {
	w.fatalM.Lock()
	if w.fatal == nil {
		w.fatal = err
	}
	w.fatalM.Unlock()
}

// Err returns the first fatal error encountered by a background compress
// job, if any.
func (w *Writer) Err() error {
	w.fatalM.Lock()
	defer w.fatalM.Unlock()
	return w.fatal
}

// NextOffset returns the writer's current logical (pre-compression)
// stream position. Callers that need to record a virtual offset for a
// byte not yet written (e.g. encoding/bam's index builder, spec §4.10)
// call this before/after writing the bytes in question, then resolve the
// logical position to a real virtual offset with Remap after Close.
func (w *Writer) NextOffset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushedLogical + int64(w.buf.Len())
}

// Write buffers p and carves off complete blocks for compression as the
// buffer fills (spec §4.4).
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	n, _ := w.buf.Write(p)
	for w.buf.Len() >= w.blockSize {
		payload := make([]byte, w.blockSize)
		w.buf.Read(payload) // bytes.Buffer.Read never errors while Len()>0
		w.submitLocked(payload)
	}
	w.mu.Unlock()
	return n, w.Err()
}

// submitLocked carves payload into a new block job. Caller holds w.mu.
func (w *Writer) submitLocked(payload []byte) {
	meta := &blockMeta{logicalStart: w.flushedLogical, length: int64(len(payload))}
	w.flushedLogical += int64(len(payload))
	w.blocks = append(w.blocks, meta)

	prevLatch := w.prevLatch
	myLatch := make(chan struct{})
	w.prevLatch = myLatch

	w.wg.Add(1)
	level := w.level
	w.p.Submit(func() { w.compressAndWrite(meta, payload, level, prevLatch, myLatch) })
}

// compressAndWrite deflates payload, then waits its turn (prevLatch) to
// write the compressed block to w.w, preserving submission order
// regardless of which worker finishes compressing first (spec §4.4
// "Ordering contract").
func (w *Writer) compressAndWrite(meta *blockMeta, payload []byte, level int, prevLatch, myLatch chan struct{}) {
	defer close(myLatch)
	defer w.wg.Done()

	compressed, err := buildMember(payload, level)
	if err != nil {
		w.setFatal(err)
		return
	}

	if prevLatch != nil {
		<-prevLatch
		// The predecessor's latch has served its purpose; drop the
		// reference so it can be collected (spec §4.4: "destroys its
		// predecessor latch after acquiring it").
		prevLatch = nil
	}

	w.writeMu.Lock()
	meta.fileOffset = w.fileOffset
	if _, err := w.w.Write(compressed); err != nil {
		w.writeMu.Unlock()
		w.setFatal(err)
		return
	}
	w.fileOffset += int64(len(compressed))
	w.writeMu.Unlock()
}

// buildMember deflates payload at level into a complete BGZF gzip member,
// escalating the compression level if the result would exceed
// MaxBlockSize, per spec §4.4 and DESIGN NOTES (b). It is fatal (capacity
// error, spec §7) if even MaxCompressionLevel overflows.
func buildMember(payload []byte, level int) ([]byte, error) {
	for {
		member, fits, err := deflateMember(payload, level)
		if err != nil {
			return nil, err
		}
		if fits {
			return member, nil
		}
		if level >= MaxCompressionLevel {
			return nil, fmt.Errorf("bgzf: block of %d bytes does not fit in %d bytes even at max compression level", len(payload), MaxBlockSize)
		}
		level++
	}
}

// deflateMember builds one gzip member at level. fits is false when the
// member would exceed MaxBlockSize, signaling the caller to retry at a
// higher level instead of emitting a corrupt BSIZE.
func deflateMember(payload []byte, level int) (member []byte, fits bool, err error) {
	var deflated bytes.Buffer
	fw, err := flate.NewWriter(&deflated, level)
	if err != nil {
		return nil, false, err
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, false, err
	}
	if err := fw.Close(); err != nil {
		return nil, false, err
	}

	totalLen := 18 + deflated.Len() + 8
	if totalLen > MaxBlockSize {
		return nil, false, nil
	}
	bsize := totalLen - 1

	member = make([]byte, 0, totalLen)
	member = append(member,
		0x1f, 0x8b, 0x08, 0x04, // ID1 ID2 CM FLG(FEXTRA)
		0, 0, 0, 0, // MTIME
		0, 0xff, // XFL OS(unknown)
	)
	var xlen [2]byte
	binary.LittleEndian.PutUint16(xlen[:], 6)
	member = append(member, xlen[:]...)
	member = append(member, bgzfExtraPrefix[:]...)
	var bsizeBytes [2]byte
	binary.LittleEndian.PutUint16(bsizeBytes[:], uint16(bsize))
	member = append(member, bsizeBytes[:]...)
	member = append(member, deflated.Bytes()...)

	crc := crc32.ChecksumIEEE(payload)
	var trailer [8]byte
	binary.LittleEndian.PutUint32(trailer[0:4], crc)
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(payload)))
	member = append(member, trailer[:]...)
	return member, true, nil
}

// CloseWithoutTerminator flushes any partial payload and waits for all
// outstanding compress jobs to finish writing, but does not emit the EOF
// marker (spec §4.4 "Close").
func (w *Writer) CloseWithoutTerminator() error {
	w.mu.Lock()
	if w.buf.Len() > 0 {
		payload := make([]byte, w.buf.Len())
		w.buf.Read(payload)
		w.submitLocked(payload)
	}
	w.mu.Unlock()
	w.wg.Wait()
	return w.Err()
}

// Close flushes, waits for the queue to drain, and writes the empty-
// payload EOF marker exactly once; it is idempotent with respect to
// marker emission (spec §4.4, §4.11).
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.state == stateClosed {
		w.mu.Unlock()
		return w.Err()
	}
	w.state = stateClosed
	w.mu.Unlock()

	if err := w.CloseWithoutTerminator(); err != nil {
		return err
	}
	w.writeMu.Lock()
	_, err := w.w.Write(terminator[:])
	w.fileOffset += int64(len(terminator))
	w.writeMu.Unlock()
	if err != nil {
		w.setFatal(err)
	}
	return w.Err()
}

// Remap resolves a logical stream position (as returned by NextOffset)
// into a real virtual offset. It must only be called after Close, once
// every block's true file offset is known (spec §4.4, §4.10).
func (w *Writer) Remap(logical int64) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	// blocks are appended in increasing logicalStart order.
	lo, hi := 0, len(w.blocks)
	for lo < hi {
		mid := (lo + hi) / 2
		if w.blocks[mid].logicalStart <= logical {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	idx := lo - 1
	if idx < 0 {
		return VirtualOffset(0, 0)
	}
	b := w.blocks[idx]
	within := logical - b.logicalStart
	if within > b.length {
		within = b.length
	}
	return VirtualOffset(b.fileOffset, uint16(within))
}
