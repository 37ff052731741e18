package bgzf

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/concordbio/hts/pool"
	"github.com/klauspost/compress/flate"
)

// block is one gzip member read from the source: its raw compressed
// bytes, its file offset, and (once inflated) its decompressed payload.
// A block is owned by exactly one inflate job from creation to emission
// (spec §3 "Lifecycle and ownership").
type block struct {
	fileOffset int64 // compressed file offset of the member's first byte
	compressed []byte
	data       []byte
	err        error
	done       chan struct{}
}

func (b *block) wait() error {
	<-b.done
	return b.err
}

// countingReader tracks the number of bytes consumed from an underlying
// io.Reader, giving each block its starting file offset without needing
// io.Seeker (spec §3 "Every block stores the compressed file offset").
type countingReader struct {
	r   io.Reader
	off int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.off += int64(n)
	return n, err
}

func (c *countingReader) readFull(p []byte) (int, error) {
	n, err := io.ReadFull(c.r, p)
	c.off += int64(n)
	return n, err
}

// Reader reads a BGZF byte stream and exposes it as an ordered,
// decompressed io.Reader (spec §4.3). A single internal reader goroutine
// parses member headers and submits inflate jobs to a pool.Pool; Read
// pulls decompressed bytes from the head of an ordered ready queue.
type Reader struct {
	src   *countingReader
	pool  *pool.Pool
	ready *pool.BoundedQueue // of *block

	eof    pool.Flag
	fatal  error
	fatalM sync.Mutex

	cur    *block
	curOff int

	readerDone chan struct{}
}

// ReadyQueueCap is the soft cap on the number of blocks buffered between
// the reader goroutine and Read calls (spec §4.3 step 5, "~100 blocks").
const ReadyQueueCap = 100

// NewReader wraps src as a BGZF stream, dispatching inflate jobs to p (p
// may be pool.Singleton() or a caller-owned pool).
func NewReader(src io.Reader, p *pool.Pool) *Reader {
	if p == nil {
		p = pool.Singleton()
	}
	r := &Reader{
		src:        &countingReader{r: src},
		pool:       p,
		ready:      pool.NewBoundedQueue(ReadyQueueCap),
		readerDone: make(chan struct{}),
	}
	go r.readLoop()
	return r
}

// VirtualOffset returns the virtual offset of the next byte Read will
// return.
func (r *Reader) VirtualOffset() uint64 {
	if r.cur == nil {
		return VirtualOffset(r.src.off, 0)
	}
	return VirtualOffset(r.cur.fileOffset, uint16(r.curOff))
}

func (r *Reader) setFatal(err error) {
	r.fatalM.Lock()
	if r.fatal == nil {
		r.fatal = err
	}
	r.fatalM.Unlock()
}

func (r *Reader) readLoop() {
	defer close(r.readerDone)
	defer r.ready.Close()
	for {
		start := r.src.off
		var header [18]byte
		n, err := r.src.readFull(header[:])
		if err != nil {
			if n == 0 && err == io.EOF {
				// Clean end of stream with no trailing EOF marker is accepted
				// for reads; a warning belongs at Close-of-writer time, not here
				// (spec §8 "Boundaries").
				return
			}
			r.setFatal(&ErrMalformedHeader{Reason: "short read of member header: " + err.Error()})
			return
		}
		if err := validateHeader(header[:]); err != nil {
			r.setFatal(err)
			return
		}
		bsize := int(binary.LittleEndian.Uint16(header[16:18]))
		remaining := bsize - 17
		if remaining < 8 {
			r.setFatal(&ErrMalformedHeader{Reason: "BSIZE too small"})
			return
		}
		rest := make([]byte, remaining)
		if _, err := r.src.readFull(rest); err != nil {
			r.setFatal(&ErrMalformedHeader{Reason: "truncated member body: " + err.Error()})
			return
		}
		isize := binary.LittleEndian.Uint32(rest[len(rest)-4:])
		deflateData := rest[:len(rest)-8]
		if isize == 0 {
			// Empty-payload member: this is the EOF marker (spec §3, §6). It is
			// not pushed as a readable block; the stream simply ends.
			return
		}
		b := &block{
			fileOffset: start,
			compressed: deflateData,
			done:       make(chan struct{}),
		}
		r.ready.Push(b)
		size := int(isize)
		r.pool.Submit(func() { inflateBlock(b, size) })
	}
}

func inflateBlock(b *block, expectedSize int) {
	defer close(b.done)
	fr := flate.NewReader(bytes.NewReader(b.compressed))
	defer fr.Close()
	data := make([]byte, 0, expectedSize)
	buf := make([]byte, expectedSize)
	for {
		n, err := fr.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			b.err = err
			return
		}
	}
	b.data = data
}

func validateHeader(h []byte) error {
	if h[0] != 0x1f || h[1] != 0x8b {
		return &ErrMalformedHeader{Reason: "bad magic"}
	}
	if h[2] != 0x08 {
		return &ErrMalformedHeader{Reason: "bad compression method"}
	}
	if h[3]&0x04 == 0 {
		return &ErrMalformedHeader{Reason: "FEXTRA flag not set"}
	}
	xlen := binary.LittleEndian.Uint16(h[10:12])
	if xlen != 6 {
		return &ErrMalformedHeader{Reason: "unexpected XLEN"}
	}
	if h[12] != 'B' || h[13] != 'C' {
		return &ErrMalformedHeader{Reason: "missing BC subfield"}
	}
	slen := binary.LittleEndian.Uint16(h[14:16])
	if slen != 2 {
		return &ErrMalformedHeader{Reason: "unexpected BC subfield length"}
	}
	return nil
}

// Read implements io.Reader, pulling decompressed bytes from the ready
// queue in order, blocking until the head block finishes inflating (spec
// §4.3 "Consumers call read(dst,len)").
func (r *Reader) Read(dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if r.cur == nil || r.curOff >= len(r.cur.data) {
		if !r.advance() {
			r.fatalM.Lock()
			err := r.fatal
			r.fatalM.Unlock()
			if err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
	}
	n := copy(dst, r.cur.data[r.curOff:])
	r.curOff += n
	return n, nil
}

// advance pops the next ready block (waiting for its inflate job if
// necessary) and makes it current. It returns false once the stream is
// exhausted.
func (r *Reader) advance() bool {
	item, ok := r.ready.Pop()
	if !ok {
		return false
	}
	b := item.(*block)
	if err := b.wait(); err != nil {
		r.setFatal(err)
		return false
	}
	r.cur = b
	r.curOff = 0
	if len(b.data) == 0 {
		return r.advance()
	}
	return true
}

// Close waits for the internal reader goroutine to finish (it may already
// have, at EOF) and returns any fatal error encountered.
func (r *Reader) Close() error {
	<-r.readerDone
	r.fatalM.Lock()
	defer r.fatalM.Unlock()
	return r.fatal
}
