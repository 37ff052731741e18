package bam

import (
	"io"

	"github.com/concordbio/hts/encoding/bgzf"
	"github.com/concordbio/hts/encoding/sam"
	"github.com/concordbio/hts/pool"
)

// Reader streams records out of a whole binary BAM file: the binary file
// header (magic/text/reference dictionary, encoding/bam's
// EncodeHeader/DecodeHeader counterpart) followed by the length-prefixed
// record stream Decode understands. It composes a byte source with
// Decode the same way encoding/samtext.Reader composes a line reader
// with ParseLine, so both codecs are driven through the same
// producer/consumer shape (spec §4.8's multi-reader depends on this).
type Reader struct {
	src    io.Reader
	closer io.Closer // non-nil when src owns a resource that must be released
	alloc  *Allocator
	refs   []*sam.Reference
	hdr    *sam.Header
}

// NewReader decodes the binary BAM header from src (via a fresh
// bgzf.Reader over src, since BAM files are BGZF-compressed) and returns
// a Reader positioned at the first record. p may be nil (pool.Singleton
// is used for both BGZF inflate and record allocation).
func NewReader(src io.Reader, p *pool.Pool) (*Reader, error) {
	bz := bgzf.NewReader(src, p)
	return newReader(bz, bz, p)
}

// NewRawReader decodes the binary BAM header directly from src with no
// BGZF layer, for the "raw BAM" ('B','A' magic) input form spec §4.8's
// format sniffer recognizes alongside the usual BGZF-wrapped form.
func NewRawReader(src io.Reader, p *pool.Pool) (*Reader, error) {
	return newReader(src, nil, p)
}

func newReader(src io.Reader, closer io.Closer, p *pool.Pool) (*Reader, error) {
	hdr, err := DecodeHeader(src)
	if err != nil {
		return nil, err
	}
	return &Reader{src: src, closer: closer, alloc: NewAllocator(p), refs: hdr.References(), hdr: hdr}, nil
}

// Header returns the file's parsed header.
func (r *Reader) Header() *sam.Header { return r.hdr }

// Read decodes and returns the next record, allocated from the Reader's
// Allocator. Callers that keep records past their next Read call should
// not rely on the Allocator reusing them (spec §4.2 "Contracts" governs
// reuse only after Deallocate). Returns io.EOF at the well-formed end of
// the record stream.
func (r *Reader) Read() (*Record, error) {
	rec := r.alloc.Allocate()
	if err := Decode(r.src, rec, r.refs); err != nil {
		return nil, err
	}
	return rec, nil
}

// Close releases the underlying stream, if it owns one (NewReader's BGZF
// layer; NewRawReader has nothing to release).
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
