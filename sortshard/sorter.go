package sortshard

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sort"
	"sync"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"

	"github.com/concordbio/hts/encoding/bam"
	"github.com/concordbio/hts/encoding/bgzf"
	"github.com/concordbio/hts/encoding/sam"
	"github.com/concordbio/hts/pool"
)

// DefaultSortBatchSize bounds how many records a Sorter keeps in memory
// before flushing a sorted run to a temp shard file (spec §4.9).
const DefaultSortBatchSize = 1 << 20

// DefaultParallelism is the default number of background shard-sort
// goroutines.
const DefaultParallelism = 2

// defaultSortRangeSize is the target size of each worker-sorted range
// within one in-memory batch (spec §4.9: "split into min(P,
// ceil(n/30000)) ranges, worker-sorted, then merged in place").
const defaultSortRangeSize = 30000

// SortOptions controls a Sorter (spec §4.9, grounded on the teacher's
// cmd/bio-bam-sort/sorter/sort.go SortOptions).
type SortOptions struct {
	// ShardIndex disambiguates the sort order of ties across Sorters whose
	// output is later merged together. Zero means derive it from the
	// output path's hash.
	ShardIndex uint32
	// SortBatchSize is the in-memory batch size before a run is flushed.
	// <=0 means DefaultSortBatchSize.
	SortBatchSize int
	// Parallelism is the number of background shard-sort goroutines.
	// <=0 means DefaultParallelism.
	Parallelism int
	// Order selects position or name sort order (spec §4.9).
	Order Order
	// NoCompressTmpFiles disables snappy compression of temp shard files.
	NoCompressTmpFiles bool
	// TmpDir is the directory for temp shard files ("" means the system
	// default).
	TmpDir string
}

// Stats summarizes one Sorter's work, returned by Close (spec §4.9
// supplemented feature: callers doing batch pipelines want a record of
// how much external-memory work a sort actually did).
type Stats struct {
	Runs           int
	RecordsRead    int
	RecordsWritten int
}

// Sorter buffers sam.Records, sorts them in bounded-size runs, and merges
// the runs into one coordinate- or name-sorted output path (spec §4.9).
//
// Example:
//   s := NewSorter("/tmp/out.sortshard", header, SortOptions{})
//   for _, rec := range records {
//       s.AddRecord(rec)
//   }
//   stats, err := s.Close()
type Sorter struct {
	options SortOptions
	outPath string
	header  *sam.Header
	cmp     Comparator
	pool    *blockPool

	recs         []entry
	totalRecords uint32

	err        errors.Once
	bgSorterCh chan sortBatch
	wg         sync.WaitGroup

	mu     sync.Mutex
	shards []string
}

type sortBatch struct {
	recs []entry
}

// NewSorter creates a Sorter that will write its merged, sorted output to
// outPath. header must contain every reference used by records later
// passed to AddRecord.
func NewSorter(outPath string, header *sam.Header, opts SortOptions) *Sorter {
	if opts.ShardIndex == 0 {
		hash := sha256.Sum224([]byte(outPath))
		opts.ShardIndex = binary.LittleEndian.Uint32(hash[:])
	}
	if opts.SortBatchSize <= 0 {
		opts.SortBatchSize = DefaultSortBatchSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	s := &Sorter{
		options:    opts,
		outPath:    outPath,
		header:     header,
		cmp:        comparatorFor(opts.Order),
		pool:       newBlockPool(),
		bgSorterCh: make(chan sortBatch, opts.Parallelism),
	}
	for i := 0; i < opts.Parallelism; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for batch := range s.bgSorterCh {
				path := s.sortAndSpill(batch.recs)
				if path != "" {
					s.mu.Lock()
					s.shards = append(s.shards, path)
					s.mu.Unlock()
				}
			}
		}()
	}
	return s
}

// AddRecord serializes rec and buffers it for sorting. The Sorter takes
// ownership of rec's serialized bytes; the caller may reuse rec
// afterwards.
func (s *Sorter) AddRecord(rec *sam.Record) {
	s.totalRecords++
	var buf bytes.Buffer
	if err := bam.Marshal(rec, &buf); err != nil {
		s.err.Set(err)
		return
	}
	s.recs = append(s.recs, entry{key: s.cmp.keyOf(rec), body: buf.Bytes()})
	if len(s.recs) >= s.options.SortBatchSize {
		s.spillCurrentBatch()
	}
}

func (s *Sorter) spillCurrentBatch() {
	s.bgSorterCh <- sortBatch{recs: s.recs}
	s.recs = nil
}

// sortAndSpill sorts records in parallel ranges (spec §4.9), then writes
// them to a fresh temp shard file and returns its path.
func (s *Sorter) sortAndSpill(recs []entry) string {
	if len(recs) == 0 {
		return ""
	}
	s.parallelSort(recs)

	temp, err := ioutil.TempFile(s.options.TmpDir, "sortshard")
	if err != nil {
		s.err.Set(err)
		return ""
	}
	w := newWriter(temp, !s.options.NoCompressTmpFiles, nil, s.pool)
	for _, e := range recs {
		if err := w.add(e); err != nil {
			s.err.Set(err)
			break
		}
	}
	s.err.Set(w.finish())
	s.err.Set(temp.Close())
	return temp.Name()
}

// parallelSort sorts recs in place, splitting the work into
// min(Parallelism, ceil(n/defaultSortRangeSize)) ranges sorted
// concurrently via pool.Pool, then merging the sorted ranges in place
// (spec §4.9; the teacher instead did one sort.SliceStable call).
func (s *Sorter) parallelSort(recs []entry) {
	n := len(recs)
	ranges := (n + defaultSortRangeSize - 1) / defaultSortRangeSize
	if ranges > s.options.Parallelism {
		ranges = s.options.Parallelism
	}
	if ranges <= 1 {
		s.sortSlice(recs)
		return
	}

	rangeSize := (n + ranges - 1) / ranges
	p := pool.NewPool(ranges, ranges)
	var wg sync.WaitGroup
	for i := 0; i < ranges; i++ {
		lo := i * rangeSize
		hi := lo + rangeSize
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		sub := recs[lo:hi]
		p.Submit(func() {
			defer wg.Done()
			s.sortSlice(sub)
		})
	}
	wg.Wait()
	p.Shutdown()

	merged := make([]entry, 0, n)
	for i := 0; i < ranges; i++ {
		lo := i * rangeSize
		hi := lo + rangeSize
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		merged = mergeSortedSlices(merged, recs[lo:hi], s.cmp)
	}
	copy(recs, merged)
}

func (s *Sorter) sortSlice(recs []entry) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].compare(s.cmp, recs[j]) < 0
	})
}

func mergeSortedSlices(a, b []entry, cmp Comparator) []entry {
	out := make([]entry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].compare(cmp, b[j]) <= 0 {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// Close must be called after all records have been added. It blocks until
// every run has been sorted, spilled, and merged into the Sorter's output
// path, and returns aggregate statistics for the run.
func (s *Sorter) Close() (Stats, error) {
	if len(s.recs) > 0 || s.totalRecords == 0 {
		s.spillCurrentBatch()
	}
	close(s.bgSorterCh)
	s.wg.Wait()

	stats := Stats{Runs: len(s.shards), RecordsWritten: int(s.totalRecords)}
	if s.err.Err() == nil {
		read, err := s.mergeShardsToFile(s.shards, s.outPath)
		stats.RecordsRead = read
		s.err.Set(err)
	}
	for _, path := range s.shards {
		if rmErr := os.Remove(path); rmErr != nil && s.err.Err() == nil {
			s.err.Set(rmErr)
		}
	}
	return stats, s.err.Err()
}

// mergeShardsToFile merges the given shard paths into a new sortshard
// file at outPath carrying the Sorter's header, ready for a later
// MergeToBAM call (or for being merged again as an intermediate shard in
// a bigger external sort).
func (s *Sorter) mergeShardsToFile(paths []string, outPath string) (int, error) {
	if len(paths) == 0 {
		temp, err := os.Create(outPath)
		if err != nil {
			return 0, err
		}
		w := newWriter(temp, !s.options.NoCompressTmpFiles, encodeHeaderOrNil(s.header), s.pool)
		if err := w.finish(); err != nil {
			return 0, err
		}
		return 0, temp.Close()
	}

	readers, closeAll, err := openShardReaders(paths, s.pool)
	if err != nil {
		return 0, err
	}
	defer closeAll()

	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	w := newWriter(out, !s.options.NoCompressTmpFiles, encodeHeaderOrNil(s.header), s.pool)
	errOnce := &errors.Once{}
	nRead := 0
	mergeShardReaders(readers, func(e entry) bool {
		nRead++
		errOnce.Set(w.add(e))
		return errOnce.Err() == nil
	}, s.cmp)
	if err := w.finish(); err != nil {
		errOnce.Set(err)
	}
	errOnce.Set(out.Close())
	return nRead, errOnce.Err()
}

func encodeHeaderOrNil(h *sam.Header) []byte {
	if h == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := bam.EncodeHeader(h, sam.ProgramRecord{}, &buf); err != nil {
		return nil
	}
	return buf.Bytes()
}

type openShard struct {
	path string
	f    *os.File
	rd   *reader
	idx  index
}

func openShardReaders(paths []string, pool *blockPool) ([]*openShard, func(), error) {
	shards := make([]*openShard, 0, len(paths))
	closeAll := func() {
		for _, sh := range shards {
			sh.f.Close()
		}
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			closeAll()
			return nil, nil, err
		}
		idx, trailerOffset, err := readIndex(f, info.Size())
		if err != nil {
			f.Close()
			closeAll()
			return nil, nil, fmt.Errorf("sortshard: %s: %w", path, err)
		}
		if _, err := f.Seek(0, 0); err != nil {
			f.Close()
			closeAll()
			return nil, nil, err
		}
		blockRegion := io.LimitReader(f, trailerOffset)
		rd := open(blockRegion, idx, pool)
		shards = append(shards, &openShard{path: path, f: f, rd: rd, idx: idx})
	}
	return shards, closeAll, nil
}

// mergeLeaf adapts an openShard into the llrb.Comparable interface so the
// N-way merge can keep shards ordered in a binary tree keyed by their
// current head entry (teacher's mergeLeaf in sort.go).
type mergeLeaf struct {
	seq   int
	shard *openShard
	cmp   Comparator
}

func (l *mergeLeaf) Compare(other llrb.Comparable) int {
	o := other.(*mergeLeaf)
	if c := l.shard.rd.key().compare(l.cmp, o.shard.rd.key()); c != 0 {
		return c
	}
	return l.seq - o.seq
}

// mergeShardReaders performs an N-way merge of shards in sort order,
// invoking readCallback for each entry until it returns false (teacher's
// internalMergeShards, llrb.Tree-based rather than a heap, on the
// expectation that the same shard tends to stay at the top of the tree
// across consecutive records).
func mergeShardReaders(shards []*openShard, readCallback func(entry) bool, cmp Comparator) {
	tree := llrb.Tree{}
	for i, sh := range shards {
		if sh.rd.scan() {
			tree.Insert(&mergeLeaf{seq: i, shard: sh, cmp: cmp})
		}
	}
	for tree.Len() > 0 {
		var top, next *mergeLeaf
		n := 0
		tree.Do(func(item llrb.Comparable) bool {
			n++
			switch n {
			case 1:
				top = item.(*mergeLeaf)
				return false
			case 2:
				next = item.(*mergeLeaf)
				return true
			}
			return true
		})
		done := false
		for {
			if !readCallback(top.shard.rd.key()) {
				done = true
				break
			}
			hasMore := top.shard.rd.scan()
			if !hasMore || (next != nil && next.shard.rd.key().compare(cmp, top.shard.rd.key()) < 0) {
				break
			}
		}
		tree.DeleteMin()
		if !done && top.shard.rd.Err() == nil {
			if _, ok := currentHead(top); ok {
				tree.Insert(top)
			}
		}
		if done {
			return
		}
	}
}

// currentHead reports whether leaf's shard still has a current entry
// (i.e. its last scan() call succeeded).
func currentHead(l *mergeLeaf) (entry, bool) {
	if l.shard.rd.parser.done() {
		return entry{}, false
	}
	return l.shard.rd.key(), true
}

// MergeToBAM merges a set of sortshard files (each produced by a Sorter)
// directly into a coordinate- or name-sorted BAM file at bamPath,
// skipping the intermediate merged-sortshard step Close already performs
// for a single Sorter (spec §4.9 supplemented feature, teacher's
// BAMFromSortShards). level is the output BGZF compression level (spec
// §6 "--compression 0..9"). When buildIndex is true, a BAI sidecar is
// written alongside bamPath (spec §6 "a sibling .bai index", §4.10 "C10
// observes the encode/write seam").
func MergeToBAM(paths []string, bamPath string, order Order, level int, buildIndex bool) error {
	ctx := vcontext.Background()
	out, err := file.Create(ctx, bamPath)
	if err != nil {
		return err
	}
	errOnce := &errors.Once{}
	idx, err := MergeToWriter(paths, out.Writer(ctx), order, level, buildIndex)
	errOnce.Set(err)
	errOnce.Set(out.Close(ctx))
	if buildIndex && errOnce.Err() == nil {
		errOnce.Set(writeIndexFile(ctx, bamPath+".bai", idx))
	}
	return errOnce.Err()
}

// writeIndexFile writes idx to path in BAI binary format (spec §4.10).
func writeIndexFile(ctx context.Context, path string, idx *bam.Index) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	errOnce := &errors.Once{}
	errOnce.Set(bam.WriteIndex(out.Writer(ctx), idx))
	errOnce.Set(out.Close(ctx))
	return errOnce.Err()
}

// pendingObs is one record's index-relevant fields plus the logical
// (pre-compression) stream positions bracketing its encoded bytes,
// collected while writing and resolved into true BGZF virtual offsets
// only once the writer has closed and every block's file offset is known
// (spec §4.4 "Remap", §4.10 "C10 observes the encode/write seam").
type pendingObs struct {
	refID, pos, end, bin      int
	mapped                    bool
	beginLogical, stopLogical int64
}

// observeForIndex decodes body's core fields (refID, pos, mapped) and
// computes its bin and CIGAR-derived end position, for index purposes only; it does
// not touch the record actually being written, so it never affects the
// merge's output bytes.
func observeForIndex(scratch *bam.Record, body []byte, refs []*sam.Reference, begin, stop int64) (pendingObs, error) {
	if err := bam.Decode(bytes.NewReader(body), scratch, refs); err != nil {
		return pendingObs{}, err
	}
	scratch.MaterializeCigar()
	end := scratch.End()
	bin := bam.BinFor(&scratch.Record)
	mapped := scratch.RefID() >= 0 && scratch.Flags&sam.Unmapped == 0
	return pendingObs{
		refID: scratch.RefID(), pos: scratch.Pos, end: end, bin: bin, mapped: mapped,
		beginLogical: begin, stopLogical: stop,
	}, nil
}

// MergeToWriter is MergeToBAM's core: it merges paths into the BGZF-BAM
// byte stream w, letting callers write to destinations file.Create
// doesn't model directly (e.g. stdout, per spec §6 "--out ... stdout
// permitted"). When buildIndex is true, it also returns the completed
// block index for the merged output (spec §4.10); otherwise the returned
// *bam.Index is nil.
func MergeToWriter(paths []string, w io.Writer, order Order, level int, buildIndex bool) (*bam.Index, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("sortshard: no shards to merge")
	}
	pool := newBlockPool()
	shards, closeAll, err := openShardReaders(paths, pool)
	if err != nil {
		return nil, err
	}
	defer closeAll()

	headers := make([]*sam.Header, len(shards))
	for i, sh := range shards {
		if len(sh.idx.encHeader) == 0 {
			return nil, fmt.Errorf("sortshard: %s: missing embedded header", sh.path)
		}
		h, err := bam.DecodeHeader(bytes.NewReader(sh.idx.encHeader))
		if err != nil {
			return nil, err
		}
		headers[i] = h
	}
	merged, translations, err := sam.MergeHeaders(headers)
	if err != nil {
		return nil, err
	}
	for _, t := range translations {
		for i, ref := range t {
			if ref.ID() != i {
				return nil, fmt.Errorf("sortshard: cannot merge shards with mismatched reference order")
			}
		}
	}
	if order == OrderPosition {
		merged.SortOrder = "coordinate"
	} else {
		merged.SortOrder = "queryname"
	}

	errOnce := &errors.Once{}
	gz := bgzf.NewWriter(w, level, nil)
	var headerBuf bytes.Buffer
	if err := bam.EncodeHeader(merged, sam.ProgramRecord{}, &headerBuf); err != nil {
		return nil, err
	}
	if _, err := gz.Write(headerBuf.Bytes()); err != nil {
		errOnce.Set(err)
	}

	refs := merged.References()
	var scratch *bam.Record
	var pending []pendingObs
	if buildIndex {
		scratch = bam.NewRecord()
	}

	cmp := comparatorFor(order)
	mergeShardReaders(shards, func(e entry) bool {
		var begin int64
		if buildIndex {
			begin = gz.NextOffset()
		}
		_, err := gz.Write(e.body)
		errOnce.Set(err)
		if buildIndex && err == nil {
			obs, derr := observeForIndex(scratch, e.body, refs, begin, gz.NextOffset())
			if derr != nil {
				errOnce.Set(fmt.Errorf("sortshard: decode record for index: %w", derr))
			} else {
				pending = append(pending, obs)
			}
		}
		return errOnce.Err() == nil
	}, cmp)
	errOnce.Set(gz.Close())

	if !buildIndex || errOnce.Err() != nil {
		return nil, errOnce.Err()
	}
	builder := bam.NewIndexBuilder(len(refs))
	for _, p := range pending {
		builder.Observe(p.refID, p.pos, p.end, p.bin, p.mapped, bam.Offset(gz.Remap(p.beginLogical)), bam.Offset(gz.Remap(p.stopLogical)))
	}
	return builder.Finalize(), nil
}
