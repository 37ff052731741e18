// htssort sorts one or more BAM/SAM inputs into one coordinate- or
// name-sorted BAM output, driving the engine's C8 multi-reader and C9
// external-memory sort (spec §6 "CLI surface").
//
// Usage: htssort --in a.bam --in b.sam --out merged.bam
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"v.io/x/lib/vlog"

	"github.com/concordbio/hts/multireader"
	"github.com/concordbio/hts/pool"
	"github.com/concordbio/hts/sortshard"
)

// stringSlice implements flag.Value for a repeatable --in PATH flag
// (spec §6 "--in PATH… (repeatable; stdin permitted)").
type stringSlice []string

func (s *stringSlice) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

var (
	inFlag           stringSlice
	outFlag          = flag.String("out", "", "output path (stdout permitted)")
	byFlag           = flag.String("by", "position", "sort order: position or name")
	compressionFlag  = flag.Int("compression", 6, "output BGZF compression level, 0-9")
	maxRecordsFlag   = flag.Int("max-records", 500000, "in-memory batch size before a sorted run is spilled")
	tempCompressFlag = flag.Int("temp-compress", 1, "1 to snappy-compress temp shard files, 0 to disable")
	threadsFlag      = flag.Int("threads", 0, "worker pool size (0 means detected CPU count)")
	noThreadsFlag    = flag.Bool("no-threads", false, "disable parallelism; run single-threaded")
	tmpdirFlag       = flag.String("tmpdir", "", "directory for temp shard files")
	indexFlag        = flag.Bool("index", false, "write a .bai sidecar index alongside --out (spec §4.10, §6)")
)

func main() {
	flag.Var(&inFlag, "in", "input path, repeatable (stdin permitted)")
	flag.Parse()

	if len(inFlag) == 0 || *outFlag == "" {
		flag.Usage()
		os.Exit(1)
	}

	order := sortshard.OrderPosition
	switch *byFlag {
	case "position":
	case "name":
		order = sortshard.OrderName
	default:
		vlog.Fatalf("htssort: --by must be \"position\" or \"name\", got %q", *byFlag)
	}

	nWorkers := *threadsFlag
	if *noThreadsFlag {
		nWorkers = 1
	} else if nWorkers <= 0 {
		nWorkers = runtime.GOMAXPROCS(0)
	}
	p := pool.NewPool(nWorkers, 128)

	if err := run(inFlag, *outFlag, order, p, nWorkers); err != nil {
		vlog.Fatalf("htssort: %v", err)
	}
}

func run(inPaths []string, outPath string, order sortshard.Order, p *pool.Pool, nWorkers int) error {
	src, err := multireader.Open(inPaths, p)
	if err != nil {
		return fmt.Errorf("open inputs: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(*tmpdirFlag, "htssort-merged")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	opts := sortshard.SortOptions{
		SortBatchSize:      *maxRecordsFlag,
		Parallelism:        nWorkers,
		Order:              order,
		NoCompressTmpFiles: *tempCompressFlag == 0,
		TmpDir:             *tmpdirFlag,
	}
	sorter := sortshard.NewSorter(tmpPath, src.Header(), opts)
	nRecs := 0
	for {
		rec, err := src.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read record %d: %w", nRecs, err)
		}
		sorter.AddRecord(rec)
		nRecs++
	}
	stats, err := sorter.Close()
	if err != nil {
		return fmt.Errorf("sort: %w", err)
	}
	vlog.Infof("htssort: sorted %d records in %d runs", stats.RecordsWritten, stats.Runs)

	if outPath == "-" || outPath == "stdout" {
		if *indexFlag {
			vlog.Infof("htssort: --index has no sidecar path to write to when --out is stdout; skipping")
		}
		if _, err := sortshard.MergeToWriter([]string{tmpPath}, os.Stdout, order, *compressionFlag, false); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
		return nil
	}
	if err := sortshard.MergeToBAM([]string{tmpPath}, outPath, order, *compressionFlag, *indexFlag); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return nil
}
