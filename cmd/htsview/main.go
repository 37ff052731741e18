// htsview is a read-only front end over one or more BAM/SAM inputs: it
// opens them through the multi-reader, prints records as SAM text, and
// optionally filters by reference name (spec §1's "linear filter on an
// already-opened stream" -- no BAI seeking).
//
// Usage: htsview --in a.bam --in b.bam --ref chr1
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"v.io/x/lib/vlog"

	"github.com/concordbio/hts/encoding/samtext"
	"github.com/concordbio/hts/multireader"
)

type stringSlice []string

func (s *stringSlice) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

var (
	inFlag     stringSlice
	refFlag    = flag.String("ref", "", "only print records aligned to this reference name")
	headerFlag = flag.Bool("header", true, "print the @-line text header before records")
)

func main() {
	flag.Var(&inFlag, "in", "input path, repeatable (stdin permitted)")
	flag.Parse()
	if len(inFlag) == 0 {
		flag.Usage()
		os.Exit(1)
	}
	if err := run(inFlag, *refFlag, os.Stdout); err != nil {
		vlog.Fatalf("htsview: %v", err)
	}
}

func run(inPaths []string, ref string, w io.Writer) error {
	src, err := multireader.Open(inPaths, nil)
	if err != nil {
		return fmt.Errorf("open inputs: %w", err)
	}
	defer src.Close()

	bw := bufio.NewWriter(w)
	defer bw.Flush()

	if *headerFlag {
		for _, line := range src.Header().Lines {
			if _, err := fmt.Fprintln(bw, line); err != nil {
				return err
			}
		}
	}

	for {
		rec, err := src.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		if ref != "" && (rec.Ref == nil || rec.Ref.Name() != ref) {
			continue
		}
		if _, err := fmt.Fprintln(bw, samtext.FormatLine(rec)); err != nil {
			return err
		}
	}
}
