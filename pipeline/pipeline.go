// Package pipeline implements the abstract pipeline stage base (spec
// §4.11): a node with consume/produce semantics whose output header is
// derived from its input header, composable into a single-threaded DAG
// that may delegate individual stages to a shared worker pool. Grounded
// on the teacher's encoding/bam/shard.go / adjacent_sharded_bam_reader.go
// staged-handoff style (a background goroutine producing into a channel,
// consumed by the next stage), generalized here into the explicit
// consume/produce/header-propagation contract spec §4.11 describes.
package pipeline

import (
	"fmt"
	"io"

	"github.com/concordbio/hts/encoding/sam"
)

// Stage is one node of a pipeline DAG. Transform derives the stage's
// output header from its input header; it is called once, before any
// record flows (spec §4.11 "propagated eagerly before the first
// record"). Consume/Produce move one record at a time through the stage.
type Stage interface {
	// Transform returns the header this stage's output will carry, given
	// the header of whatever feeds it.
	Transform(in *sam.Header) (*sam.Header, error)
	// Consume accepts one record from upstream. It may buffer, transform,
	// or drop it.
	Consume(rec *sam.Record) error
	// Produce returns the next output record, or io.EOF once the stage has
	// no more to emit for the input consumed so far.
	Produce() (*sam.Record, error)
}

// Source is the DAG's entry point: something that already has records
// available without a Consume call (e.g. multireader.Reader,
// encoding/bam.Reader, encoding/samtext.Reader).
type Source interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

// Sink is the DAG's exit point.
type Sink interface {
	Write(rec *sam.Record) error
	Close() error
}

// Pipeline runs one Source through a chain of Stages into a Sink, all on
// the calling goroutine unless an individual Stage delegates internally
// to a pool.Pool (spec §4.11 "run in a single thread unless they
// delegate internally to the pool").
type Pipeline struct {
	source *headerSource
	stages []Stage
	header *sam.Header
}

// headerSource adapts a Source into the pull protocol stages consume:
// Consume is a no-op (a Source already has records ready), Produce reads
// straight through.
type headerSource struct {
	Source
}

func (h *headerSource) Transform(_ *sam.Header) (*sam.Header, error) { return h.Header(), nil }
func (h *headerSource) Consume(*sam.Record) error                    { return nil }
func (h *headerSource) Produce() (*sam.Record, error)                { return h.Read() }

// New builds a Pipeline from src through stages in order, propagating
// the header through each stage's Transform before any record flows
// (spec §4.11).
func New(src Source, stages ...Stage) (*Pipeline, error) {
	hs := &headerSource{Source: src}
	header := hs.Header()
	for i, st := range stages {
		h, err := st.Transform(header)
		if err != nil {
			return nil, fmt.Errorf("pipeline: stage %d: %w", i, err)
		}
		header = h
	}
	return &Pipeline{source: hs, stages: stages, header: header}, nil
}

// Header returns the pipeline's final output header, after every stage's
// Transform has run.
func (p *Pipeline) Header() *sam.Header { return p.header }

// Run drives records from the source through every stage into sink,
// until the source and every stage report io.EOF, closing sink
// afterward.
func (p *Pipeline) Run(sink Sink) error {
	defer sink.Close()
	chain := append([]Stage{p.source}, p.stages...)
	for {
		rec, err := pullThrough(chain)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := sink.Write(rec); err != nil {
			return err
		}
	}
}

// pullThrough drives one record from the last stage in chain, pulling
// upstream and Consume-ing into each stage as needed until the last
// stage's Produce yields a record or every stage is exhausted.
func pullThrough(chain []Stage) (*sam.Record, error) {
	last := len(chain) - 1
	for {
		rec, err := chain[last].Produce()
		if err != io.EOF {
			return rec, err
		}
		if last == 0 {
			return nil, io.EOF
		}
		upstream, err := pullThrough(chain[:last])
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		if err := chain[last].Consume(upstream); err != nil {
			return nil, err
		}
	}
}
