package pipeline

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordbio/hts/encoding/sam"
)

// sliceSource yields a fixed record slice, implementing Source.
type sliceSource struct {
	header *sam.Header
	recs   []*sam.Record
	pos    int
}

func (s *sliceSource) Header() *sam.Header { return s.header }
func (s *sliceSource) Read() (*sam.Record, error) {
	if s.pos >= len(s.recs) {
		return nil, io.EOF
	}
	r := s.recs[s.pos]
	s.pos++
	return r, nil
}

// sliceSink collects every written record, implementing Sink.
type sliceSink struct {
	recs   []*sam.Record
	closed bool
}

func (s *sliceSink) Write(rec *sam.Record) error { s.recs = append(s.recs, rec); return nil }
func (s *sliceSink) Close() error                { s.closed = true; return nil }

// filterStage drops records whose name matches drop and tags @HD with a
// SortOrder to exercise Transform's header derivation.
type filterStage struct {
	drop    string
	pending *sam.Record
}

func (f *filterStage) Transform(in *sam.Header) (*sam.Header, error) {
	out := *in
	out.SortOrder = "filtered"
	return &out, nil
}

func (f *filterStage) Consume(rec *sam.Record) error {
	if rec.Name != f.drop {
		f.pending = rec
	}
	return nil
}

func (f *filterStage) Produce() (*sam.Record, error) {
	if f.pending == nil {
		return nil, io.EOF
	}
	rec := f.pending
	f.pending = nil
	return rec, nil
}

func TestPipelinePropagatesHeaderAndFiltersRecords(t *testing.T) {
	h := sam.NewHeader()
	src := &sliceSource{header: h, recs: []*sam.Record{
		{Name: "keep1"},
		{Name: "drop-me"},
		{Name: "keep2"},
	}}
	p, err := New(src, &filterStage{drop: "drop-me"})
	require.NoError(t, err)
	assert.Equal(t, "filtered", p.Header().SortOrder)

	sink := &sliceSink{}
	require.NoError(t, p.Run(sink))
	require.True(t, sink.closed)

	var names []string
	for _, r := range sink.recs {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"keep1", "keep2"}, names)
}

func TestPipelineWithNoStagesPassesThrough(t *testing.T) {
	h := sam.NewHeader()
	src := &sliceSource{header: h, recs: []*sam.Record{{Name: "only"}}}
	p, err := New(src)
	require.NoError(t, err)

	sink := &sliceSink{}
	require.NoError(t, p.Run(sink))
	require.Len(t, sink.recs, 1)
	assert.Equal(t, "only", sink.recs[0].Name)
}
