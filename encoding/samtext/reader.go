package samtext

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/concordbio/hts/encoding/sam"
	"github.com/concordbio/hts/pool"
)

// LineQueueCap bounds the number of lines buffered between the line-
// reading goroutine and the parse worker pool (spec §4.6, grounded on
// sam_reader.cpp's MAX_LINE_QUEUE_SIZE=6000).
const LineQueueCap = 6000

// lineJob carries one text line from the reader goroutine to a parse
// worker and back; Read() waits on done to recover the parsed record in
// the original line order, mirroring the bgzf Writer's ordering-latch
// discipline applied to a read path instead of a write path.
type lineJob struct {
	text string
	rec  *sam.Record
	err  error
	done chan struct{}
}

// Reader parses a SAM text stream into sam.Record values. A single
// goroutine reads lines and submits each to a pool.Pool for parsing;
// Read() drains them back out in the order they were read (spec §4.6:
// "one line-reader goroutine plus a pool of line-parser workers").
type Reader struct {
	header *sam.Header

	p     *pool.Pool
	queue *pool.BoundedQueue // of *lineJob, in read order

	readerDone chan struct{}
	fatalM     sync.Mutex
	fatal      error
}

// NewReader parses the text header from r and starts streaming the
// remaining lines through the parse pool. p may be nil (pool.Singleton).
func NewReader(r io.Reader, p *pool.Pool) (*Reader, error) {
	br := bufio.NewReader(r)
	h, firstLine, err := sam.ParseHeader(br)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = pool.Singleton()
	}
	rd := &Reader{
		header:     h,
		p:          p,
		queue:      pool.NewBoundedQueue(LineQueueCap),
		readerDone: make(chan struct{}),
	}
	go rd.readLoop(br, firstLine)
	return rd, nil
}

// Header returns the parsed text header.
func (rd *Reader) Header() *sam.Header { return rd.header }

func (rd *Reader) setFatal(err error) {
	rd.fatalM.Lock()
	if rd.fatal == nil {
		rd.fatal = err
	}
	rd.fatalM.Unlock()
}

func (rd *Reader) readLoop(br *bufio.Reader, firstLine string) {
	defer close(rd.readerDone)
	defer rd.queue.Close()

	pending, havePending := firstLine, firstLine != ""
	for {
		var line string
		if havePending {
			line, havePending = pending, false
		} else {
			l, err := br.ReadString('\n')
			if l == "" {
				if err == io.EOF {
					return
				}
				if err != nil {
					rd.setFatal(err)
					return
				}
			}
			line = strings.TrimRight(l, "\r\n")
		}

		if len(line) < MinLineLength {
			continue
		}
		job := &lineJob{text: line, done: make(chan struct{})}
		rd.queue.Push(job)
		rd.p.Submit(func() { rd.parse(job) })
	}
}

func (rd *Reader) parse(job *lineJob) {
	defer close(job.done)
	job.rec, job.err = ParseLine(job.text, rd.header)
}

// Read returns the next parsed record in input order, or io.EOF once the
// stream is exhausted.
func (rd *Reader) Read() (*sam.Record, error) {
	item, ok := rd.queue.Pop()
	if !ok {
		rd.fatalM.Lock()
		err := rd.fatal
		rd.fatalM.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	job := item.(*lineJob)
	<-job.done
	if job.err != nil {
		return nil, job.err
	}
	return job.rec, nil
}

// Close waits for the reader goroutine to finish and returns any fatal
// error encountered.
func (rd *Reader) Close() error {
	<-rd.readerDone
	rd.fatalM.Lock()
	defer rd.fatalM.Unlock()
	return rd.fatal
}
