package sam

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Reference is one entry of the sequence dictionary: a name, length, and
// its 0-based index, which is what Record.RefID/MateRefID point at
// (spec §3).
type Reference struct {
	name  string
	id    int32
	lRef  int32
	extra map[string]string // other @SQ tags (AS, M5, SP, UR, ...), preserved verbatim
}

// NewReference creates a detached reference; Header.AddReference assigns
// it an index.
func NewReference(name string, length int) *Reference {
	return &Reference{name: name, lRef: int32(length), id: -1}
}

func (r *Reference) Name() string { return r.name }
func (r *Reference) Len() int     { return int(r.lRef) }
func (r *Reference) ID() int      { return int(r.id) }

// Header holds the parsed text header lines plus the sequence dictionary
// derived from @SQ lines (spec §3, §4.7).
type Header struct {
	// Lines holds every header line verbatim, in file order, including
	// @SQ/@RG/@PG/@CO. WriteTo regenerates @HD/@SQ/@PG from the structured
	// fields below and copies the rest through unchanged.
	Lines      []string
	refs       []*Reference
	nameToID   map[string]int32
	Programs   []ProgramRecord
	SortOrder  string // "unsorted", "queryname", "coordinate", or ""
	GroupOrder string
}

// ProgramRecord is one @PG line.
type ProgramRecord struct {
	ID, Name, Version, CommandLine, PreviousID string
}

// NewHeader creates an empty header.
func NewHeader() *Header {
	return &Header{nameToID: make(map[string]int32)}
}

// References returns the sequence dictionary in index order.
func (h *Header) References() []*Reference { return h.refs }

// AddReference appends r to the dictionary and assigns its index. It
// returns an error if the name is already present.
func (h *Header) AddReference(r *Reference) error {
	if h.nameToID == nil {
		h.nameToID = make(map[string]int32)
	}
	if _, ok := h.nameToID[r.name]; ok {
		return fmt.Errorf("sam: duplicate reference name %q", r.name)
	}
	r.id = int32(len(h.refs))
	h.nameToID[r.name] = r.id
	h.refs = append(h.refs, r)
	return nil
}

// IndexOf returns the 0-based index of name, or -1 if absent (spec §4.7
// "indexOf").
func (h *Header) IndexOf(name string) int {
	if id, ok := h.nameToID[name]; ok {
		return int(id)
	}
	return -1
}

// Contains reports whether name is present in the dictionary.
func (h *Header) Contains(name string) bool {
	_, ok := h.nameToID[name]
	return ok
}

// Reference returns the reference at the given index, or nil if out of
// range.
func (h *Header) Reference(id int) *Reference {
	if id < 0 || id >= len(h.refs) {
		return nil
	}
	return h.refs[id]
}

// ParseHeader parses the SAM text header (every line beginning with '@')
// from r, stopping at the first non-header line (which is pushed back via
// br.UnreadByte is not possible across lines, so callers must use a
// bufio.Reader and check the returned firstRecordLine).
func ParseHeader(br *bufio.Reader) (h *Header, firstRecordLine string, err error) {
	h = NewHeader()
	for {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				return h, "", nil
			}
			return nil, "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(line, "@") {
			return h, line, nil
		}
		if parseErr := h.parseLine(line); parseErr != nil {
			return nil, "", parseErr
		}
	}
}

// ParseText parses raw BAM header text (the l_text/text block of a binary
// BAM file) line by line, the same way ParseHeader does for a streaming
// text reader (spec §4.7). Used by the binary BAM header codec, whose
// text block has no trailing non-header line to stop at.
func (h *Header) ParseText(text []byte) error {
	for _, line := range strings.Split(strings.TrimRight(string(text), "\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if err := h.parseLine(line); err != nil {
			return err
		}
	}
	return nil
}

// ResetReferences discards the sequence dictionary built from @SQ text
// lines so it can be rebuilt from an authoritative binary source (spec
// §4.7, used when a BAM file's binary n_ref/l_name/l_ref fields must take
// precedence over its embedded text).
func (h *Header) ResetReferences() {
	h.refs = nil
	h.nameToID = make(map[string]int32)
}

func (h *Header) parseLine(line string) error {
	h.Lines = append(h.Lines, line)
	fields := strings.Split(line, "\t")
	switch fields[0] {
	case "@SQ":
		var name string
		var length int
		extra := map[string]string{}
		for _, f := range fields[1:] {
			kv := strings.SplitN(f, ":", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "SN":
				name = kv[1]
			case "LN":
				n, err := strconv.Atoi(kv[1])
				if err != nil {
					return fmt.Errorf("sam: bad @SQ LN: %v", err)
				}
				length = n
			default:
				extra[kv[0]] = kv[1]
			}
		}
		ref := NewReference(name, length)
		ref.extra = extra
		if err := h.AddReference(ref); err != nil {
			return err
		}
	case "@HD":
		for _, f := range fields[1:] {
			kv := strings.SplitN(f, ":", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "SO":
				h.SortOrder = kv[1]
			case "GO":
				h.GroupOrder = kv[1]
			}
		}
	case "@PG":
		var pg ProgramRecord
		for _, f := range fields[1:] {
			kv := strings.SplitN(f, ":", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "ID":
				pg.ID = kv[1]
			case "PN":
				pg.Name = kv[1]
			case "VN":
				pg.Version = kv[1]
			case "CL":
				pg.CommandLine = kv[1]
			case "PP":
				pg.PreviousID = kv[1]
			}
		}
		h.Programs = append(h.Programs, pg)
	}
	return nil
}

// WriteTo serializes the text header, appending a program record
// identifying tool/version/commandLine (spec §4.7). If prunePrior is set,
// prior @PG lines with the same Name are dropped before appending the new
// one.
func (h *Header) WriteTo(w io.Writer, prog ProgramRecord, prunePrior bool) error {
	bw := bufio.NewWriter(w)
	if h.SortOrder != "" || h.GroupOrder != "" {
		line := "@HD\tVN:1.6"
		if h.SortOrder != "" {
			line += "\tSO:" + h.SortOrder
		}
		if h.GroupOrder != "" {
			line += "\tGO:" + h.GroupOrder
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	for _, ref := range h.refs {
		line := fmt.Sprintf("@SQ\tSN:%s\tLN:%d", ref.name, ref.lRef)
		for k, v := range ref.extra {
			line += "\t" + k + ":" + v
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	for _, line := range h.Lines {
		if strings.HasPrefix(line, "@HD") || strings.HasPrefix(line, "@SQ") || strings.HasPrefix(line, "@PG") {
			continue
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	for _, pg := range h.Programs {
		if prunePrior && pg.Name == prog.Name {
			continue
		}
		if err := writeProgram(bw, pg); err != nil {
			return err
		}
	}
	if prog.ID != "" {
		if err := writeProgram(bw, prog); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeProgram(bw *bufio.Writer, pg ProgramRecord) error {
	line := "@PG\tID:" + pg.ID
	if pg.Name != "" {
		line += "\tPN:" + pg.Name
	}
	if pg.PreviousID != "" {
		line += "\tPP:" + pg.PreviousID
	}
	if pg.Version != "" {
		line += "\tVN:" + pg.Version
	}
	if pg.CommandLine != "" {
		line += "\tCL:" + pg.CommandLine
	}
	_, err := bw.WriteString(line + "\n")
	return err
}

// MergeHeaders merges several headers into one combined sequence
// dictionary, matching references by name. It returns the merged header
// and, for each input, a translation table from its old reference IDs to
// IDs in the merged dictionary (spec §4.8's requirement that multi-reader
// sources share one dictionary).
func MergeHeaders(hs []*Header) (*Header, [][]*Reference, error) {
	if len(hs) == 0 {
		return nil, nil, fmt.Errorf("sam: no headers to merge")
	}
	merged := NewHeader()
	translations := make([][]*Reference, len(hs))
	for i, h := range hs {
		translations[i] = make([]*Reference, len(h.refs))
		for j, ref := range h.refs {
			id := merged.IndexOf(ref.name)
			if id < 0 {
				nr := NewReference(ref.name, ref.Len())
				nr.extra = ref.extra
				if err := merged.AddReference(nr); err != nil {
					return nil, nil, err
				}
				id = nr.ID()
			} else if merged.refs[id].Len() != ref.Len() {
				return nil, nil, fmt.Errorf("sam: reference %q has mismatched lengths across headers", ref.name)
			}
			translations[i][j] = merged.refs[id]
		}
	}
	merged.SortOrder = hs[0].SortOrder
	merged.GroupOrder = hs[0].GroupOrder
	merged.Programs = hs[0].Programs
	return merged, translations, nil
}
