package elblog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// maxLineSize bounds a single access-log row.
const maxLineSize = 1 << 20

// Options controls which records a Reader yields.
type Options struct {
	// OnlyErrors drops records whose elb_status_code is below 500.
	OnlyErrors bool
}

// Reader yields Records from an access-log file one row at a time.
type Reader struct {
	sc      *bufio.Scanner
	opts    Options
	line    int
	skipped int
}

func NewReader(r io.Reader, opts Options) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{sc: sc, opts: opts}
}

// Next returns the next record that passes the filter, or io.EOF once the
// input is exhausted. A *ParseError means the file is corrupt and should
// not be shipped any further.
func (r *Reader) Next() (*Record, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSuffix(r.sc.Text(), "\r")
		if text == "" {
			continue
		}

		rec, err := newRecord(r.line, splitFields(text))
		if err != nil {
			return nil, err
		}
		if !rec.keep(r.opts.OnlyErrors) {
			r.skipped++
			continue
		}
		return rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("elblog: read line %d: %w", r.line+1, err)
	}
	return nil, io.EOF
}

// Line is the number of the last row read (1-based).
func (r *Reader) Line() int { return r.line }

// Skipped counts rows dropped by the errors-only filter so far.
func (r *Reader) Skipped() int { return r.skipped }

// Parse reads every record in raw.
func Parse(raw []byte, opts Options) ([]*Record, error) {
	rd := NewReader(bytes.NewReader(raw), opts)

	var out []*Record
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// Transform parses raw and renders every surviving record, in file order.
func Transform(raw []byte, opts Options) ([]string, error) {
	recs, err := Parse(raw, opts)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(recs))
	for _, rec := range recs {
		line, err := rec.Render()
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// splitFields tokenizes one row: fields are separated by single spaces, a
// field may be wrapped in double quotes, and a backslash escapes the next
// byte. A quote inside an unquoted field is literal; text after a closing
// quote is appended to the same field.
func splitFields(line string) []string {
	const (
		startField = iota
		inField
		inQuoted
	)

	var (
		fields  []string
		sb      strings.Builder
		state   = startField
		escaped bool
	)

	for i := 0; i < len(line); i++ {
		c := line[i]

		if escaped {
			sb.WriteByte(c)
			escaped = false
			if state == startField {
				state = inField
			}
			continue
		}

		switch {
		case c == '\\':
			escaped = true
		case c == '"' && state == startField:
			state = inQuoted
		case c == '"' && state == inQuoted:
			state = inField
		case c == ' ' && state != inQuoted:
			fields = append(fields, sb.String())
			sb.Reset()
			state = startField
		default:
			sb.WriteByte(c)
			if state == startField {
				state = inField
			}
		}
	}

	// a dangling escape keeps its backslash
	if escaped {
		sb.WriteByte('\\')
	}
	return append(fields, sb.String())
}
