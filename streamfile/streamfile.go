// Package streamfile implements line-oriented forward and reverse streaming
// over an append-only document file, plus the two write primitives the
// engine needs on top of it: an in-place random write (for byte-length
// preserving updates) and a buffered end-of-file append.
//
// A line is delimited by '\n'. Positions reported to callers are byte
// offsets into the file as it was when the session opened; callers that
// mutate a line with WriteAt must supply bytes of the exact same length as
// the line they are replacing.
package streamfile

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Line is one complete, newline-delimited record read from a data file.
type Line struct {
	Pos  int64  // byte offset of the first byte of the line, excluding any prior lines
	Len  int    // length of the line's bytes, not including the trailing '\n'
	Text []byte // the line's bytes; valid only until the next batch is produced
}

// Batch is one or more lines delivered to a BatchFunc in a single callback.
type Batch []Line

// BatchFunc receives successive batches of lines. Returning stop=true ends
// the scan early (used by first-match queries); returning an error aborts
// the session and is propagated to Run's caller.
type BatchFunc func(batch Batch) (stop bool, err error)

const defaultBatchSize = 64

func newBufReader(f *os.File) *bufio.Reader {
	return bufio.NewReaderSize(f, 64*1024)
}

// ReadSession streams a file forward from BOF to EOF.
type ReadSession struct {
	f         *os.File
	r         *bufio.Reader
	pos       int64
	batchSize int
	log       *slog.Logger
}

// OpenRead opens path for forward streaming. A missing file is reported as
// an empty stream, not an error, per the engine's "readers survive a
// missing file" contract.
func OpenRead(path string, opt ...Option) (*ReadSession, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ReadSession{log: applyOptions(opt).log}, nil
		}
		return nil, fmt.Errorf("streamfile: open %s: %w", path, err)
	}
	rs := &ReadSession{f: f, r: bufio.NewReaderSize(f, 64*1024), batchSize: defaultBatchSize}
	applyOptionsTo(&rs.log, opt)
	return rs, nil
}

// OpenStream adapts an arbitrary byte source (e.g. an HTTP response body
// supplied by an external read-through fallback) to the same forward
// streaming contract as OpenRead. Positions are offsets from the start of
// the supplied reader, not a file.
func OpenStream(r io.Reader, opt ...Option) *ReadSession {
	rs := &ReadSession{r: bufio.NewReaderSize(r, 64*1024), batchSize: defaultBatchSize}
	applyOptionsTo(&rs.log, opt)
	return rs
}

// Run drives the scan, delivering lines to fn in batches until EOF, an
// error, or fn requesting an early stop.
func (rs *ReadSession) Run(fn BatchFunc) error {
	if rs.r == nil {
		// missing file: zero batches, clean completion
		return nil
	}
	var batch Batch
	for {
		line, n, err := readLine(rs.r)
		if n > 0 {
			batch = append(batch, Line{Pos: rs.pos, Len: len(line), Text: line})
			rs.pos += int64(n)
		}
		atEOF := err == io.EOF
		if !atEOF && err != nil {
			return fmt.Errorf("streamfile: read: %w", err)
		}
		if len(batch) >= rs.batchSize || (atEOF && len(batch) > 0) {
			stop, ferr := fn(batch)
			if ferr != nil {
				return ferr
			}
			batch = nil
			if stop {
				return nil
			}
		}
		if atEOF {
			return nil
		}
	}
}

// Close releases the underlying file handle, if any.
func (rs *ReadSession) Close() error {
	if rs.f == nil {
		return nil
	}
	return rs.f.Close()
}

// readLine reads up to and including the next '\n', stripping it, and
// reports the number of raw bytes consumed (including the newline).
func readLine(r *bufio.Reader) ([]byte, int, error) {
	raw, err := r.ReadBytes('\n')
	if len(raw) == 0 {
		return nil, 0, err
	}
	n := len(raw)
	if raw[n-1] == '\n' {
		raw = raw[:n-1]
	}
	if err == io.EOF && len(raw) > 0 {
		// final line with no trailing newline: still a complete record
		return raw, n, io.EOF
	}
	return raw, n, err
}

// Option configures a session.
type Option func(*sessionOptions)

type sessionOptions struct {
	log *slog.Logger
}

// WithLogger attaches a logger used for debug-level tracing of the scan.
func WithLogger(l *slog.Logger) Option {
	return func(o *sessionOptions) { o.log = l }
}

func applyOptions(opt []Option) sessionOptions {
	o := sessionOptions{log: slog.Default()}
	for _, f := range opt {
		f(&o)
	}
	return o
}

func applyOptionsTo(dst **slog.Logger, opt []Option) {
	o := applyOptions(opt)
	*dst = o.log
}
