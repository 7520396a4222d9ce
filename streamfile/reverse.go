package streamfile

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

const reverseChunkSize = 64 * 1024

// ReverseReadSession streams a file from EOF to BOF, used for "latest
// first" queries and for symmetry testing against ReadSession.
//
// It maintains a rolling buffer of the tail of the file that hasn't been
// handed to the caller yet, growing it backwards in fixed-size chunks as
// lines are consumed, rather than loading the whole file into memory.
type ReverseReadSession struct {
	f         *os.File
	size      int64
	readTo    int64 // file offset; bytes below this have been loaded into buf
	buf       []byte
	batchSize int
	log       *slog.Logger

	// pendingFinal is true when the file is non-empty and there's still
	// a BOF-side line owed to the caller once buf and the file both run
	// dry. Every line streamfile writes ends in '\n' (WriteAppend), so
	// the byte range after the last '\n' is normally empty; without this
	// flag popLastLine would hand that empty range back as a phantom
	// extra line, breaking symmetry with the forward scan.
	pendingFinal bool
}

// OpenReadReverse opens path for reverse streaming. As with OpenRead, a
// missing file yields a zero-batch, cleanly-completing stream.
func OpenReadReverse(path string, opt ...Option) (*ReverseReadSession, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ReverseReadSession{log: applyOptions(opt).log}, nil
		}
		return nil, fmt.Errorf("streamfile: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("streamfile: stat %s: %w", path, err)
	}
	size := st.Size()
	effectiveSize := size
	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil && err != io.EOF {
			f.Close()
			return nil, fmt.Errorf("streamfile: stat %s: %w", path, err)
		} else if last[0] == '\n' {
			effectiveSize = size - 1
		}
	}
	rs := &ReverseReadSession{
		f:            f,
		size:         effectiveSize,
		readTo:       effectiveSize,
		batchSize:    defaultBatchSize,
		pendingFinal: size > 0,
	}
	applyOptionsTo(&rs.log, opt)
	return rs, nil
}

// Run drives the reverse scan. Lines within a batch are delivered in
// reverse file order (last line first).
func (rs *ReverseReadSession) Run(fn BatchFunc) error {
	if rs.f == nil {
		return nil
	}
	var batch Batch
	for {
		line, pos, ok, err := rs.popLastLine()
		if err != nil {
			return fmt.Errorf("streamfile: reverse read: %w", err)
		}
		if ok {
			batch = append(batch, Line{Pos: pos, Len: len(line), Text: line})
		}
		if len(batch) >= rs.batchSize || (!ok && len(batch) > 0) {
			stop, ferr := fn(batch)
			if ferr != nil {
				return ferr
			}
			batch = nil
			if stop {
				return nil
			}
		}
		if !ok {
			return nil
		}
	}
}

// Close releases the underlying file handle, if any.
func (rs *ReverseReadSession) Close() error {
	if rs.f == nil {
		return nil
	}
	return rs.f.Close()
}

// popLastLine removes and returns the last complete line still held in
// the rolling buffer, growing the buffer backwards from the file first if
// it doesn't contain a full line.
func (rs *ReverseReadSession) popLastLine() ([]byte, int64, bool, error) {
	for {
		if i := lastNewline(rs.buf); i >= 0 {
			line := rs.buf[i+1:]
			pos := rs.readTo + int64(i) + 1
			out := append([]byte(nil), line...)
			rs.buf = rs.buf[:i]
			return out, pos, true, nil
		}
		if rs.readTo == 0 {
			if len(rs.buf) == 0 {
				if rs.pendingFinal {
					rs.pendingFinal = false
					return nil, 0, true, nil
				}
				return nil, 0, false, nil
			}
			out := append([]byte(nil), rs.buf...)
			rs.buf = nil
			rs.pendingFinal = false
			return out, 0, true, nil
		}
		if err := rs.growBackward(); err != nil {
			return nil, 0, false, err
		}
	}
}

func (rs *ReverseReadSession) growBackward() error {
	chunk := int64(reverseChunkSize)
	if chunk > rs.readTo {
		chunk = rs.readTo
	}
	start := rs.readTo - chunk
	fresh := make([]byte, chunk)
	if _, err := rs.f.ReadAt(fresh, start); err != nil && err != io.EOF {
		return err
	}
	rs.buf = append(fresh, rs.buf...)
	rs.readTo = start
	return nil
}

func lastNewline(buf []byte) int {
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] == '\n' {
			return i
		}
	}
	return -1
}
