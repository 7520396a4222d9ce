package streamfile

import (
	"fmt"
	"os"
)

// appendFlushThreshold is the default number of buffered bytes after which
// a pending append is flushed to disk without waiting for session close,
// mirroring the teacher's segment-rollover threshold but applied to a
// buffered tail write instead of a new segment file.
const appendFlushThreshold = 256 * 1024

// UpdateSession streams a file forward like ReadSession while additionally
// allowing the caller to overwrite bytes in place at their original offset
// and to append new lines to the tail. Both write paths are unbuffered with
// respect to each other: an in-place write lands immediately, while
// appends are coalesced and flushed at threshold or on Close.
type UpdateSession struct {
	*ReadSession
	f         *os.File
	appendAt  int64 // next unused end-of-file offset; only grows
	appendBuf []byte
	fsync     bool
}

// OpenUpdate opens path for a combined forward-read/random-write/append
// pass. The file is created if it doesn't already exist, so that the first
// append to a brand new database file can go through the same code path
// as any other update.
//
// Appends are written with pwrite-style random writes at a tracked
// end-of-file offset rather than by seeking the shared file descriptor, so
// that flushing an append mid-scan can never disturb the forward reader's
// position.
func OpenUpdate(path string, opt ...Option) (*UpdateSession, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("streamfile: open %s for update: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("streamfile: stat %s: %w", path, err)
	}
	rs := &ReadSession{f: f, r: nil, batchSize: defaultBatchSize}
	applyOptionsTo(&rs.log, opt)
	rs.reopenReader()
	return &UpdateSession{ReadSession: rs, f: f, appendAt: st.Size(), fsync: true}, nil
}

// reopenReader (re)initializes the buffered reader over the session's file
// starting at its current OS-level read position (the start, for a freshly
// opened update session).
func (rs *ReadSession) reopenReader() {
	rs.r = newBufReader(rs.f)
	rs.pos = 0
}

// WriteAt performs a random in-place write. The caller guarantees pos and
// len(data) describe a byte range that lies entirely within a single
// existing line and was already read by this session's forward pass.
func (us *UpdateSession) WriteAt(data []byte, pos int64) error {
	if _, err := us.f.WriteAt(data, pos); err != nil {
		return fmt.Errorf("streamfile: write at %d: %w", pos, err)
	}
	return nil
}

// NextAppendPos reports the file offset the next WriteAppend call will
// land at, so callers can record where a tombstoned row's replacement
// ended up before the bytes are actually flushed to disk.
func (us *UpdateSession) NextAppendPos() int64 {
	return us.appendAt + int64(len(us.appendBuf))
}

// WriteAppend buffers data (expected to already end in '\n') for appending
// at end-of-file. Buffered data is flushed automatically once it crosses
// appendFlushThreshold, and always flushed by Close.
func (us *UpdateSession) WriteAppend(data []byte) error {
	us.appendBuf = append(us.appendBuf, data...)
	if len(us.appendBuf) >= appendFlushThreshold {
		return us.Flush()
	}
	return nil
}

// Flush writes any buffered append bytes to end-of-file and fsyncs the
// file, making both in-place writes and appends durable so far.
func (us *UpdateSession) Flush() error {
	if len(us.appendBuf) > 0 {
		if _, err := us.f.WriteAt(us.appendBuf, us.appendAt); err != nil {
			return fmt.Errorf("streamfile: append at %d: %w", us.appendAt, err)
		}
		us.appendAt += int64(len(us.appendBuf))
		us.appendBuf = us.appendBuf[:0]
	}
	if us.fsync {
		if err := Fdatasync(us.f); err != nil {
			return fmt.Errorf("streamfile: fdatasync: %w", err)
		}
	}
	return nil
}

// Close flushes any pending appends and releases the file handle. Errors
// already performed writes (in-place or appended) are left on disk exactly
// as written; Close does not roll anything back.
func (us *UpdateSession) Close() error {
	ferr := us.Flush()
	cerr := us.f.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}
