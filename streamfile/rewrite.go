package streamfile

import (
	"bufio"
	"fmt"
	"io"

	natomic "github.com/natefinch/atomic"
)

// TransformFunc receives one line of the source file and returns the bytes
// to write for it (without a trailing newline), or ok=false to drop the
// line entirely. It is used both by "clean", which drops tombstoned lines
// unchanged, and by a schema table's "extend", which re-encodes every line
// through a new codec.
type TransformFunc func(line Line) (out []byte, ok bool)

// Rewrite streams path forward, passes every line through fn, and
// atomically replaces path with the surviving lines. It is the only code
// path that physically removes tombstoned bytes from a data file.
//
// The filtered content is piped straight into atomic.WriteFile rather than
// staged through a second temp file of our own: we stream, atomic.WriteFile
// stages and renames.
func Rewrite(path string, fn TransformFunc) error {
	rs, err := OpenRead(path)
	if err != nil {
		return err
	}
	defer rs.Close()

	pr, pw := io.Pipe()

	scanDone := make(chan error, 1)
	go func() {
		w := bufio.NewWriter(pw)
		runErr := rs.Run(func(batch Batch) (bool, error) {
			for _, line := range batch {
				out, ok := fn(line)
				if !ok {
					continue
				}
				if _, err := w.Write(out); err != nil {
					return true, err
				}
				if err := w.WriteByte('\n'); err != nil {
					return true, err
				}
			}
			return false, nil
		})
		if runErr == nil {
			runErr = w.Flush()
		}
		pw.CloseWithError(runErr)
		scanDone <- runErr
	}()

	writeErr := natomic.WriteFile(path, pr)
	scanErr := <-scanDone
	if scanErr != nil {
		return fmt.Errorf("streamfile: rewrite scan of %s: %w", path, scanErr)
	}
	if writeErr != nil {
		return fmt.Errorf("streamfile: atomic rewrite of %s: %w", path, writeErr)
	}
	return nil
}
