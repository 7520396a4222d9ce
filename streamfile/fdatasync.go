package streamfile

import "os"

// Fdatasync triggers the fastest fsync-like operation available on the
// current platform that ensures durability of the bytes already written to
// f. It is used after an append batch and after a random in-place write so
// that a completed operation is not silently lost on a crash.
//
// WARNING: ERRORS RETURNED BY THIS FUNCTION ARE NOT RECOVERABLE. Many
// operating systems mark modified pages as clean even when the fsync call
// failed, so there is no reliable way to retry. Callers should treat a
// failure here as grounds to abort the current write session.
func Fdatasync(f *os.File) error {
	return fdatasync(f)
}
