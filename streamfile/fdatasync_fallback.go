//go:build windows || (unix && !plan9 && !linux && !openbsd)

package streamfile

import "os"

func fdatasync(f *os.File) error {
	return f.Sync()
}
