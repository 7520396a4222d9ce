package streamfile

import "os"

func fdatasync(f *os.File) error {
	return f.Sync()
}
