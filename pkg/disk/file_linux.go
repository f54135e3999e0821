//go:build linux
// +build linux

package disk

import (
	"os"

	"github.com/downfa11-org/kvs/util"
	"golang.org/x/sys/unix"
)

func openSegmentFile(path string, flags int) (*os.File, error) {
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}

	// Linux: sequential access hint
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL); err != nil {
		util.Debug("fadvise %s: %v", path, err)
	}
	return f, nil
}

// syncDir makes renames and unlinks inside dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
