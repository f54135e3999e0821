//go:build !linux
// +build !linux

package disk

import "os"

func openSegmentFile(path string, flags int) (*os.File, error) {
	return os.OpenFile(path, flags, 0o644)
}

func syncDir(dir string) error {
	return nil
}
