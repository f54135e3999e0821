package disk

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/downfa11-org/kvs/util"
)

// markAsDeleted renames a segment out of the live namespace before
// unlinking it, so a crash in between leaves only a *.deleted file.
func markAsDeleted(logPath string) error {
	deletedPath := logPath + deletedSuffix
	if err := os.Rename(logPath, deletedPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.Remove(deletedPath)
}

// sweep removes files the manifest no longer references: segments left
// behind by an interrupted compaction or roll, half-deleted segments and
// a stale manifest temp file.
func sweep(dir string, m *Manifest) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	live := m.live()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)

		switch {
		case strings.HasSuffix(name, deletedSuffix), name == manifestTmpName:
			util.Debug("Sweep: removing %s", path)
			if err := os.Remove(path); err != nil {
				util.Warn("Sweep: failed to remove %s: %v", path, err)
			}
		default:
			id, ok := parseSegmentName(name)
			if !ok || live[id] {
				continue
			}
			util.Info("Sweep: removing orphan segment %s", path)
			if err := markAsDeleted(path); err != nil {
				util.Warn("Sweep: failed to remove orphan %s: %v", path, err)
			}
		}
	}
	return nil
}

// discoverSegments lists segment ids present in dir, ascending.
func discoverSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := parseSegmentName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
