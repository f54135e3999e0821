package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	manifestName    = "MANIFEST"
	manifestTmpName = "MANIFEST.tmp"
	manifestVersion = 1
)

// Manifest records which segments are live and which one takes appends.
// It is the commit point of segment rolls and compactions.
type Manifest struct {
	StoreID       string    `yaml:"store_id"`
	Version       int       `yaml:"version"`
	NextSegmentID uint64    `yaml:"next_segment_id"`
	Segments      []uint64  `yaml:"segments"` // sealed, ascending
	Active        uint64    `yaml:"active"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

func newManifest() *Manifest {
	return &Manifest{
		StoreID:       uuid.NewString(),
		Version:       manifestVersion,
		NextSegmentID: 2,
		Segments:      []uint64{},
		Active:        1,
	}
}

func loadManifest(dir string) (*Manifest, bool, error) {
	path := filepath.Join(dir, manifestName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.IOError("read manifest", path, err)
	}

	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, false, fmt.Errorf("%w: manifest %s: %v", types.ErrCorruptRecord, path, err)
	}
	if m.Version != manifestVersion {
		return nil, false, fmt.Errorf("%w: manifest %s: unsupported version %d", types.ErrCorruptRecord, path, m.Version)
	}
	if m.Active == 0 || m.NextSegmentID <= m.Active {
		return nil, false, fmt.Errorf("%w: manifest %s: active %d, next %d", types.ErrCorruptRecord, path, m.Active, m.NextSegmentID)
	}
	slices.Sort(m.Segments)
	return m, true, nil
}

// save writes the manifest to a temp file, fsyncs it, renames it into
// place and fsyncs the directory.
func (m *Manifest) save(dir string) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp := filepath.Join(dir, manifestTmpName)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return types.IOError("create manifest", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return types.IOError("write manifest", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return types.IOError("sync manifest", tmp, err)
	}
	if err := f.Close(); err != nil {
		return types.IOError("close manifest", tmp, err)
	}

	path := filepath.Join(dir, manifestName)
	if err := os.Rename(tmp, path); err != nil {
		return types.IOError("rename manifest", path, err)
	}
	if err := syncDir(dir); err != nil {
		return types.IOError("sync dir", dir, err)
	}
	return nil
}

func (m *Manifest) clone() *Manifest {
	c := *m
	c.Segments = slices.Clone(m.Segments)
	return &c
}

// live returns every segment id the manifest references.
func (m *Manifest) live() map[uint64]bool {
	ids := make(map[uint64]bool, len(m.Segments)+1)
	for _, id := range m.Segments {
		ids[id] = true
	}
	ids[m.Active] = true
	return ids
}

// ordered returns sealed ids followed by the active id.
func (m *Manifest) ordered() []uint64 {
	return append(slices.Clone(m.Segments), m.Active)
}
