package types

// Store is the caller-facing contract of the storage engine.
type Store interface {
	Set(key, value string) error

	// Get reports found=false for a missing key; that is not an error.
	Get(key string) (value string, found bool, err error)

	// Remove returns ErrKeyNotFound when the key is absent.
	Remove(key string) error

	Compact() error
	Stats() Stats
	Close() error
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Keys        int64
	Segments    int
	LogBytes    int64
	LiveBytes   int64
	Compactions int64
	Writes      int64
	Reads       int64
}

// StaleRatio is the ratio of on-disk log bytes to bytes referenced by the index.
func (s Stats) StaleRatio() float64 {
	if s.LiveBytes <= 0 {
		if s.LogBytes > 0 {
			return float64(s.LogBytes)
		}
		return 1.0
	}
	return float64(s.LogBytes) / float64(s.LiveBytes)
}
