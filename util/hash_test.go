package util_test

import (
	"testing"

	"github.com/downfa11-org/kvs/util"
)

func TestHashDeterministic(t *testing.T) {
	key := "my-key"
	hash1 := util.Hash(key)
	hash2 := util.Hash(key)

	if hash1 != hash2 {
		t.Errorf("Hash should be deterministic, got %v and %v", hash1, hash2)
	}
}

func TestHashDifferentKeys(t *testing.T) {
	key1 := "key-one"
	key2 := "key-two"

	if util.Hash(key1) == util.Hash(key2) {
		t.Errorf("Hash should produce different results for different keys")
	}
}

func TestShardIndex(t *testing.T) {
	shards := 32
	keys := []string{"", "a", "b", "c", "d", "e", "a much longer key with spaces"}

	for _, key := range keys {
		index := util.Hash(key) % shards
		if index < 0 || index >= shards {
			t.Errorf("Shard index out of bounds for %q: %v", key, index)
		}
	}
}
