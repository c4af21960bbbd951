package config

import (
	"encoding/json"
	"hash/fnv"
)

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// hashRaw hashes an opaque JSON blob (e.g. a target credentials section)
// without decoding it.
func hashRaw(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return hashBytes(b)
}
