package logx

import (
	"encoding/json"
	"hash/fnv"
)

// stableHash hashes key + a canonical JSON serialization of value. json.Marshal
// sorts map keys, so two calls with structurally identical values hash
// identically across runs of the same build — the guarantee spec.md §4.1
// requires, without pulling in a dedicated hashing library (see DESIGN.md).
func stableHash(key string, value any) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	h.Write([]byte{0})
	serialized, err := json.Marshal(value)
	if err != nil {
		// Unserializable value (e.g. a channel or func): fall back to a
		// type-name hash so log() never panics on odd payloads.
		h.Write([]byte(typeNameFallback(value)))
		return h.Sum64()
	}
	h.Write(serialized)
	return h.Sum64()
}

func typeNameFallback(value any) string {
	if value == nil {
		return "<nil>"
	}
	type stringer interface{ String() string }
	if s, ok := value.(stringer); ok {
		return s.String()
	}
	return "<unserializable>"
}
