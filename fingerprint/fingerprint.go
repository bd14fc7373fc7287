// Package fingerprint computes canonical, order-independent digests of
// structured step inputs for change detection.
//
// The digest is deliberately cheap and non-cryptographic: a 32-bit rolling
// accumulator over the canonical JSON form, rendered in base-36. Collisions
// are possible and cause a false cache hit; do not use these digests for
// security or strong uniqueness.
package fingerprint

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Hash returns a deterministic fingerprint of v, stable across process
// restarts. Object key order never affects the result; array element order
// always does, since sequences are semantically ordered. nil hashes by its
// canonical form ("null"); primitives hash by their canonical JSON text.
//
// Values that cannot be JSON-serialized hash by the serialization error
// text, which is deterministic but collapses all such values per error.
func Hash(v any) string {
	return digest(canonical(v))
}

// canonical reduces v to its canonical JSON text: every object-like
// container serializes with keys sorted lexicographically at every nesting
// level, arrays keep their element order. The round-trip through a generic
// value erases struct field order and map iteration order alike;
// encoding/json emits map keys sorted.
func canonical(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("!" + err.Error())
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // keep number text exact; float re-formatting is not canonical
	if err := dec.Decode(&generic); err != nil {
		return raw
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return raw
	}
	return out
}

// digest folds text into a 32-bit rolling accumulator (h = h*31 + byte,
// wrapping) and renders it in base-36.
func digest(text []byte) string {
	var h uint32
	for _, b := range text {
		h = h*31 + uint32(b)
	}
	return strconv.FormatUint(uint64(h), 36)
}
