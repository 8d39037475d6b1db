package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/graphrag-kernel/internal/jsonx"
)

// Key derives a deterministic cache key from a prefix and a set of
// positional and keyword arguments. Arguments are canonicalized into a
// JSON object with sorted keys before hashing, so keys are stable under
// whitespace, argument-order, and special-character variation.
func Key(prefix string, args []interface{}, kwargs map[string]interface{}) string {
	payload := make(map[string]interface{}, len(kwargs)+1)
	payload["args"] = args
	for k, v := range kwargs {
		payload[k] = v
	}

	data, err := jsonx.MarshalCanonical(payload)
	if err != nil {
		// Unencodable arguments still need a usable key; fall back to the
		// formatted payload.
		data = []byte(fmt.Sprintf("%v", payload))
	}

	sum := md5.Sum(data)
	return prefix + ":" + hex.EncodeToString(sum[:])
}
