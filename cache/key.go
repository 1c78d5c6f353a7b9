package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Key derives the cache key for a request: SHA-256 hex of the
// concatenation of the URL, canonical JSON of the body (passed through
// unchanged if it is already a string), and canonical JSON of the headers
// (keys sorted so that equivalent header maps always hash identically).
func Key(url string, body any, headers map[string]string) string {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write(canonicalBody(body))
	h.Write(canonicalHeaders(headers))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalBody(body any) []byte {
	if s, ok := body.(string); ok {
		return []byte(s)
	}
	if b, ok := body.([]byte); ok {
		return b
	}
	data, err := json.Marshal(body)
	if err != nil {
		return []byte{}
	}
	return data
}

func canonicalHeaders(headers map[string]string) []byte {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]string{k, headers[k]})
	}
	data, err := json.Marshal(ordered)
	if err != nil {
		return []byte{}
	}
	return data
}
