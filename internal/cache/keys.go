package cache

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// GenerateKey builds a deterministic cache key from a request type,
// its parameters and an optional provider. Parameters are sorted and
// nil/empty values dropped, so identical requests produce identical
// keys regardless of parameter order. The primary identifier of a type
// (asin for product, slugified keyword for search) becomes a dedicated
// path segment instead of being folded into the parameter hash, and so
// does the marketplace. Any reimplementation must preserve this layout
// for cross-process cache compatibility.
func GenerateKey(requestType string, params map[string]string, provider string) string {
	remaining := make(map[string]string, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		remaining[k] = v
	}

	components := []string{requestType}

	if provider != "" {
		components = append(components, provider)
	}

	if marketplace, ok := remaining["marketplace"]; ok {
		components = append(components, marketplace)
		delete(remaining, "marketplace")
	}

	switch requestType {
	case "product":
		if asin, ok := remaining["asin"]; ok {
			components = append(components, asin)
			delete(remaining, "asin")
		}
	case "search":
		if keyword, ok := remaining["keyword"]; ok {
			components = append(components, Slugify(keyword))
			delete(remaining, "keyword")
		}
	}

	if len(remaining) > 0 {
		components = append(components, hashParams(remaining))
	}

	return strings.Join(components, "_")
}

// hashParams digests the leftover parameters in sorted key order.
func hashParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}

	sum := md5.Sum([]byte(b.String()))

	return hex.EncodeToString(sum[:])
}

// Slugify lowercases a string and collapses every non-alphanumeric run
// into a single hyphen.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen

	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.TrimSuffix(b.String(), "-")
}
