package types

import (
	"sort"
	"strings"
)

const (
	maxMetadataKeys   = 32
	maxMetadataKeyLen = 64
	maxMetadataString = 512
	maxMetadataDepth  = 3
	maxMetadataList   = 32
)

// SanitizeMetadata bounds a host-supplied metadata bag: at most 32 keys per
// level, nesting at most 3 levels deep, strings capped at 512 runes, and
// arrays of at most 32 primitive items. Anything else is dropped. Keys are
// visited in sorted order, so the same input always keeps the same keys.
func SanitizeMetadata(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return sanitizeMetadataLevel(m, 1)
}

func sanitizeMetadataLevel(in map[string]any, depth int) map[string]any {
	keys := make([]string, 0, len(in))
	for key := range in {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(in))
	for _, key := range keys {
		value := in[key]
		if len(out) >= maxMetadataKeys {
			break
		}
		k := Truncate(strings.TrimSpace(key), maxMetadataKeyLen)
		if k == "" {
			continue
		}
		switch val := value.(type) {
		case map[string]any:
			if depth < maxMetadataDepth {
				out[k] = sanitizeMetadataLevel(val, depth+1)
			}
		case []any:
			out[k] = sanitizeMetadataList(val)
		default:
			if p, ok := metadataPrimitive(val); ok {
				out[k] = p
			}
		}
	}
	return out
}

func sanitizeMetadataList(in []any) []any {
	out := make([]any, 0, len(in))
	for _, item := range in {
		if len(out) >= maxMetadataList {
			break
		}
		if p, ok := metadataPrimitive(item); ok {
			out = append(out, p)
		}
	}
	return out
}

func metadataPrimitive(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case string:
		return Truncate(val, maxMetadataString), true
	case bool, float64, int, int64:
		return val, true
	default:
		return nil, false
	}
}
