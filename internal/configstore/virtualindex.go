package configstore

import (
	"sort"
	"strings"
)

// VirtualIndex walks channelToVirtualIndex looking for a key containing substring (case-insensitive), returning the
// first matching value when it is a string; a first match whose value is not a string yields ("", false). It descends into nested maps and slices, matching
// has_key_with_substring's recursive walk rather than a flattened top-level-keys-only lookup.
func VirtualIndex(channelToVirtualIndex map[string]any, substring string) (string, bool) {
	if substring == "" {
		return "", false
	}
	needle := strings.ToLower(substring)
	v, ok := walkForKey(channelToVirtualIndex, needle)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// walkForKey matches spec.md's "stable across restarts" invariant by visiting a map's keys in sorted order rather
// than Go's randomized map iteration order: with more than one key containing needle, the match must be the same
// key every time, not whichever the runtime happens to iterate to first.
func walkForKey(node any, needle string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if strings.Contains(strings.ToLower(k), needle) {
				return n[k], true
			}
		}
		for _, k := range keys {
			if found, ok := walkForKey(n[k], needle); ok {
				return found, true
			}
		}
		return nil, false

	case []any:
		for _, item := range n {
			if found, ok := walkForKey(item, needle); ok {
				return found, true
			}
		}
		return nil, false

	default:
		return nil, false
	}
}
