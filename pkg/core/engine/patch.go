// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// objectPatch assigns one leaf value at a dot-separated keypath of the
// aggregate object. Array elements are addressed by index.
type objectPatch struct {
	path  string
	value any
}

// parsePartialObject decodes the prefix of a streamed JSON object. Unclosed
// strings and containers are completed; a trailing fragment that cannot form
// a value (a dangling key, comma or truncated literal) is cut back to the
// last structural boundary.
func parsePartialObject(s string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed[0] != '{' {
		return nil, false
	}
	if obj, ok := decodeObject(completeJSON(trimmed)); ok {
		return obj, true
	}
	cut := lastBoundary(trimmed)
	if cut < 0 {
		return nil, false
	}
	head := strings.TrimRight(trimmed[:cut+1], ", \t\n")
	if head == "" {
		return nil, false
	}
	return decodeObject(completeJSON(head))
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// completeJSON closes the open string and container stack of a JSON prefix.
func completeJSON(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if escaped {
		// A trailing lone backslash would escape the closing quote.
		b.WriteByte('\\')
		inString = true
	}
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// lastBoundary returns the index of the last comma or container opener
// outside any string, the point where a broken trailing fragment starts.
func lastBoundary(s string) int {
	last := -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',', '{', '[':
			last = i
		}
	}
	return last
}

// diffPatches lists the keypath assignments that turn prev into next. Only
// additions and changed leaves appear: a streamed object never loses fields.
func diffPatches(prev, next map[string]any) []objectPatch {
	var patches []objectPatch
	diffObject("", prev, next, &patches)
	return patches
}

func diffObject(prefix string, prev, next map[string]any, patches *[]objectPatch) {
	keys := make([]string, 0, len(next))
	for k := range next {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		diffValue(path, prev[k], next[k], patches)
	}
}

func diffValue(path string, prev, next any, patches *[]objectPatch) {
	switch nv := next.(type) {
	case map[string]any:
		pm, _ := prev.(map[string]any)
		diffObject(path, pm, nv, patches)
	case []any:
		pa, _ := prev.([]any)
		for i, item := range nv {
			var prevItem any
			if i < len(pa) {
				prevItem = pa[i]
			}
			diffValue(path+"."+strconv.Itoa(i), prevItem, item, patches)
		}
	default:
		if !scalarEqual(prev, next) {
			*patches = append(*patches, objectPatch{path: path, value: next})
		}
	}
}

func scalarEqual(a, b any) bool {
	switch a.(type) {
	case map[string]any, []any:
		return false
	}
	return a == b
}

// applyPatch assigns the patch value at its keypath, materializing
// intermediate objects and extending arrays as needed.
func applyPatch(obj map[string]any, p objectPatch) {
	setPath(obj, strings.Split(p.path, "."), p.value)
}

func setPath(m map[string]any, segs []string, value any) {
	k := segs[0]
	if len(segs) == 1 {
		m[k] = value
		return
	}
	if idx, err := strconv.Atoi(segs[1]); err == nil {
		arr, _ := m[k].([]any)
		m[k] = setIndex(arr, idx, segs[1:], value)
		return
	}
	child, _ := m[k].(map[string]any)
	if child == nil {
		child = map[string]any{}
		m[k] = child
	}
	setPath(child, segs[1:], value)
}

func setIndex(arr []any, idx int, segs []string, value any) []any {
	for len(arr) <= idx {
		arr = append(arr, nil)
	}
	if len(segs) == 1 {
		arr[idx] = value
		return arr
	}
	if j, err := strconv.Atoi(segs[1]); err == nil {
		child, _ := arr[idx].([]any)
		arr[idx] = setIndex(child, j, segs[1:], value)
		return arr
	}
	child, _ := arr[idx].(map[string]any)
	if child == nil {
		child = map[string]any{}
		arr[idx] = child
	}
	setPath(child, segs[1:], value)
	return arr
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, item := range t {
			m[k] = cloneValue(item)
		}
		return m
	case []any:
		a := make([]any, len(t))
		for i, item := range t {
			a[i] = cloneValue(item)
		}
		return a
	default:
		return v
	}
}
