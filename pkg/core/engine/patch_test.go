// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"reflect"
	"testing"
)

func TestParsePartialObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
		ok   bool
	}{
		{"empty", "", nil, false},
		{"not an object", `[1, 2]`, nil, false},
		{"open brace", `{`, map[string]any{}, true},
		{"complete", `{"a": 1}`, map[string]any{"a": float64(1)}, true},
		{"open string value", `{"a": "he`, map[string]any{"a": "he"}, true},
		{"dangling key", `{"a": 1, "b`, map[string]any{"a": float64(1)}, true},
		{"dangling colon", `{"a": 1, "b":`, map[string]any{"a": float64(1)}, true},
		{"truncated literal", `{"a": tr`, map[string]any{}, true},
		{"nested containers", `{"a": {"b": [1, 2`, map[string]any{"a": map[string]any{"b": []any{float64(1), float64(2)}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parsePartialObject(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiffAndApplyPatches(t *testing.T) {
	prev := map[string]any{"a": "he"}
	next := map[string]any{
		"a": "hello",
		"b": map[string]any{"c": float64(1)},
		"d": []any{"x"},
	}

	patches := diffPatches(prev, next)
	paths := make([]string, len(patches))
	for i, p := range patches {
		paths[i] = p.path
	}
	if !reflect.DeepEqual(paths, []string{"a", "b.c", "d.0"}) {
		t.Fatalf("paths = %v", paths)
	}

	mirror := map[string]any{"a": "he"}
	for _, p := range patches {
		applyPatch(mirror, p)
	}
	if !reflect.DeepEqual(mirror, next) {
		t.Errorf("patched = %v, want %v", mirror, next)
	}

	if again := diffPatches(mirror, next); len(again) != 0 {
		t.Errorf("diff after apply = %v", again)
	}
}
