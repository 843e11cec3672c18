package delta

import (
	"reflect"
	"testing"
)

// apply replays a Record onto a tree the way the server side does:
// merge Added, delete Removed keys.
func apply(tree map[string]any, rec *Record) map[string]any {
	out := Copy(tree)
	if out == nil {
		out = make(map[string]any)
	}
	if rec == nil {
		return out
	}
	for key, val := range rec.Added {
		out[key] = val
	}
	for key := range rec.Removed {
		delete(out, key)
	}
	return out
}

func TestDiffIdentical(t *testing.T) {
	tree := map[string]any{
		"username": "alice",
		"presence": map[string]any{"show": "away"},
	}
	if rec := Diff(tree, tree); rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
}

func TestDiffBothEmpty(t *testing.T) {
	if rec := Diff(map[string]any{}, map[string]any{}); rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
}

func TestDiffNilOldAddsEverything(t *testing.T) {
	newTree := map[string]any{"a": 1, "b": map[string]any{"c": 2}}
	rec := Diff(nil, newTree)
	if rec == nil {
		t.Fatal("expected record")
	}
	if !reflect.DeepEqual(rec.Added, newTree) {
		t.Errorf("expected all of new tree added, got %+v", rec.Added)
	}
	if len(rec.Removed) != 0 {
		t.Errorf("expected nothing removed, got %+v", rec.Removed)
	}
}

func TestDiffChangedScalar(t *testing.T) {
	oldTree := map[string]any{"show": "away", "status": "busy"}
	newTree := map[string]any{"show": "chat", "status": "busy"}
	rec := Diff(oldTree, newTree)
	if rec == nil {
		t.Fatal("expected record")
	}
	if rec.Added["show"] != "chat" {
		t.Errorf("expected show added, got %+v", rec.Added)
	}
	if _, ok := rec.Added["status"]; ok {
		t.Error("unchanged key should not be added")
	}
}

func TestDiffRemovedKey(t *testing.T) {
	oldTree := map[string]any{"a": 1, "b": 2}
	newTree := map[string]any{"a": 1}
	rec := Diff(oldTree, newTree)
	if rec == nil {
		t.Fatal("expected record")
	}
	if rec.Removed["b"] != 2 {
		t.Errorf("expected b removed with old value, got %+v", rec.Removed)
	}
}

func TestDiffChangedSubtreeReportedWhole(t *testing.T) {
	oldTree := map[string]any{
		"presence": map[string]any{"show": "away", "status": "x"},
	}
	newTree := map[string]any{
		"presence": map[string]any{"show": "chat", "status": "x"},
	}
	rec := Diff(oldTree, newTree)
	if rec == nil {
		t.Fatal("expected record")
	}
	got, ok := rec.Added["presence"].(map[string]any)
	if !ok {
		t.Fatalf("expected whole sub-map under added, got %+v", rec.Added)
	}
	if !reflect.DeepEqual(got, newTree["presence"]) {
		t.Errorf("sub-map not reported whole: %+v", got)
	}
}

func TestDiffSubtreeKeyRemovalReportedWhole(t *testing.T) {
	// A removal inside a nested scope surfaces as a whole replacement of
	// the sub-map, so applying Added alone repairs it.
	oldTree := map[string]any{
		"caps": map[string]any{"audio": true, "video": true},
	}
	newTree := map[string]any{
		"caps": map[string]any{"audio": true},
	}
	rec := Diff(oldTree, newTree)
	if rec == nil {
		t.Fatal("expected record")
	}
	if _, ok := rec.Added["caps"]; !ok {
		t.Fatalf("expected caps replaced under added, got %+v", rec)
	}
}

func TestDiffApplyRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		old, new map[string]any
	}{
		{"scalar change", map[string]any{"a": 1}, map[string]any{"a": 2}},
		{"add and remove", map[string]any{"a": 1}, map[string]any{"b": 2}},
		{"nested change",
			map[string]any{"p": map[string]any{"x": 1, "y": 2}, "q": "same"},
			map[string]any{"p": map[string]any{"x": 1, "y": 3}, "q": "same"}},
		{"nested removal",
			map[string]any{"p": map[string]any{"x": 1, "y": 2}},
			map[string]any{"p": map[string]any{"x": 1}}},
		{"from empty", map[string]any{}, map[string]any{"a": 1}},
		{"to empty", map[string]any{"a": 1}, map[string]any{}},
	}

	for _, tc := range cases {
		rec := Diff(tc.old, tc.new)
		result := apply(tc.old, rec)
		if !reflect.DeepEqual(result, tc.new) {
			t.Errorf("%s: apply(old, diff) = %+v, want %+v", tc.name, result, tc.new)
		}
	}
}

func TestDiffOrderIndependent(t *testing.T) {
	oldTree := map[string]any{"a": 1, "b": 2, "c": 3}
	newTree := map[string]any{"c": 3, "b": 5, "d": 7}

	first := Diff(oldTree, newTree)
	for i := 0; i < 10; i++ {
		again := Diff(oldTree, newTree)
		if !reflect.DeepEqual(first, again) {
			t.Fatal("diff is not deterministic")
		}
	}
}

func TestCopyIsDeep(t *testing.T) {
	tree := map[string]any{"p": map[string]any{"x": 1}}
	dup := Copy(tree)
	dup["p"].(map[string]any)["x"] = 99
	if tree["p"].(map[string]any)["x"] != 1 {
		t.Error("Copy shares nested maps with original")
	}
}
