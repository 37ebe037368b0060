package main

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	uafcheck "github.com/aclements/uafcheck"
)

func TestParseMode(t *testing.T) {
	if lt, err := parseMode("flow"); err != nil || lt != uafcheck.LocTypeAddr {
		t.Errorf("parseMode(flow) = (%v, %v), want (LocTypeAddr, nil)", lt, err)
	}
	if lt, err := parseMode("context"); err != nil || lt != uafcheck.LocTypeAddrAndStack {
		t.Errorf("parseMode(context) = (%v, %v), want (LocTypeAddrAndStack, nil)", lt, err)
	}
	if _, err := parseMode("bogus"); err == nil {
		t.Error("parseMode should reject an unrecognized mode")
	}
}

func TestExpandPathsGlobsAndFallsBack(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.bin", "b.bin"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got := expandPaths([]string{filepath.Join(dir, "*.bin"), "does-not-exist-anywhere"})
	sort.Strings(got)

	want := []string{
		"does-not-exist-anywhere",
		filepath.Join(dir, "a.bin"),
		filepath.Join(dir, "b.bin"),
	}
	sort.Strings(want)

	if len(got) != len(want) {
		t.Fatalf("expandPaths = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("expandPaths[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
