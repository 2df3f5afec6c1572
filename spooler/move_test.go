package spooler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMoveFileToDir_EmptyDstDirErrors(t *testing.T) {
	if _, err := MoveFileToDir("x", ""); err == nil {
		t.Fatalf("expected error for empty dstDir")
	}
}

func TestMoveFileToDir_AvoidsNameCollision(t *testing.T) {
	tmp := t.TempDir()
	srcDir := filepath.Join(tmp, "crashes")
	dstDir := filepath.Join(tmp, "quarantine")
	for _, d := range []string{srcDir, dstDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			t.Fatal(err)
		}
	}

	// A record quarantined earlier under the same name.
	base := "r1" + SuffixTrace
	if err := os.WriteFile(filepath.Join(dstDir, base), []byte("earlier"), 0o600); err != nil {
		t.Fatal(err)
	}
	srcPath := filepath.Join(srcDir, base)
	if err := os.WriteFile(srcPath, []byte("panic: later"), 0o600); err != nil {
		t.Fatal(err)
	}

	dstPath, err := MoveFileToDir(srcPath, dstDir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dstPath) == base {
		t.Fatalf("expected collision-avoiding filename, got %q", dstPath)
	}
	if !strings.HasPrefix(filepath.Base(dstPath), "r1-") || filepath.Ext(dstPath) != SuffixTrace {
		t.Fatalf("expected r1-<n>%s, got %q", SuffixTrace, dstPath)
	}
	if _, err := os.Stat(srcPath); err == nil {
		t.Fatalf("expected source removed: %s", srcPath)
	}
	b, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "panic: later" {
		t.Fatalf("unexpected content: %q", string(b))
	}
}

func TestWriteFileAtomic_ReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r1"+SuffixTrace)
	for _, content := range []string{"first", "second"} {
		if err := writeFileAtomic(path, []byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "second" {
		t.Fatalf("unexpected content %q", string(b))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, got %d entries", len(entries))
	}
}
