package renamer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlekZo/ai-meeting-librarian/internal/logging"
)

func TestSanitize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Design Review", "Design Review"},
		{"Q1: Planning / Budget", "Q1 Planning Budget"},
		{`what? <really> "yes"`, "what really yes"},
		{"trailing dots...", "trailing dots"},
		{"  spaced   out  ", "spaced out"},
		{"///", "Untitled"},
		{"", "Untitled"},
	}
	for _, tc := range cases {
		if got := Sanitize(tc.in); got != tc.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewBaseName(t *testing.T) {
	got := NewBaseName("Design Review: Q1", "2026-01-22_14-26-31", ".mp4")
	want := "Design Review Q1_2026-01-22_14-26-31.mp4"
	if got != want {
		t.Fatalf("NewBaseName = %q, want %q", got, want)
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.mp4")

	got, err := UniquePath(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Fatalf("free path changed: %q", got)
	}

	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rec_01.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err = UniquePath(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "rec_02.mp4"); got != want {
		t.Fatalf("UniquePath = %q, want %q", got, want)
	}
}

func testMover(opts ...Option) *Mover {
	base := []Option{
		WithAttempts(3),
		WithBackoff(time.Millisecond),
		WithLogger(logging.Nop()),
	}
	return NewMover(append(base, opts...)...)
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old.mp4")
	dst := filepath.Join(dir, "Design Review_2026-01-22_14-26-31.mp4")
	if err := os.WriteFile(src, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := testMover().Rename(src, dst); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("source still present")
	}
}

func TestRename_ExhaustsAttempts(t *testing.T) {
	dir := t.TempDir()
	err := testMover().Rename(filepath.Join(dir, "missing.mp4"), filepath.Join(dir, "out.mp4"))
	if err == nil {
		t.Fatal("expected error renaming missing file")
	}
}

func TestRename_DryRunTouchesNothing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old.mp4")
	if err := os.WriteFile(src, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := testMover(WithDryRun(true)).Rename(src, filepath.Join(dir, "new.mp4")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatal("dry run moved the file")
	}
}

func TestMoveTo(t *testing.T) {
	srcDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "library")
	src := filepath.Join(srcDir, "rec.mp4")
	if err := os.WriteFile(src, []byte("video bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst, err := testMover().MoveTo(src, outDir)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "video bytes" {
		t.Fatalf("content = %q", data)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("original not removed")
	}
}

func TestMoveTo_CollisionGetsSuffix(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	src := filepath.Join(srcDir, "rec.mp4")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "rec.mp4"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst, err := testMover().MoveTo(src, outDir)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(outDir, "rec_01.mp4"); dst != want {
		t.Fatalf("dst = %q, want %q", dst, want)
	}
	old, _ := os.ReadFile(filepath.Join(outDir, "rec.mp4"))
	if string(old) != "old" {
		t.Fatal("existing file was overwritten")
	}
}
