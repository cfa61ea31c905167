package gallery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltin(t *testing.T) {
	t.Parallel()
	if len(Builtin) != 15 {
		t.Fatalf("len(Builtin) = %d, want 15", len(Builtin))
	}
	papers := 0
	for _, ex := range Builtin {
		if ex.Question == "" {
			t.Fatalf("example %q has no question", ex.Material)
		}
		if filepath.Ext(ex.Material) != ".txt" {
			t.Fatalf("example %q is not a txt file", ex.Material)
		}
		if len(ex.Material) >= 5 && ex.Material[:5] == "paper" {
			papers++
		}
	}
	if papers != 5 {
		t.Fatalf("papers = %d, want 5", papers)
	}
}

func TestLoadBuiltinReportsMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "paper_2.txt"), []byte("abstract"), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if g.Len() != 15 {
		t.Fatalf("Len() = %d", g.Len())
	}
	avail := g.Available()
	if len(avail) != 1 || avail[0].Name != "paper_2.txt" || avail[0].Index != 11 {
		t.Fatalf("Available() = %+v", avail)
	}
	if len(g.Missing()) != 14 {
		t.Fatalf("Missing() = %d entries", len(g.Missing()))
	}

	e, err := g.Get(11)
	if err != nil || e.Question != "Please summarize the paper in one paragraph." {
		t.Fatalf("Get(11) = %+v, %v", e, err)
	}
	if _, err := g.Get(0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(0) on missing material: %v", err)
	}
	if _, err := g.Get(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(99): %v", err)
	}
}

func TestLoadManifest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "elsewhere.txt")
	for _, p := range []string{filepath.Join(dir, "notes.txt"), abs} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	manifest := filepath.Join(dir, "examples.yaml")
	body := "examples:\n" +
		"  - material: notes.txt\n    question: What is this?\n" +
		"  - material: " + abs + "\n    question: And this?\n"
	if err := os.WriteFile(manifest, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := Load(dir, manifest)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	avail := g.Available()
	if len(avail) != 2 || avail[1].Path != abs || avail[0].Question != "What is this?" {
		t.Fatalf("Available() = %+v", avail)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := Load(dir, filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing manifest")
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("examples:\n  - question: no material\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, bad); err == nil {
		t.Fatal("expected error for entry without material")
	}
}
