package flagging

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ModeAuto},
		{in: "auto", want: ModeAuto},
		{in: " Never ", want: ModeNever},
		{in: "manual", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseMode(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogWritesHeaderOnceAndCopiesMaterial(t *testing.T) {
	t.Parallel()
	src := filepath.Join(t.TempDir(), "upload-123")
	if err := os.WriteFile(src, []byte("chapter one"), 0o644); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	l := New(dir, ModeAuto)
	l.clock = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	stored, err := l.Log(Record{MaterialPath: src, MaterialName: "book.txt", Question: "Who?", Output: "Them, \"quoted\""})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if filepath.Base(stored) != "book.txt" || !strings.Contains(stored, UploadDir) {
		t.Fatalf("stored path = %q", stored)
	}
	data, err := os.ReadFile(stored)
	if err != nil || string(data) != "chapter one" {
		t.Fatalf("copied material = %q, %v", data, err)
	}
	if _, err := l.Log(Record{Question: "Again?", Output: "yes"}); err != nil {
		t.Fatalf("second Log: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, LogFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(Header, ",") {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][1] != "Who?" || rows[1][2] != "Them, \"quoted\"" || rows[1][5] != "2024-01-02 03:04:05.000000" {
		t.Fatalf("row = %v", rows[1])
	}
	if filepath.IsAbs(rows[1][0]) || !strings.HasPrefix(rows[1][0], UploadDir) {
		t.Fatalf("material column = %q", rows[1][0])
	}
	if rows[2][0] != "" {
		t.Fatalf("expected empty material column, got %q", rows[2][0])
	}
}

func TestLogDisabled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l := New(dir, ModeNever)
	if _, err := l.Log(Record{Question: "q"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LogFile)); !os.IsNotExist(err) {
		t.Fatalf("log file written in never mode: %v", err)
	}
	var nilLogger *Logger
	if nilLogger.Enabled() {
		t.Fatal("nil logger enabled")
	}
	if _, err := nilLogger.Log(Record{}); err != nil {
		t.Fatalf("nil Log: %v", err)
	}
}
