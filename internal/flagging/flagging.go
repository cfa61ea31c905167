// Package flagging records completed predictions to a CSV log alongside a
// copy of each uploaded material.
package flagging

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ModeAuto  = "auto"
	ModeNever = "never"

	LogFile = "log.csv"
	// UploadDir is named after the form's file input label.
	UploadDir = "Input material txt"
)

var Header = []string{"Input material txt", "Question", "Text Output", "flag", "username", "timestamp"}

// Record is one flagged prediction. MaterialPath is the uploaded file on
// disk; it is copied into the flag directory before the row is written.
type Record struct {
	MaterialPath string
	MaterialName string
	Question     string
	Output       string
	Flag         string
	Username     string
	Time         time.Time
}

// Logger appends records. A nil *Logger or one in ModeNever does nothing.
type Logger struct {
	Dir  string
	Mode string

	mu    sync.Mutex
	clock func() time.Time
}

// ParseMode validates a --flagging value.
func ParseMode(s string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(s)); m {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeNever:
		return ModeNever, nil
	default:
		return "", fmt.Errorf("unknown flagging mode %q (want auto or never)", s)
	}
}

func New(dir, mode string) *Logger {
	return &Logger{Dir: dir, Mode: mode, clock: time.Now}
}

func (l *Logger) Enabled() bool {
	return l != nil && l.Mode != ModeNever && l.Dir != ""
}

// Log copies the material and appends a row. It returns the stored
// material path, empty when disabled.
func (l *Logger) Log(rec Record) (string, error) {
	if !l.Enabled() {
		return "", nil
	}
	if rec.Time.IsZero() {
		rec.Time = l.now()
	}

	stored := ""
	if rec.MaterialPath != "" {
		name := rec.MaterialName
		if name == "" {
			name = filepath.Base(rec.MaterialPath)
		}
		var err error
		stored, err = l.copyMaterial(rec.MaterialPath, filepath.Base(name))
		if err != nil {
			return "", err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create flag dir: %w", err)
	}
	path := filepath.Join(l.Dir, LogFile)
	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open flag log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(Header); err != nil {
			return "", err
		}
	}
	rel := stored
	if r, err := filepath.Rel(l.Dir, stored); err == nil && stored != "" {
		rel = r
	}
	row := []string{rel, rec.Question, rec.Output, rec.Flag, rec.Username, rec.Time.Format("2006-01-02 15:04:05.000000")}
	if err := w.Write(row); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write flag log: %w", err)
	}
	return stored, nil
}

func (l *Logger) copyMaterial(src, name string) (string, error) {
	dir := filepath.Join(l.Dir, UploadDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open material: %w", err)
	}
	defer in.Close()

	dst := filepath.Join(dir, name)
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create material copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copy material: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dst, nil
}

func (l *Logger) now() time.Time {
	if l.clock != nil {
		return l.clock()
	}
	return time.Now()
}
