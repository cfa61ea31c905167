package inference

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// Material is an uploaded document. Name is the file name the user chose
// and decides whether the file is accepted; Path is where the bytes live.
type Material struct {
	Name string
	Path string
}

// IsText reports whether the last dot-separated component of name is
// exactly "txt". The comparison is case-sensitive, and a name without any
// dot is its own last component.
func IsText(name string) bool {
	ext := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		ext = name[i+1:]
	}
	return ext == "txt"
}

// ReadMaterial returns the file contents with line endings normalized to
// "\n".
func ReadMaterial(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read material: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", errors.New("read material: file is not valid UTF-8 text")
	}
	text := string(raw)
	if strings.Contains(text, "\r") {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
	}
	return text, nil
}
