package main

import (
	"bufio"
	"io"
	"os"
	"strings"
)

type keyAction int

const (
	keyNone keyAction = iota
	keyRedraw
	keySubmit
	keyInterrupt
	keyEOF
)

// lineEditor is the editing state of one interactive prompt. History
// survives across lines.
type lineEditor struct {
	line   []byte
	cursor int

	history  []string
	histPos  int
	browsing bool
	draft    string

	esc    int
	escBuf strings.Builder
}

func (e *lineEditor) reset() {
	e.line = e.line[:0]
	e.cursor = 0
	e.histPos = len(e.history)
	e.browsing = false
	e.draft = ""
	e.esc = 0
}

func (e *lineEditor) String() string { return string(e.line) }

// submit returns the current line and records it in the history.
func (e *lineEditor) submit() string {
	out := string(e.line)
	if strings.TrimSpace(out) != "" {
		e.history = append(e.history, out)
	}
	e.reset()
	return out
}

// feed applies one input byte.
func (e *lineEditor) feed(b byte) keyAction {
	switch e.esc {
	case 1:
		e.esc = 0
		switch b {
		case '[':
			e.esc = 2
			e.escBuf.Reset()
			return keyNone
		case 'b', 'B':
			return e.wordLeft()
		case 'f', 'F':
			return e.wordRight()
		case 127:
			return e.deleteWordBack()
		}
		return keyNone
	case 2:
		e.escBuf.WriteByte(b)
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
			e.esc = 0
			return e.csi(e.escBuf.String())
		}
		return keyNone
	}

	switch b {
	case 27:
		e.esc = 1
		return keyNone
	case '\r', '\n':
		return keySubmit
	case 3: // Ctrl+C
		return keyInterrupt
	case 4: // Ctrl+D
		if len(e.line) == 0 {
			return keyEOF
		}
		return e.deleteForward()
	case 127, 8:
		if e.cursor == 0 {
			return keyNone
		}
		e.line = append(e.line[:e.cursor-1], e.line[e.cursor:]...)
		e.cursor--
		return keyRedraw
	case 1: // Ctrl+A
		e.cursor = 0
		return keyRedraw
	case 5: // Ctrl+E
		e.cursor = len(e.line)
		return keyRedraw
	case 11: // Ctrl+K
		e.line = e.line[:e.cursor]
		return keyRedraw
	case 21: // Ctrl+U
		e.line = append(e.line[:0], e.line[e.cursor:]...)
		e.cursor = 0
		return keyRedraw
	case 23: // Ctrl+W
		return e.deleteWordBack()
	}
	if b < 32 {
		return keyNone
	}
	e.line = append(e.line, 0)
	copy(e.line[e.cursor+1:], e.line[e.cursor:])
	e.line[e.cursor] = b
	e.cursor++
	return keyRedraw
}

func (e *lineEditor) csi(seq string) keyAction {
	switch seq {
	case "A":
		return e.historyPrev()
	case "B":
		return e.historyNext()
	case "D":
		if e.cursor > 0 {
			e.cursor--
			return keyRedraw
		}
	case "C":
		if e.cursor < len(e.line) {
			e.cursor++
			return keyRedraw
		}
	case "H", "1~":
		e.cursor = 0
		return keyRedraw
	case "F", "4~":
		e.cursor = len(e.line)
		return keyRedraw
	case "3~":
		return e.deleteForward()
	case "1;5D", "5D":
		return e.wordLeft()
	case "1;5C", "5C":
		return e.wordRight()
	case "3;5~":
		return e.deleteWordForward()
	}
	return keyNone
}

func (e *lineEditor) historyPrev() keyAction {
	if len(e.history) == 0 {
		return keyNone
	}
	if !e.browsing {
		e.draft = string(e.line)
		e.browsing = true
		e.histPos = len(e.history)
	}
	if e.histPos == 0 {
		return keyNone
	}
	e.histPos--
	e.setLine(e.history[e.histPos])
	return keyRedraw
}

func (e *lineEditor) historyNext() keyAction {
	if !e.browsing {
		return keyNone
	}
	if e.histPos < len(e.history)-1 {
		e.histPos++
		e.setLine(e.history[e.histPos])
	} else {
		e.histPos = len(e.history)
		e.setLine(e.draft)
		e.browsing = false
	}
	return keyRedraw
}

func (e *lineEditor) setLine(s string) {
	e.line = append(e.line[:0], s...)
	e.cursor = len(e.line)
}

func (e *lineEditor) deleteForward() keyAction {
	if e.cursor >= len(e.line) {
		return keyNone
	}
	e.line = append(e.line[:e.cursor], e.line[e.cursor+1:]...)
	return keyRedraw
}

func isBlank(b byte) bool { return b == ' ' || b == '\t' }

func (e *lineEditor) wordStart() int {
	i := e.cursor
	for i > 0 && isBlank(e.line[i-1]) {
		i--
	}
	for i > 0 && !isBlank(e.line[i-1]) {
		i--
	}
	return i
}

func (e *lineEditor) wordEnd() int {
	i := e.cursor
	for i < len(e.line) && isBlank(e.line[i]) {
		i++
	}
	for i < len(e.line) && !isBlank(e.line[i]) {
		i++
	}
	return i
}

func (e *lineEditor) wordLeft() keyAction {
	if e.cursor == 0 {
		return keyNone
	}
	e.cursor = e.wordStart()
	return keyRedraw
}

func (e *lineEditor) wordRight() keyAction {
	if e.cursor >= len(e.line) {
		return keyNone
	}
	e.cursor = e.wordEnd()
	return keyRedraw
}

func (e *lineEditor) deleteWordBack() keyAction {
	if e.cursor == 0 {
		return keyNone
	}
	start := e.wordStart()
	e.line = append(e.line[:start], e.line[e.cursor:]...)
	e.cursor = start
	return keyRedraw
}

func (e *lineEditor) deleteWordForward() keyAction {
	if e.cursor >= len(e.line) {
		return keyNone
	}
	end := e.wordEnd()
	e.line = append(e.line[:e.cursor], e.line[end:]...)
	return keyRedraw
}

var (
	editor      = &lineEditor{}
	stdinReader = bufio.NewReader(os.Stdin)
)

// readPlainLine reads one line without terminal editing. It returns io.EOF
// only when nothing was read.
func readPlainLine(r *bufio.Reader) (string, error) {
	s, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && s != "" {
			return trimTrailingNewline(s), nil
		}
		return "", err
	}
	return trimTrailingNewline(s), nil
}

func trimTrailingNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}

func stdoutIsTTY() bool {
	st, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
