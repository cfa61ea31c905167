//go:build linux

package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// readInteractiveLine reads a line from a terminal in raw mode with
// cursor movement, word motions and history. Ctrl+C and Ctrl+D on an empty
// line return io.EOF.
func readInteractiveLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		fmt.Print(prompt)
		return readPlainLine(stdinReader)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	raw := *oldState
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, oldState)
	}()

	editor.reset()
	fmt.Print(prompt)
	var buf [16]byte
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		for _, b := range buf[:n] {
			switch editor.feed(b) {
			case keyRedraw:
				redrawLine(prompt, editor)
			case keySubmit:
				fmt.Print("\r\n")
				return editor.submit(), nil
			case keyInterrupt:
				fmt.Print("^C\r\n")
				editor.reset()
				return "", io.EOF
			case keyEOF:
				fmt.Print("\r\n")
				return "", io.EOF
			}
		}
	}
}

func redrawLine(prompt string, e *lineEditor) {
	fmt.Printf("\r%s%s\x1b[K", prompt, e.String())
	if e.cursor < len(e.line) {
		fmt.Printf("\r%s%s", prompt, string(e.line[:e.cursor]))
	}
}
