package main

import (
	"bytes"
	"io"
	"os"

	"golang.org/x/term"
)

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// watchQuitKey puts an interactive stdin into raw mode and calls quit when q
// or Ctrl-C is pressed. The returned restore function must run before exit.
// ok is false when stdin is not a terminal.
func watchQuitKey(quit func()) (restore func(), ok bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, false
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, false
	}

	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				return
			}
			switch buf[0] {
			case 'q', 'Q', 3: // 3 = Ctrl-C, which raw mode no longer turns into SIGINT
				quit()
				return
			}
		}
	}()
	return func() { term.Restore(fd, state) }, true
}

// crlfWriter translates \n to \r\n for terminals in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
