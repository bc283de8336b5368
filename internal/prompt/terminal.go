package prompt

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Terminal asks on the controlling terminal. An empty reply declines.
type Terminal struct {
	In  *os.File
	Out io.Writer
}

func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

func (t *Terminal) Ask(_ context.Context, _ string, q Question) (*string, error) {
	fd := int(t.In.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("cannot prompt for %s: stdin is not a terminal", q.Label)
	}
	fmt.Fprintf(t.Out, "%s for %s (empty to cancel): ", q.Label, q.Hostname)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(t.Out)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	s := string(b)
	return &s, nil
}
