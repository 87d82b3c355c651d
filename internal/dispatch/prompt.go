package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks one question and returns the answer line verbatim
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// LinePrompter reads answers line by line from an input stream
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLinePrompter creates a prompter reading in and writing questions to out
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

// Interactive reports whether f is attached to a terminal
func Interactive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Ask writes the question and blocks until a full line is read. Only the
// line terminator is stripped. There is no timeout; the wait ends only when
// a line arrives, the input closes, or ctx is cancelled.
func (p *LinePrompter) Ask(ctx context.Context, question string) (string, error) {
	if _, err := fmt.Fprint(p.out, question); err != nil {
		return "", err
	}

	type answer struct {
		line string
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		done <- answer{line: strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), err: err}
	}()

	select {
	case a := <-done:
		return a.line, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
