package challenge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// Prompter blocks until the operator confirms an interactive step
type Prompter interface {
	Wait(ctx context.Context, message string) error
}

// LinePrompter prints a message and waits for a line on In.
// A single reader goroutine owns In for the prompter's lifetime.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer

	once  sync.Once
	lines chan error // one value per line, closed after a read error
}

// NewLinePrompter builds a prompter over the given streams
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	p := &LinePrompter{In: in, Out: out}
	p.start()
	return p
}

func (p *LinePrompter) start() {
	p.once.Do(func() {
		p.lines = make(chan error)
		go p.readLoop()
	})
}

func (p *LinePrompter) readLoop() {
	r := bufio.NewReader(p.In)
	for {
		_, err := r.ReadString('\n')
		p.lines <- err
		if err != nil {
			close(p.lines)
			return
		}
	}
}

// Wait returns once a new line is read, or with ctx's error when it ends first.
// Lines typed while nobody was waiting are discarded.
func (p *LinePrompter) Wait(ctx context.Context, message string) error {
	p.start()

	for {
		select {
		case err, ok := <-p.lines:
			if !ok || err != nil {
				return readError(err)
			}
			continue
		default:
		}
		break
	}

	fmt.Fprintln(p.Out, message)

	select {
	case err, ok := <-p.lines:
		if !ok || err != nil {
			return readError(err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readError(err error) error {
	if err == nil {
		err = io.EOF
	}
	return fmt.Errorf("failed to read operator input: %w", err)
}
