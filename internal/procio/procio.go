// Package procio runs external processes to completion and exposes their
// output as finite line sequences.
package procio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Result is the captured output of a finished process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// StdoutLines yields stdout line by line, without trailing newlines.
func (r *Result) StdoutLines() iter.Seq[string] { return lines(bytes.NewReader(r.Stdout)) }

// StderrLines yields stderr line by line, without trailing newlines.
func (r *Result) StderrLines() iter.Seq[string] { return lines(bytes.NewReader(r.Stderr)) }

// Run starts name with args, reads both output pipes until the process
// exits and reaps it. A non-zero exit status is reported in ExitCode rather
// than as an error; only failures to start or to read are returned.
func Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&outBuf, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})
	readErr := g.Wait()

	// Wait must run even when reading failed so the process is reaped.
	waitErr := cmd.Wait()

	res := &Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes()}
	if readErr != nil {
		return res, fmt.Errorf("reading output of %s: %w", name, readErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("waiting for %s: %w", name, waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	return res, nil
}

// Source identifies which pipe a streamed line came from.
type Source int

const (
	Stdout Source = iota
	Stderr
)

func (s Source) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one line of live process output.
type Line struct {
	Source Source
	Text   string
}

// Stream is a running process whose output is consumed as it arrives.
type Stream struct {
	cmd   *exec.Cmd
	lines chan Line
	once  sync.Once
	done  chan struct{}
	err   error
}

// Start launches name with args and begins forwarding its output lines.
// Wait must be called to reap the process, whether or not Lines was used.
func Start(ctx context.Context, name string, args ...string) (*Stream, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	s := &Stream{cmd: cmd, lines: make(chan Line), done: make(chan struct{})}

	var g errgroup.Group
	forward := func(src Source, r io.Reader) func() error {
		return func() error {
			sc := bufio.NewScanner(r)
			sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for sc.Scan() {
				select {
				case s.lines <- Line{Source: src, Text: sc.Text()}:
				case <-s.done:
					// Consumer stopped early; keep draining so the child never blocks.
				}
			}
			return sc.Err()
		}
	}
	g.Go(forward(Stdout, stdout))
	g.Go(forward(Stderr, stderr))
	go func() {
		s.err = g.Wait()
		close(s.lines)
	}()

	return s, nil
}

// Lines yields output lines from both pipes in arrival order until the
// process closes them. The sequence can be consumed once; later calls
// yield nothing.
func (s *Stream) Lines() iter.Seq[Line] {
	return func(yield func(Line) bool) {
		first := false
		s.once.Do(func() { first = true })
		if !first {
			return
		}
		defer close(s.done)
		for l := range s.lines {
			if !yield(l) {
				return
			}
		}
	}
}

// Wait drains any unread output, reaps the process and returns its exit code.
func (s *Stream) Wait() (int, error) {
	// Ensure the forwarders are not stuck on an unconsumed channel.
	s.once.Do(func() { close(s.done) })
	for range s.lines {
	}

	waitErr := s.cmd.Wait()
	if s.err != nil {
		return -1, fmt.Errorf("reading output: %w", s.err)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, waitErr
	}
	return 0, nil
}

func lines(r io.Reader) iter.Seq[string] {
	return func(yield func(string) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			if !yield(sc.Text()) {
				return
			}
		}
	}
}
