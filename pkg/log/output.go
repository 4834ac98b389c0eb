package log

import (
	"io"
	"os"
	"sync"
)

// ConsoleOutput writes formatted entries to stderr (errors) and stdout.
type ConsoleOutput struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

// NewConsoleOutput creates a console output targeting the process streams.
func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{stdout: os.Stdout, stderr: os.Stderr}
}

// Write implements Output.
func (o *ConsoleOutput) Write(entry *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := o.stdout
	if entry.Level >= ErrorLevel {
		w = o.stderr
	}
	_, err := w.Write(formatted)
	return err
}

// Close implements Output. Console streams are not owned by the output.
func (o *ConsoleOutput) Close() error { return nil }

// WriterOutput adapts any io.Writer into an Output. Used by tests and by
// file-backed sinks.
type WriterOutput struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterOutput wraps w as an Output.
func NewWriterOutput(w io.Writer) *WriterOutput { return &WriterOutput{w: w} }

// Write implements Output.
func (o *WriterOutput) Write(_ *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.w.Write(formatted)
	return err
}

// Close implements Output.
func (o *WriterOutput) Close() error {
	if c, ok := o.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
