package mcpgateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// stdioMaxLineSize bounds a single newline-delimited message from a backend.
const stdioMaxLineSize = 4 * 1024 * 1024

// StdioTransport carries newline-delimited JSON messages over a byte stream
// pair, typically the stdin/stdout pipes of a backend child process. Each
// message is one line; the backend must not emit raw newlines inside a
// message, which encoding/json guarantees for its own output.
type StdioTransport struct {
	writer io.Writer
	closer io.Closer

	writeMu sync.Mutex

	lines   chan []byte
	readErr error

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStdioTransport wraps a reader/writer pair as a Transport. closer, when
// non-nil, is closed on Close; pass the process's stdin pipe so the backend
// sees EOF and exits.
func NewStdioTransport(r io.Reader, w io.Writer, closer io.Closer) *StdioTransport {
	t := &StdioTransport{
		writer: w,
		closer: closer,
		lines:  make(chan []byte),
		closed: make(chan struct{}),
	}
	go t.readLines(r)
	return t
}

// readLines is the single reader of the stream. Scanning cannot be cancelled
// mid-read, so it runs detached and Receive stays select-based.
func (t *StdioTransport) readLines(r io.Reader) {
	defer close(t.lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), stdioMaxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		buf := make([]byte, len(line))
		copy(buf, line)

		select {
		case t.lines <- buf:
		case <-t.closed:
			return
		}
	}
	t.readErr = scanner.Err()
}

// Send writes one message as a single line.
func (t *StdioTransport) Send(ctx context.Context, payload []byte) error {
	select {
	case <-t.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(payload); err != nil {
		return fmt.Errorf("writing message to backend: %w", err)
	}
	if _, err := t.writer.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("writing message delimiter to backend: %w", err)
	}
	return nil
}

// Receive returns the next message, io.EOF once the stream ends or the
// transport is closed, or the stream's read error.
func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case line, ok := <-t.lines:
		if !ok {
			if t.readErr != nil {
				return nil, fmt.Errorf("reading message from backend: %w", t.readErr)
			}
			return nil, io.EOF
		}
		return line, nil
	case <-t.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears the stream down.
func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.closer != nil {
			err = t.closer.Close()
		}
	})
	return err
}
