package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

var (
	// ErrInputCancelled is returned when a read is abandoned because ctx was cancelled.
	ErrInputCancelled = errors.New("input canceled")
	// ErrInputClosed is returned when the input stream ends mid-review.
	ErrInputClosed = errors.New("input closed")
)

// LineReader reads operator input without blocking past context cancellation.
type LineReader struct {
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReader(r)}
}

// ReadLine returns the next trimmed line. A final line without a newline is still returned;
// an exhausted stream yields ErrInputClosed.
func (r *LineReader) ReadLine(ctx context.Context) (string, error) {
	type result struct {
		err   error
		value string
	}
	resultCh := make(chan result, 1)

	// The read cannot be interrupted; on cancellation the goroutine finishes on its own.
	go func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		value, err := r.reader.ReadString('\n')
		resultCh <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ErrInputCancelled
	case res := <-resultCh:
		if errors.Is(res.err, io.EOF) {
			if strings.TrimSpace(res.value) == "" {
				return "", ErrInputClosed
			}
			return strings.TrimSpace(res.value), nil
		}
		if res.err != nil {
			return "", res.err
		}
		return strings.TrimSpace(res.value), nil
	}
}
