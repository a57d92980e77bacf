package httpclient

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/ubuntu/eofetch/internal/eodata"
)

// ErrReadTimeout is returned when a response body delivers no data for longer than the read timeout.
var ErrReadTimeout = errors.New("no data received within the read timeout")

// idleBody aborts its request when no data arrives for timeout. Every read that returns data
// restarts the timer.
type idleBody struct {
	io.ReadCloser

	url     string
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	expired atomic.Bool
}

func newIdleBody(body io.ReadCloser, url string, timeout time.Duration, cancel context.CancelFunc) *idleBody {
	b := &idleBody{ReadCloser: body, url: url, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() {
			b.expired.Store(true)
			cancel()
		})
	}
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if b.expired.Load() {
		return n, &eodata.TransportError{Op: "read", URL: b.url, Err: ErrReadTimeout}
	}
	if n > 0 && b.timer != nil {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
