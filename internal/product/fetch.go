package product

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/fileutils"
	"github.com/ubuntu/eofetch/internal/httpclient"
)

// FetchMode selects how local files and the local archive are used.
type FetchMode string

// Fetch modes.
const (
	// ModeOverwrite downloads every file, truncating any local copy.
	ModeOverwrite FetchMode = "overwrite"
	// ModeResume continues partial local files with a range request.
	ModeResume FetchMode = "resume"
	// ModeSkipExisting keeps local files which are not empty.
	ModeSkipExisting FetchMode = "skip-existing"
	// ModeCopy copies the product from the local archive, downloading it when absent.
	ModeCopy FetchMode = "copy"
	// ModeSymlink links the product from a file system archive, downloading it when absent.
	ModeSymlink FetchMode = "symlink"
)

// copyBufferSize is the size of the chunks written to disk between cancellation checks.
const copyBufferSize = 256 * 1024

// ParseFetchMode returns the fetch mode named s.
func ParseFetchMode(s string) (FetchMode, error) {
	m := FetchMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeOverwrite, ModeResume, ModeSkipExisting, ModeCopy, ModeSymlink:
		return m, nil
	case "":
		return ModeOverwrite, nil
	}
	return "", fmt.Errorf("unknown fetch mode %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *FetchMode) UnmarshalText(text []byte) error {
	v, err := ParseFetchMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// fetch downloads rawURL to local in the given mode, retrying transient failures after a jittered backoff.
func (d *Downloader) fetch(ctx context.Context, name, rawURL, local string, mode FetchMode) error {
	backoff := httpclient.NewBackoff(d.retryBackoff, d.retryMaxBackoff)
	for attempt := 1; ; attempt++ {
		err := d.fetchOnce(ctx, name, rawURL, local, mode)
		if err == nil {
			return nil
		}
		if attempt >= d.attempts || !retryable(err) || ctx.Err() != nil {
			return err
		}
		d.logger.Debug("Retrying file", "file", local, "attempt", attempt, "error", err)
		if backoff.Wait(ctx) != nil {
			return err
		}
	}
}

func (d *Downloader) fetchOnce(ctx context.Context, name, rawURL, local string, mode FetchMode) error {
	if err := os.MkdirAll(filepath.Dir(local), 0750); err != nil {
		return err
	}

	var offset int64
	switch mode {
	case ModeSkipExisting:
		if n, err := fileutils.Size(local); err == nil && n > 0 {
			d.logger.Debug("Skipping existing file", "file", local)
			return nil
		}
	case ModeResume:
		n, err := fileutils.Size(local)
		if err != nil {
			return err
		}
		offset = n
	}

	opts := []httpclient.RequestOption{httpclient.WithAttempts(1), httpclient.WithCredential(d.credential)}
	if offset > 0 {
		opts = append(opts, httpclient.WithOffset(offset))
	}
	resp, err := d.client.Get(ctx, rawURL, opts...)
	if err != nil {
		var pe *eodata.ProviderError
		if offset > 0 && errors.As(err, &pe) && pe.Status == http.StatusRequestedRangeNotSatisfiable {
			// Nothing left to fetch.
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 && resp.StatusCode == http.StatusPartialContent {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	} else {
		offset = 0
	}
	f, err := os.OpenFile(local, flags, 0640)
	if err != nil {
		return err
	}

	total := resp.ContentLength
	if total >= 0 {
		total += offset
	}
	sub := filepath.Base(local)
	_, err = fileutils.CopyContext(ctx, f, resp.Body, copyBufferSize, func(n int64) {
		d.sink.Progress(name, sub, offset+n, total)
	})
	if err != nil && ctx.Err() == nil {
		err = &eodata.TransportError{Op: "copy", URL: rawURL, Err: err}
	}
	return errors.Join(err, f.Close())
}

// retryable reports whether a file failure may succeed on a new attempt.
func retryable(err error) bool {
	if errors.Is(err, eodata.ErrTransport) {
		return true
	}
	var pe *eodata.ProviderError
	return errors.As(err, &pe) && (pe.Status >= 500 || pe.Status == http.StatusTooManyRequests)
}
