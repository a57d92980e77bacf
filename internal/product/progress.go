package product

import (
	"log/slog"
	"sync"
	"time"
)

// ProgressSink receives the progress of product downloads. Implementations must be safe for concurrent use.
type ProgressSink interface {
	// Started is called once when the download of a product starts.
	Started(name string)
	// Progress reports done bytes out of total for the file sub of a product. Total is -1 when unknown.
	Progress(name, sub string, done, total int64)
	// Ended is called once when the download of a product ends, with its error if any.
	Ended(name string, err error)
}

// LogSink logs progress through slog, at most once per interval per file.
type LogSink struct {
	logger   *slog.Logger
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewLogSink returns a sink logging to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{
		logger:   logger,
		interval: 5 * time.Second,
		last:     make(map[string]time.Time),
	}
}

// Started implements ProgressSink.
func (s *LogSink) Started(name string) {
	s.logger.Info("Download started", "product", name)
}

// Progress implements ProgressSink.
func (s *LogSink) Progress(name, sub string, done, total int64) {
	key := name + "/" + sub
	s.mu.Lock()
	now := time.Now()
	if now.Sub(s.last[key]) < s.interval && done != total {
		s.mu.Unlock()
		return
	}
	s.last[key] = now
	if done == total {
		delete(s.last, key)
	}
	s.mu.Unlock()

	s.logger.Debug("Download progress", "product", name, "file", sub, "done", done, "total", total)
}

// Ended implements ProgressSink.
func (s *LogSink) Ended(name string, err error) {
	if err != nil {
		s.logger.Warn("Download failed", "product", name, "error", err)
		return
	}
	s.logger.Info("Download ended", "product", name)
}
