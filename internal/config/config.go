// Package config provides the provider configuration manager, which loads and watches a YAML file
// describing the data sources downloads are made from.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ubuntu/eofetch/internal/product"
	"gopkg.in/yaml.v3"
)

// Provider kinds.
const (
	KindSciHub = "scihub"
	KindPEPS   = "peps"
	KindAWS    = "aws"
)

// Provider is the configuration of one data source.
type Provider struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`
	// BaseURL is the catalog endpoint, or the bucket URL for AWS sources.
	BaseURL string `yaml:"baseURL"`
	// MaxConnections is the number of parallel downloads the provider allows.
	MaxConnections int `yaml:"maxConnections"`
	// Concurrency is the configured number of parallel downloads. 0 means MaxConnections.
	Concurrency  int               `yaml:"concurrency"`
	FetchMode    product.FetchMode `yaml:"fetchMode"`
	LocalArchive string            `yaml:"localArchive"`
	Sensors      []string          `yaml:"sensors"`

	// Bucket, Region and RequesterPays configure S3 listing of AWS sources.
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	RequesterPays bool   `yaml:"requesterPays"`
}

// PoolSize returns the number of parallel downloads to run for the provider.
func (p Provider) PoolSize() int {
	if p.Concurrency <= 0 {
		return p.MaxConnections
	}
	return min(p.Concurrency, p.MaxConnections)
}

// Conf represents the configuration structure.
type Conf struct {
	// SerializeDownloads runs at most one download per provider.
	SerializeDownloads bool       `yaml:"serializeDownloads"`
	Providers          []Provider `yaml:"providers"`
}

// Manager is a struct that manages the configuration.
type Manager struct {
	config     Conf
	lock       sync.RWMutex
	configPath string
	debounce   time.Duration

	log *slog.Logger
}

type options struct {
	Logger   *slog.Logger
	Debounce time.Duration
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// WithLogger is an option to set the logger for the Manager.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.Logger = l
	}
}

// WithDebounce sets how long the file must stay unchanged before a reload.
func WithDebounce(d time.Duration) Options {
	return func(o *options) {
		o.Debounce = d
	}
}

// New creates a new configuration manager with the specified path.
func New(path string, args ...Options) *Manager {
	opts := options{
		Logger:   slog.Default(),
		Debounce: 200 * time.Millisecond,
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{
		configPath: filepath.Clean(path),
		debounce:   opts.Debounce,
		log:        opts.Logger,
	}
}

// Load reads the configuration from the specified file and updates the internal state.
// The previous configuration is kept when the file is invalid.
func (cm *Manager) Load() error {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}

	var newConfig Conf
	if err := yaml.Unmarshal(data, &newConfig); err != nil {
		return fmt.Errorf("decoding config YAML: %w", err)
	}
	if err := newConfig.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	cm.lock.Lock()
	cm.config = newConfig
	cm.lock.Unlock()

	cm.log.Info("Configuration loaded", "providers", len(newConfig.Providers), "serialize", newConfig.SerializeDownloads)
	return nil
}

func (c *Conf) validate() error {
	seen := make(map[string]bool)
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.ID == "" {
			return fmt.Errorf("provider %d has no id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider %q", p.ID)
		}
		seen[p.ID] = true

		if !slices.Contains([]string{KindSciHub, KindPEPS, KindAWS}, p.Kind) {
			return fmt.Errorf("provider %q has unknown kind %q", p.ID, p.Kind)
		}
		if p.MaxConnections <= 0 {
			p.MaxConnections = 1
		}
		if p.Concurrency < 0 {
			return fmt.Errorf("provider %q has a negative concurrency", p.ID)
		}
		if p.FetchMode == "" {
			p.FetchMode = product.ModeOverwrite
		}
		if (p.FetchMode == product.ModeCopy || p.FetchMode == product.ModeSymlink) && p.LocalArchive == "" {
			return fmt.Errorf("provider %q uses fetch mode %s without a local archive", p.ID, p.FetchMode)
		}
	}
	return nil
}

// Watch starts watching the configuration file for changes.
//
// It returns two channels: one for configuration changes which result in a successful load and another for unrecoverable watcher errors.
// Bursts of file events are coalesced into a single reload.
func (cm *Manager) Watch(ctx context.Context) (changes <-chan struct{}, errs <-chan error, err error) {
	// Initial load of the configuration
	if err := cm.Load(); err != nil {
		return nil, nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	configDir := filepath.Dir(cm.configPath)
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", configDir, err)
	}

	cm.log.Info("Watching configuration directory", "dir", configDir)
	changesCh := make(chan struct{}, 1)
	errorsCh := make(chan error, 1)

	go func() {
		defer close(changesCh)
		defer close(errorsCh)
		defer watcher.Close()

		reload := time.NewTimer(time.Hour)
		reload.Stop()

		for {
			select {
			case <-ctx.Done():
				reload.Stop()
				cm.log.Info("Configuration watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					errorsCh <- errors.New("watcher events channel closed unexpectedly")
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if filepath.Clean(event.Name) != cm.configPath {
					continue
				}
				reload.Reset(cm.debounce)

			case <-reload.C:
				cm.log.Debug("Configuration file changed. Reloading...")
				if err := cm.Load(); err != nil {
					cm.log.Warn("Error reloading config", "err", err)
					continue
				}

				select {
				case changesCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- errors.New("watcher errors channel closed unexpectedly")
					return
				}
				cm.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return changesCh, errorsCh, nil
}

// Providers returns a copy of the configured providers.
func (cm *Manager) Providers() []Provider {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return slices.Clone(cm.config.Providers)
}

// Provider returns the provider with the given id.
func (cm *Manager) Provider(id string) (Provider, bool) {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	for _, p := range cm.config.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

// SerializeDownloads reports whether downloads run one at a time per provider.
func (cm *Manager) SerializeDownloads() bool {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.config.SerializeDownloads
}
