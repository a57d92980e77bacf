// Package downloads runs download tasks in one bounded pool per provider.
//
// Callers of QueueDownload block until their own task ends, while the pool keeps serving other callers
// up to its size. Queued items are persisted through a Store so that downloads interrupted by a crash
// can be restored on the next start.
package downloads

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ubuntu/decorate"
	"github.com/ubuntu/eofetch/internal/config"
)

var (
	// ErrAlreadyQueued is returned when an item with the same id is already queued or running.
	ErrAlreadyQueued = errors.New("download already queued")
	// ErrUnknownProvider is returned for a provider without pool.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrInvalidConcurrency is returned when a pool size is outside [1, maxConnections].
	ErrInvalidConcurrency = errors.New("invalid concurrency")
)

// Download results, used as metric labels.
const (
	resultSuccess   = "success"
	resultFailure   = "failure"
	resultCancelled = "cancelled"
)

// ProviderSource gives the provider configuration and notifies its changes.
type ProviderSource interface {
	Providers() []config.Provider
	SerializeDownloads() bool
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
}

// Task is the work of one queued item.
type Task func(ctx context.Context) error

// RestoreFunc rebuilds the task of an item restored from the store.
type RestoreFunc func(ctx context.Context, item Item) (Task, error)

type pool struct {
	sem *semaphore
	// maxConnections is the provider advertised maximum, configured the requested size.
	maxConnections int
	configured     int
	removed        bool

	// entry is the provider configuration the pool was last synced with. A size set through
	// SetConcurrentDownloads is kept until the entry changes.
	entry      poolEntry
	overridden bool
}

type poolEntry struct {
	size           int
	maxConnections int
}

type tracked struct {
	cancel context.CancelFunc
}

// Manager runs the download pools.
type Manager struct {
	cfg   ProviderSource
	store Store
	log   *slog.Logger

	debounce time.Duration

	mu        sync.Mutex
	pools     map[string]*pool
	tasks     map[string]tracked
	serialize bool

	restored sync.WaitGroup

	active   *prometheus.GaugeVec
	queued   *prometheus.GaugeVec
	total    *prometheus.CounterVec
	poolSize *prometheus.GaugeVec
}

type options struct {
	logger   *slog.Logger
	debounce time.Duration
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// WithLogger sets the logger of the manager.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// WithDebounce sets how long to wait after a configuration change before resizing the pools.
func WithDebounce(d time.Duration) Options {
	return func(o *options) {
		o.debounce = d
	}
}

// New creates one pool per provider of cfg. store may be nil, in which case nothing is persisted.
func New(cfg ProviderSource, store Store, reg prometheus.Registerer, args ...Options) (*Manager, error) {
	opts := options{
		logger:   slog.Default(),
		debounce: time.Second,
	}
	for _, opt := range args {
		opt(&opts)
	}

	m := &Manager{
		cfg:      cfg,
		store:    store,
		log:      opts.logger,
		debounce: opts.debounce,
		pools:    make(map[string]*pool),
		tasks:    make(map[string]tracked),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eofetch_downloads_active",
			Help: "Number of running downloads per provider.",
		}, []string{"provider"}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eofetch_downloads_queued",
			Help: "Number of downloads waiting for a slot per provider.",
		}, []string{"provider"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eofetch_downloads_total",
			Help: "Number of ended downloads per provider and result.",
		}, []string{"provider", "result"}),
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eofetch_pool_size",
			Help: "Number of parallel downloads allowed per provider.",
		}, []string{"provider"}),
	}

	for _, c := range []prometheus.Collector{m.active, m.queued, m.total, m.poolSize} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register download metrics: %v", err)
		}
	}

	m.syncPools()
	return m, nil
}

func taskKey(provider, id string) string {
	return provider + "/" + id
}

// QueueDownload runs task in the pool of item's provider and blocks until it ends.
//
// The item is persisted while queued and running, and is always removed afterwards. The error of the
// task is returned. A task whose context is cancelled before it gets a slot never runs.
func (m *Manager) QueueDownload(ctx context.Context, item Item, task Task) (err error) {
	if item.ID == "" {
		item.ID = ItemID(item.ProductIDs, item.ProviderID, item.Destination)
	}
	defer decorate.OnError(&err, "download %s", item.ID)

	done, err := m.Submit(ctx, item, task)
	if err != nil {
		return err
	}
	return <-done
}

// Submit admits item like QueueDownload, but returns as soon as the item is queued. The returned
// channel receives the task error once it ended.
//
// Admission errors, such as an unknown provider or an item already in flight, are returned directly.
func (m *Manager) Submit(ctx context.Context, item Item, task Task) (<-chan error, error) {
	if item.ID == "" {
		item.ID = ItemID(item.ProductIDs, item.ProviderID, item.Destination)
	}
	key := taskKey(item.ProviderID, item.ID)

	m.mu.Lock()
	p, ok := m.pools[item.ProviderID]
	if !ok || p.removed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, item.ProviderID)
	}
	if _, ok := m.tasks[key]; ok {
		m.mu.Unlock()
		return nil, ErrAlreadyQueued
	}
	taskCtx, cancel := context.WithCancel(ctx)
	m.tasks[key] = tracked{cancel: cancel}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Save(ctx, item); err != nil {
			cancel()
			m.forget(item, key)
			return nil, fmt.Errorf("could not persist queue item: %v", err)
		}
	}

	// Counted before returning, so that the caller observes the item in Status.
	m.queued.WithLabelValues(item.ProviderID).Inc()
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- m.execute(taskCtx, p, item, key, task)
	}()
	return done, nil
}

// execute waits for a slot of p, then runs task.
func (m *Manager) execute(ctx context.Context, p *pool, item Item, key string, task Task) (err error) {
	defer m.forget(item, key)

	err = p.sem.acquire(ctx)
	m.queued.WithLabelValues(item.ProviderID).Dec()
	if err != nil {
		m.log.Info("Download cancelled before start", "provider", item.ProviderID, "id", item.ID)
		m.total.WithLabelValues(item.ProviderID, resultCancelled).Inc()
		return err
	}

	m.active.WithLabelValues(item.ProviderID).Inc()
	m.log.Debug("Download started", "provider", item.ProviderID, "id", item.ID)
	err = task(ctx)
	p.sem.release()
	m.active.WithLabelValues(item.ProviderID).Dec()

	switch {
	case err == nil:
		m.total.WithLabelValues(item.ProviderID, resultSuccess).Inc()
	case errors.Is(err, context.Canceled):
		m.total.WithLabelValues(item.ProviderID, resultCancelled).Inc()
	default:
		m.total.WithLabelValues(item.ProviderID, resultFailure).Inc()
	}
	return err
}

// forget removes the persisted and in memory state of an item, and drops its pool once drained if the
// provider was removed from the configuration.
func (m *Manager) forget(item Item, key string) {
	if m.store != nil {
		// The caller context may be done already.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := m.store.Remove(ctx, item.ID); err != nil {
			m.log.Warn("Could not remove persisted queue item", "id", item.ID, "error", err)
		}
		cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, key)
	if p, ok := m.pools[item.ProviderID]; ok && p.removed {
		if _, active, waiting := p.sem.counts(); active+waiting == 0 {
			m.dropPool(item.ProviderID)
		}
	}
}

// CancelDownload calls cancel, when not nil, to stop the transfer of an item, then cancels its task.
// It returns false when no task is tracked for the item.
func (m *Manager) CancelDownload(provider, id string, cancel func()) bool {
	if cancel != nil {
		cancel()
	}

	m.mu.Lock()
	t, ok := m.tasks[taskKey(provider, id)]
	m.mu.Unlock()
	if !ok {
		m.log.Info("No download to cancel", "provider", provider, "id", id)
		return false
	}
	t.cancel()
	return true
}

// SetConcurrentDownloads resizes the pool of provider to n parallel downloads.
func (m *Manager) SetConcurrentDownloads(provider string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[provider]
	if !ok || p.removed {
		return fmt.Errorf("%w %q", ErrUnknownProvider, provider)
	}
	if n < 1 || n > p.maxConnections {
		return fmt.Errorf("%w: %d is not within [1, %d] for %q", ErrInvalidConcurrency, n, p.maxConnections, provider)
	}

	p.configured = n
	p.overridden = true
	m.applySize(provider, p)
	return nil
}

// applySize resizes p to its configured size, or 1 when downloads are serialized. m.mu must be held.
func (m *Manager) applySize(provider string, p *pool) {
	n := p.configured
	if m.serialize {
		n = 1
	}
	if size, _, _ := p.sem.counts(); size != n {
		m.log.Info("Resizing download pool", "provider", provider, "size", n)
	}
	p.sem.resize(n)
	m.poolSize.WithLabelValues(provider).Set(float64(n))
}

// dropPool deletes a pool and its metrics. m.mu must be held.
func (m *Manager) dropPool(provider string) {
	m.log.Info("Closing download pool", "provider", provider)
	delete(m.pools, provider)
	m.active.DeleteLabelValues(provider)
	m.queued.DeleteLabelValues(provider)
	m.poolSize.DeleteLabelValues(provider)
}

// syncPools creates, resizes and removes pools to match the configuration.
func (m *Manager) syncPools() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.serialize = m.cfg.SerializeDownloads()
	seen := make(map[string]bool)
	for _, c := range m.cfg.Providers() {
		seen[c.ID] = true
		p, ok := m.pools[c.ID]
		if !ok {
			m.log.Info("Creating download pool", "provider", c.ID)
			p = &pool{sem: newSemaphore(0)}
			m.pools[c.ID] = p
		}
		p.removed = false
		entry := poolEntry{size: max(c.PoolSize(), 1), maxConnections: max(c.MaxConnections, 1)}
		if p.overridden && entry == p.entry {
			m.log.Debug("Keeping pool size set at runtime", "provider", c.ID, "size", p.configured)
		} else {
			p.configured = entry.size
			p.overridden = false
		}
		p.entry = entry
		p.maxConnections = entry.maxConnections
		m.applySize(c.ID, p)
	}

	for id, p := range m.pools {
		if seen[id] {
			continue
		}
		p.removed = true
		if _, active, waiting := p.sem.counts(); active+waiting == 0 {
			m.dropPool(id)
		}
	}
}

// ProviderStatus is the state of one pool.
type ProviderStatus struct {
	Provider string `json:"provider"`
	Size     int    `json:"size"`
	Active   int    `json:"active"`
	Queued   int    `json:"queued"`
}

// Status is the state of every pool, sorted by provider, with aggregate counts.
type Status struct {
	Providers []ProviderStatus `json:"providers"`
	Active    int              `json:"active"`
	Queued    int              `json:"queued"`
}

// Status returns the current state of the pools.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Status
	for id, p := range m.pools {
		size, active, waiting := p.sem.counts()
		s.Providers = append(s.Providers, ProviderStatus{Provider: id, Size: size, Active: active, Queued: waiting})
		s.Active += active
		s.Queued += waiting
	}
	slices.SortFunc(s.Providers, func(a, b ProviderStatus) int { return cmp.Compare(a.Provider, b.Provider) })
	return s
}

// Restore requeues the items left in the store by a previous run. Each item runs in its own goroutine
// with the task returned by run. Items which cannot be rebuilt are removed from the store.
func (m *Manager) Restore(ctx context.Context, run RestoreFunc) (err error) {
	defer decorate.OnError(&err, "could not restore downloads")

	if m.store == nil {
		return nil
	}
	items, err := m.store.Restore(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		task, err := run(ctx, item)
		if err != nil {
			m.log.Warn("Dropping queue item which cannot be restored", "id", item.ID, "error", err)
			if err := m.store.Remove(ctx, item.ID); err != nil {
				m.log.Warn("Could not remove persisted queue item", "id", item.ID, "error", err)
			}
			continue
		}

		m.log.Info("Restoring download", "provider", item.ProviderID, "id", item.ID)
		m.restored.Add(1)
		go func() {
			defer m.restored.Done()
			if err := m.QueueDownload(ctx, item, task); err != nil {
				m.log.Warn("Restored download failed", "provider", item.ProviderID, "id", item.ID, "error", err)
			}
		}()
	}
	return nil
}

// Wait blocks until every restored download has ended.
func (m *Manager) Wait() {
	m.restored.Wait()
}

// Run watches the provider configuration and applies its changes to the pools.
//
// This is blocking until an error occurs or the context is canceled and restored downloads are done.
//
// Always returns a non-nil error, which is either a context error or a watch error.
func (m *Manager) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloadEventCh, cfgWatchErrCh, err := m.cfg.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watch configuration: %v", err)
	}
	m.syncPools()

	// Debounce timer for handling bursts of events
	debounceTimer := time.NewTimer(m.debounce)
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Context canceled, stopping download manager")
			m.restored.Wait()
			return ctx.Err()

		case _, ok := <-reloadEventCh:
			if !ok {
				return errors.New("reloadEventCh closed unexpectedly")
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(m.debounce)

		case <-debounceTimer.C:
			m.log.Debug("Resyncing download pools")
			m.syncPools()

		case err, ok := <-cfgWatchErrCh:
			if !ok {
				return errors.New("cfgWatchErrCh closed unexpectedly")
			}
			if err != nil {
				m.log.Error("Configuration watcher error", "err", err)
			}
		}
	}
}
