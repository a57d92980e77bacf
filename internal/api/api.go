// Package api exposes the download manager over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/ubuntu/eofetch/internal/constants"
	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/eodata"
	"golang.org/x/time/rate"
)

// Manager is the download manager driven by the API.
type Manager interface {
	Status() downloads.Status
	Submit(ctx context.Context, item downloads.Item, task downloads.Task) (<-chan error, error)
	CancelDownload(provider, id string, cancel func()) bool
	SetConcurrentDownloads(provider string, n int) error
}

// TaskBuilder returns the task downloading the products of item.
type TaskBuilder func(item downloads.Item) (downloads.Task, error)

// API serves the download endpoints.
type API struct {
	mgr   Manager
	build TaskBuilder
	log   *slog.Logger

	monitor   func(http.Handler) http.Handler
	limiter   *clientLimiter
	maxBody   int64
	root      string
	downloads sync.WaitGroup

	// ctx is the parent of every download started through the API.
	ctx context.Context
}

type options struct {
	logger  *slog.Logger
	monitor func(http.Handler) http.Handler
	maxBody int64
	root    string

	clientRate  rate.Limit
	clientBurst int
}

// Options represents an optional function to override API default values.
type Options func(*options)

// WithLogger sets the logger of the API.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// WithMonitor instruments every route with the given middleware.
func WithMonitor(mw func(http.Handler) http.Handler) Options {
	return func(o *options) {
		o.monitor = mw
	}
}

// WithMaxBodyBytes limits the size of request bodies. Values below 1 keep the default.
func WithMaxBodyBytes(n int64) Options {
	return func(o *options) {
		if n > 0 {
			o.maxBody = n
		}
	}
}

// WithClientRateLimit limits each client IP to r requests per second, with bursts of b requests.
func WithClientRateLimit(r rate.Limit, b int) Options {
	return func(o *options) {
		o.clientRate = r
		o.clientBurst = b
	}
}

// WithDownloadRoot confines the destination and the local archive of every download under dir.
// Relative destinations are taken from dir.
func WithDownloadRoot(dir string) Options {
	return func(o *options) {
		o.root = dir
	}
}

// New returns the API of mgr. Downloads started through it stop when ctx is cancelled.
func New(ctx context.Context, mgr Manager, build TaskBuilder, args ...Options) *API {
	opts := options{
		logger:  slog.Default(),
		maxBody: 1 << 20,
	}
	for _, opt := range args {
		opt(&opts)
	}

	a := &API{
		mgr:     mgr,
		build:   build,
		log:     opts.logger,
		monitor: opts.monitor,
		maxBody: opts.maxBody,
		root:    opts.root,
		ctx:     ctx,
	}
	if a.root != "" {
		if abs, err := filepath.Abs(a.root); err == nil {
			a.root = abs
		}
	}
	if opts.clientRate > 0 {
		a.limiter = newClientLimiter(opts.clientRate, max(opts.clientBurst, 1))
	}
	return a
}

// Handler returns the router of the API.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	if a.monitor != nil {
		r.Use(a.monitor)
	}
	r.Use(middleware.Recoverer)
	if a.limiter != nil {
		r.Use(a.limiter.middleware)
	}
	r.Use(a.requestID)

	r.Get("/version", a.version)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", a.status)
		r.Get("/status/{provider}", a.providerStatus)
		r.Post("/downloads", a.queueDownload)
		r.Delete("/downloads/{provider}/{id}", a.cancelDownload)
		r.Put("/providers/{provider}/concurrency", a.setConcurrency)
	})
	return r
}

// Wait blocks until every download started through the API has ended.
func (a *API) Wait() {
	a.downloads.Wait()
}

type reqIDKey struct{}

// requestID tags each request with a unique id, returned in the X-Request-ID header.
func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), reqIDKey{}, id)))
	})
}

func reqID(r *http.Request) string {
	id, _ := r.Context().Value(reqIDKey{}).(string)
	return id
}

func (a *API) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": constants.Version})
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.mgr.Status())
}

func (a *API) providerStatus(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	for _, p := range a.mgr.Status().Providers {
		if p.Provider == provider {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", provider))
}

// DownloadRequest is the body of a download request. Products only need a name when the provider
// layout derives every location from it.
type DownloadRequest struct {
	Provider     string                 `json:"provider"`
	Products     []eodata.ProductRecord `json:"products"`
	Tiles        []string               `json:"tiles,omitempty"`
	Destination  string                 `json:"destination"`
	LocalArchive string                 `json:"localArchive,omitempty"`
}

// DownloadResponse is returned once a download is queued.
type DownloadResponse struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	RequestID string `json:"requestId"`
}

// item returns the queue item of the request. When root is set, the destination and the local archive
// must be under it.
func (r DownloadRequest) item(root string) (downloads.Item, error) {
	switch {
	case r.Provider == "":
		return downloads.Item{}, eodata.ParameterErrorf("missing provider")
	case r.Destination == "":
		return downloads.Item{}, eodata.ParameterErrorf("missing destination")
	case len(r.Products) == 0:
		return downloads.Item{}, eodata.ParameterErrorf("no product to download")
	}

	dest, err := confine(root, r.Destination)
	if err != nil {
		return downloads.Item{}, err
	}
	archive := r.LocalArchive
	if archive != "" && root != "" {
		u, err := url.Parse(archive)
		if err != nil || u.Scheme != "file" || !path.IsAbs(u.Path) {
			return downloads.Item{}, eodata.ParameterErrorf("local archive %q must be a file:// URL under the download root", archive)
		}
		dir, err := confine(root, filepath.FromSlash(u.Path))
		if err != nil {
			return downloads.Item{}, err
		}
		archive = (&url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}).String()
	}

	item := downloads.Item{
		ProviderID:   r.Provider,
		Destination:  dest,
		LocalArchive: archive,
		Tiles:        r.Tiles,
	}
	for _, p := range r.Products {
		if err := item.SetRecord(p); err != nil {
			return downloads.Item{}, err
		}
	}
	item.ID = downloads.ItemID(item.ProductIDs, item.ProviderID, item.Destination)
	return item, nil
}

// confine returns p resolved under root. Relative paths are taken from root. An empty root confines nothing.
func confine(root, p string) (string, error) {
	if root == "" {
		return p, nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || (rel != "." && !filepath.IsLocal(rel)) {
		return "", eodata.ParameterErrorf("%s is outside of the download root", p)
	}
	return p, nil
}

func (a *API) queueDownload(w http.ResponseWriter, r *http.Request) {
	id := reqID(r)

	var req DownloadRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		a.log.Warn("Invalid download request", "req_id", id, "err", err)
		return
	}

	item, err := req.item(a.root)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		a.log.Warn("Invalid download request", "req_id", id, "err", err)
		return
	}

	task, err := a.build(item)
	if err != nil {
		a.fail(w, id, err)
		return
	}

	done, err := a.mgr.Submit(a.ctx, item, task)
	if err != nil {
		a.fail(w, id, err)
		return
	}

	a.downloads.Add(1)
	go func() {
		defer a.downloads.Done()
		if err := <-done; err != nil {
			a.log.Warn("Download failed", "req_id", id, "provider", item.ProviderID, "id", item.ID, "err", err)
			return
		}
		a.log.Info("Download done", "req_id", id, "provider", item.ProviderID, "id", item.ID)
	}()

	a.log.Info("Download queued", "req_id", id, "provider", item.ProviderID, "id", item.ID, "products", len(item.ProductIDs))
	writeJSON(w, http.StatusAccepted, DownloadResponse{ID: item.ID, Provider: item.ProviderID, RequestID: id})
}

func (a *API) cancelDownload(w http.ResponseWriter, r *http.Request) {
	provider, id := chi.URLParam(r, "provider"), chi.URLParam(r, "id")
	if !a.mgr.CancelDownload(provider, id, nil) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no download %s for provider %q", id, provider))
		return
	}
	a.log.Info("Download cancelled", "req_id", reqID(r), "provider", provider, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

type concurrencyRequest struct {
	Concurrency int `json:"concurrency"`
}

func (a *API) setConcurrency(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	var req concurrencyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := a.mgr.SetConcurrentDownloads(provider, req.Concurrency); err != nil {
		a.fail(w, reqID(r), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps err to its HTTP status.
func (a *API) fail(w http.ResponseWriter, id string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, downloads.ErrUnknownProvider):
		code = http.StatusNotFound
	case errors.Is(err, downloads.ErrAlreadyQueued):
		code = http.StatusConflict
	case errors.Is(err, downloads.ErrInvalidConcurrency), errors.Is(err, eodata.ErrParameter):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		a.log.Error("Request failed", "req_id", id, "err", err)
	} else {
		a.log.Info("Request rejected", "req_id", id, "code", code, "err", err)
	}
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Could not write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
