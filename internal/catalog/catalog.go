// Package catalog queries provider catalogs for products matching typed parameters.
//
// A Query paginates over a provider through a Strategy selected by provider kind and sensor,
// applies the cloud cover threshold when the provider cannot, and enforces a result limit.
package catalog

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/ubuntu/decorate"
	"github.com/ubuntu/eofetch/internal/constants"
	"github.com/ubuntu/eofetch/internal/credentials"
	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/httpclient"
)

// Getter fetches a whole response body.
type Getter interface {
	GetBytes(ctx context.Context, rawURL string, opts ...httpclient.RequestOption) ([]byte, error)
}

// Query runs catalog searches against one provider.
type Query struct {
	strategy Strategy
	client   Getter

	limit      int
	pageSize   int
	page       int
	credential credentials.Credential
	logger     *slog.Logger
}

type options struct {
	limit      int
	pageSize   int
	page       int
	credential credentials.Credential
	logger     *slog.Logger
}

// Options represents an optional function to override Query default values.
type Options func(*options)

// WithLimit sets the maximum number of records returned.
func WithLimit(limit int) Options {
	return func(o *options) {
		o.limit = limit
	}
}

// WithPageSize sets the number of records requested per page.
func WithPageSize(size int) Options {
	return func(o *options) {
		o.pageSize = size
	}
}

// WithPage only fetches the given 1-based page instead of paginating.
func WithPage(page int) Options {
	return func(o *options) {
		o.page = page
	}
}

// WithCredential authenticates every request with c.
func WithCredential(c credentials.Credential) Options {
	return func(o *options) {
		o.credential = c
	}
}

// WithLogger sets the logger of the query.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a query running strategy requests through client.
func New(strategy Strategy, client Getter, args ...Options) *Query {
	opts := options{
		limit:  constants.DefaultLimit,
		logger: slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}
	if opts.limit <= 0 {
		opts.limit = constants.DefaultLimit
	}
	if opts.pageSize <= 0 {
		opts.pageSize = min(opts.limit, constants.MaxPageSize)
	}

	return &Query{
		strategy:   strategy,
		client:     client,
		limit:      opts.limit,
		pageSize:   opts.pageSize,
		page:       opts.page,
		credential: opts.credential,
		logger:     opts.logger,
	}
}

// Execute returns at most limit records matching params, in provider order.
// Parameter errors are returned before any request is sent.
func (q *Query) Execute(ctx context.Context, params eodata.Parameters) (records []eodata.ProductRecord, err error) {
	defer decorate.OnError(&err, "%s catalog query failed", q.strategy.Sensor())

	params, err = resolve(q.strategy.Descriptors(), params)
	if err != nil {
		return nil, err
	}
	filter := q.cloudFilter(params)

	seen := make(map[string]struct{})
	// accept returns the number of records not seen on a previous page.
	accept := func(page Page) (fresh int) {
		for _, r := range page.Records {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			fresh++
			if !filter(r) {
				q.logger.Debug("Discarding product above cloud cover threshold", "product", r.Name)
				continue
			}
			records = append(records, r)
		}
		return fresh
	}

	if q.page > 0 {
		page, err := q.fetch(ctx, params, PageRequest{
			Number: q.page,
			Offset: (q.page - 1) * q.pageSize,
			Rows:   min(q.pageSize, q.limit),
			Size:   q.pageSize,
		})
		if err != nil {
			return nil, err
		}
		accept(page)
	} else {
		requested := 0
		for number := 1; len(records) < q.limit; number++ {
			rows := min(q.pageSize, q.limit-len(records))
			page, err := q.fetch(ctx, params, PageRequest{
				Number: number,
				Offset: requested,
				Rows:   rows,
				Size:   q.pageSize,
			})
			if err != nil {
				return nil, err
			}
			if len(page.Records) == 0 {
				break
			}
			requested += rows
			if accept(page) == 0 {
				q.logger.Warn("Catalog returned an already seen page, stopping pagination", "page", number)
				break
			}
		}
	}

	if len(records) > q.limit {
		records = records[:q.limit]
	}
	q.logger.Info("Catalog query completed", "sensor", q.strategy.Sensor(), "results", len(records))
	return records, nil
}

// Count returns the number of results the provider reports for params, or -1 when it does not tell.
func (q *Query) Count(ctx context.Context, params eodata.Parameters) (n int, err error) {
	defer decorate.OnError(&err, "%s catalog count failed", q.strategy.Sensor())

	params, err = resolve(q.strategy.Descriptors(), params)
	if err != nil {
		return 0, err
	}
	page, err := q.fetch(ctx, params, PageRequest{Number: 1})
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

func (q *Query) fetch(ctx context.Context, params eodata.Parameters, req PageRequest) (Page, error) {
	endpoint, values, err := q.strategy.BuildRequest(params, req)
	if err != nil {
		return Page{}, err
	}
	q.logger.Debug("Requesting catalog page", "endpoint", endpoint, "page", req.Number, "rows", req.Rows)

	body, err := q.client.GetBytes(ctx, endpoint, httpclient.WithQuery(values), httpclient.WithCredential(q.credential))
	if err != nil {
		return Page{}, err
	}
	return q.strategy.ParsePage(bytes.NewReader(body))
}

// cloudFilter returns the client side cloud cover predicate. Records without a cloud value are kept.
func (q *Query) cloudFilter(params eodata.Parameters) func(eodata.ProductRecord) bool {
	p, ok := params.Get(ParamCloudCover)
	if !ok || q.strategy.FiltersCloudCover() {
		return func(eodata.ProductRecord) bool { return true }
	}

	lo, hi, bounded := 0.0, 0.0, false
	if v, isNum := p.Value.(float64); isNum && !p.IsInterval() {
		hi, bounded = v, true
	}
	if v, isNum := p.Max.(float64); isNum {
		hi, bounded = v, true
	}
	if v, isNum := p.Min.(float64); isNum {
		lo = v
	}
	return func(r eodata.ProductRecord) bool {
		cc, known := r.CloudCover()
		if !known {
			return true
		}
		if cc < lo {
			return false
		}
		return !bounded || cc <= hi
	}
}
