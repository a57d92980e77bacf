package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/httpclient"
)

// Lister enumerates a hierarchical key namespace with "/" as delimiter.
type Lister interface {
	// ListPrefixes returns the full child prefixes directly under prefix, each ending with "/".
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	// Get returns the content of key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// HTTPLister lists a public bucket through its REST interface.
type HTTPLister struct {
	client *httpclient.Client
	base   string
}

// NewHTTPLister returns a lister for the bucket served at bucketURL.
func NewHTTPLister(client *httpclient.Client, bucketURL string) (*HTTPLister, error) {
	u, err := url.Parse(bucketURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid bucket URL %q", bucketURL)
	}
	return &HTTPLister{
		client: client,
		base:   strings.TrimSuffix(u.String(), "/"),
	}, nil
}

type listBucketResult struct {
	CommonPrefixes []struct {
		Prefix string `xml:"Prefix"`
	} `xml:"CommonPrefixes"`
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
}

// ListPrefixes follows continuation tokens until the listing is complete.
func (l *HTTPLister) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	var prefixes []string
	token := ""
	for {
		q := url.Values{
			"list-type": {"2"},
			"delimiter": {"/"},
			"prefix":    {prefix},
		}
		if token != "" {
			q.Set("continuation-token", token)
		}

		data, err := l.client.GetBytes(ctx, l.base+"/", httpclient.WithQuery(q))
		if err != nil {
			return nil, err
		}

		var res listBucketResult
		if err := eodata.NewXMLDecoder(bytes.NewReader(data)).Decode(&res); err != nil {
			return nil, fmt.Errorf("%w: invalid listing of %q: %v", eodata.ErrProvider, prefix, err)
		}
		for _, p := range res.CommonPrefixes {
			prefixes = append(prefixes, p.Prefix)
		}

		if !res.IsTruncated || res.NextContinuationToken == "" {
			return prefixes, nil
		}
		token = res.NextContinuationToken
	}
}

// Get fetches key from the bucket.
func (l *HTTPLister) Get(ctx context.Context, key string) ([]byte, error) {
	return l.client.GetBytes(ctx, l.base+"/"+strings.TrimPrefix(key, "/"))
}
