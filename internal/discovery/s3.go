package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ubuntu/eofetch/internal/eodata"
)

// S3Lister lists a bucket through the S3 API.
type S3Lister struct {
	client        *s3.Client
	bucket        string
	requesterPays bool
}

type s3Options struct {
	region        string
	endpoint      string
	accessKey     string
	secretKey     string
	anonymous     bool
	requesterPays bool
	maxAttempts   int
}

// S3Options represents an optional function to override S3Lister default values.
type S3Options func(*s3Options)

// WithRegion sets the region of the bucket.
func WithRegion(region string) S3Options {
	return func(o *s3Options) {
		o.region = region
	}
}

// WithEndpoint sets a custom S3 endpoint, addressed in path style.
func WithEndpoint(endpoint string) S3Options {
	return func(o *s3Options) {
		o.endpoint = endpoint
	}
}

// WithStaticCredentials authenticates with the given access key pair instead of the default chain.
func WithStaticCredentials(accessKey, secretKey string) S3Options {
	return func(o *s3Options) {
		o.accessKey = accessKey
		o.secretKey = secretKey
	}
}

// WithAnonymous sends unsigned requests, for public buckets.
func WithAnonymous() S3Options {
	return func(o *s3Options) {
		o.anonymous = true
	}
}

// WithRequesterPays acknowledges that the requester is charged for the bucket transfers.
func WithRequesterPays() S3Options {
	return func(o *s3Options) {
		o.requesterPays = true
	}
}

// WithMaxAttempts sets the number of attempts made by the S3 client for each call.
func WithMaxAttempts(n int) S3Options {
	return func(o *s3Options) {
		o.maxAttempts = n
	}
}

// NewS3Lister returns a lister for bucket.
func NewS3Lister(ctx context.Context, bucket string, args ...S3Options) (*S3Lister, error) {
	opts := s3Options{
		region:      "eu-central-1",
		maxAttempts: 3,
	}
	for _, opt := range args {
		opt(&opts)
	}

	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.region),
		awsconfig.WithRetryMaxAttempts(opts.maxAttempts),
	}
	switch {
	case opts.anonymous:
		optFns = append(optFns, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case opts.accessKey != "" && opts.secretKey != "":
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.accessKey, opts.secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %v", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.endpoint != "" {
			o.BaseEndpoint = aws.String(opts.endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Lister{
		client:        client,
		bucket:        bucket,
		requesterPays: opts.requesterPays,
	}, nil
}

// ListPrefixes returns the common prefixes under prefix, across all result pages.
func (l *S3Lister) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(l.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	if l.requesterPays {
		input.RequestPayer = s3types.RequestPayerRequester
	}

	var prefixes []string
	paginator := s3.NewListObjectsV2Paginator(l.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &eodata.TransportError{Op: "ListObjectsV2", URL: "s3://" + l.bucket + "/" + prefix, Err: err}
		}
		for _, p := range page.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(p.Prefix))
		}
	}
	return prefixes, nil
}

// Get returns the content of key.
func (l *S3Lister) Get(ctx context.Context, key string) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	}
	if l.requesterPays {
		input.RequestPayer = s3types.RequestPayerRequester
	}

	out, err := l.client.GetObject(ctx, input)
	if err != nil {
		var nsk *s3types.NoSuchKey
		var nf *s3types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: s3://%s/%s", eodata.ErrNotFound, l.bucket, key)
		}
		return nil, &eodata.TransportError{Op: "GetObject", URL: "s3://" + l.bucket + "/" + key, Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &eodata.TransportError{Op: "read", URL: "s3://" + l.bucket + "/" + key, Err: err}
	}
	return data, nil
}
