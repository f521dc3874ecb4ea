package credential

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3BlobStore reads credential files from S3. A locator is either a bare
// object key in the default bucket or an s3://bucket/key URL.
type S3BlobStore struct {
	client *s3.Client
	bucket string
}

// NewS3BlobStore wraps an existing client
func NewS3BlobStore(client *s3.Client, bucket string) *S3BlobStore {
	return &S3BlobStore{client: client, bucket: bucket}
}

// NewS3BlobStoreFromEnv builds a client from the default AWS credential chain.
// A non-empty endpoint selects path-style addressing for S3-compatible stores.
func NewS3BlobStoreFromEnv(ctx context.Context, region, bucket, endpoint string) (*S3BlobStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3BlobStore(client, bucket), nil
}

// Fetch downloads one object
func (s *S3BlobStore) Fetch(ctx context.Context, locator string) ([]byte, error) {
	bucket, key := s.split(locator)
	if bucket == "" {
		return nil, fmt.Errorf("no bucket for locator %q", locator)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(EscapeKey(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *S3BlobStore) split(locator string) (string, string) {
	if rest, ok := strings.CutPrefix(locator, "s3://"); ok {
		bucket, key, _ := strings.Cut(rest, "/")
		return bucket, key
	}
	return s.bucket, strings.TrimPrefix(locator, "/")
}

// EscapeKey percent-encodes each path segment of an object key. Keys were
// stored URL-encoded, so "FIEL 2024/a b.cer" is read as "FIEL%202024/a%20b.cer".
func EscapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = strings.ReplaceAll(url.QueryEscape(seg), "+", "%20")
	}
	return strings.Join(segments, "/")
}
