package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the subset of the S3 client used here.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores photos in a bucket.
type S3 struct {
	client    PutObjectAPI
	bucket    string
	region    string
	publicURL string
}

// NewS3 builds a store from the default AWS credential chain. When publicURL
// is empty, virtual-hosted style URLs are returned.
func NewS3(ctx context.Context, bucket, publicURL string) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3: bucket required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load config: %w", err)
	}
	return NewS3WithClient(s3.NewFromConfig(cfg), bucket, cfg.Region, publicURL), nil
}

// NewS3WithClient wires an existing client.
func NewS3WithClient(client PutObjectAPI, bucket, region, publicURL string) *S3 {
	return &S3{client: client, bucket: bucket, region: region, publicURL: strings.TrimRight(publicURL, "/")}
}

func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3: failed to put object %s in bucket %s: %w", key, s.bucket, err)
	}
	return s.URL(key), nil
}

// URL returns the fetchable location of key.
func (s *S3) URL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if s.publicURL != "" {
		return s.publicURL + "/" + escaped
	}
	if s.region == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
}
