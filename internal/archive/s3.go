package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Sink writes exports to AWS S3.
type S3Sink struct {
	client *s3.Client
	bucket string
}

// NewS3Sink loads the default AWS credential chain.
func NewS3Sink(ctx context.Context, bucket, region string) (*S3Sink, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 sink: aws config: %w", err)
	}
	return &S3Sink{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (s *S3Sink) Name() string { return "s3" }

// Put buffers the export: PutObject needs a seekable body to sign it.
func (s *S3Sink) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("s3 read export: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
