package archive

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSSink writes exports to Google Cloud Storage.
type GCSSink struct {
	client *storage.Client
	bucket string
}

func NewGCSSink(ctx context.Context, bucket string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs sink: client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket}, nil
}

func (s *GCSSink) Name() string { return "gcs" }

func (s *GCSSink) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("gcs write: %w", err)
	}
	// Close performs the upload; its error is the upload error.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

func (s *GCSSink) Close() error {
	return s.client.Close()
}
