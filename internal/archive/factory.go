package archive

import (
	"context"
	"fmt"

	"github.com/praxisllmlab/copydesk/internal/config"
)

// NewFromConfig builds the configured sink. An empty type disables
// archiving and returns a nil Sink.
func NewFromConfig(ctx context.Context, cfg config.ArchiveConfig) (Sink, error) {
	var (
		sink Sink
		err  error
	)
	switch cfg.Type {
	case "":
		return nil, nil
	case "s3":
		var s *S3Sink
		s, err = NewS3Sink(ctx, cfg.Bucket, cfg.Region)
		sink = s
	case "gcs":
		var s *GCSSink
		s, err = NewGCSSink(ctx, cfg.Bucket)
		sink = s
	case "azure_blob":
		var s *AzureBlobSink
		s, err = NewAzureBlobSink(cfg.AccountURL, cfg.Bucket)
		sink = s
	case "disk":
		var s *DiskSink
		s, err = NewDiskSink(cfg.Dir)
		sink = s
	default:
		return nil, fmt.Errorf("unknown archive type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return sink, nil
}
