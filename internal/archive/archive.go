// Package archive copies a batch's export into object storage so the
// generated copy outlives the backend's retention window.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/logs"
	"github.com/praxisllmlab/copydesk/internal/model"
)

var ErrNothingToArchive = errors.New("batch has no successful items to archive")

// Sink writes one object. Location is a URL-like reference to the stored
// object, e.g. s3://bucket/key.
type Sink interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (location string, err error)
	Name() string
}

// Exporter streams the backend's export for a set of content ids.
type Exporter interface {
	FetchExport(ctx context.Context, req model.ExportRequest) (io.ReadCloser, string, error)
}

// Result describes a stored export.
type Result struct {
	Key      string `json:"key"`
	Location string `json:"location"`
	Items    int    `json:"items"`
}

// Archiver fetches exports and stores them in a Sink.
type Archiver struct {
	exporter Exporter
	sink     Sink
	prefix   string
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewArchiver(e Exporter, s Sink, prefix string, log *zap.SugaredLogger) *Archiver {
	return &Archiver{
		exporter: e,
		sink:     s,
		prefix:   strings.Trim(prefix, "/"),
		log:      logs.OrNop(log),
		now:      time.Now,
	}
}

// Archive stores the export of req under prefix/<session>/<task>.csv.
// Sync batches have no task id and are named by UTC timestamp instead.
func (a *Archiver) Archive(ctx context.Context, sessionKey, taskID string, req model.ExportRequest) (Result, error) {
	if len(req.ContentIDs) == 0 {
		return Result{}, ErrNothingToArchive
	}

	body, contentType, err := a.exporter.FetchExport(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("archive: %w", err)
	}
	defer body.Close()

	key := a.objectKey(sessionKey, taskID)
	location, err := a.sink.Put(ctx, key, body, contentType)
	if err != nil {
		return Result{}, fmt.Errorf("archive: upload to %s: %w", a.sink.Name(), err)
	}

	a.log.Infof("archive: stored %d items for session=%s at %s", len(req.ContentIDs), sessionKey, location)
	return Result{Key: key, Location: location, Items: len(req.ContentIDs)}, nil
}

var keyReplacer = strings.NewReplacer("/", "_", "\\", "_", "..", "_")

func (a *Archiver) objectKey(sessionKey, taskID string) string {
	name := taskID
	if name == "" {
		name = a.now().UTC().Format("20060102T150405Z")
	}
	return path.Join(a.prefix, keyReplacer.Replace(sessionKey), keyReplacer.Replace(name)+".csv")
}

// SinkName reports which sink exports go to.
func (a *Archiver) SinkName() string { return a.sink.Name() }
