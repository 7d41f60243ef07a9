package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisllmlab/copydesk/internal/backend"
	"github.com/praxisllmlab/copydesk/internal/config"
	"github.com/praxisllmlab/copydesk/internal/model"
)

type memSink struct {
	objects map[string]string
	types   map[string]string
	err     error
}

func newMemSink() *memSink {
	return &memSink{objects: map[string]string{}, types: map[string]string{}}
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) Put(_ context.Context, key string, r io.Reader, contentType string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.objects[key] = string(data)
	m.types[key] = contentType
	return "mem://" + key, nil
}

func newExportServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/content/export" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = io.WriteString(w, "id,title\n"+strings.ReplaceAll(r.URL.Query().Get("ids"), ",", ",x\n")+",x\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestArchiver_Archive(t *testing.T) {
	srv := newExportServer(t)
	sink := newMemSink()
	a := NewArchiver(backend.New(srv.URL, "sk-test"), sink, "/exports/", nil)

	res, err := a.Archive(context.Background(), "alice", "t1", model.ExportRequest{ContentIDs: []string{"c1", "c2"}})
	require.NoError(t, err)

	assert.Equal(t, "exports/alice/t1.csv", res.Key)
	assert.Equal(t, "mem://exports/alice/t1.csv", res.Location)
	assert.Equal(t, 2, res.Items)
	assert.Equal(t, "id,title\nc1,x\nc2,x\n", sink.objects[res.Key])
	assert.Equal(t, "text/csv; charset=utf-8", sink.types[res.Key])
}

func TestArchiver_SyncBatchKeyUsesTimestamp(t *testing.T) {
	srv := newExportServer(t)
	sink := newMemSink()
	a := NewArchiver(backend.New(srv.URL, "sk-test"), sink, "", nil)
	a.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CST", 8*3600)) }

	res, err := a.Archive(context.Background(), "team/alice", "", model.ExportRequest{ContentIDs: []string{"c1"}})
	require.NoError(t, err)
	assert.Equal(t, "team_alice/20260301T013000Z.csv", res.Key)
}

func TestArchiver_Errors(t *testing.T) {
	srv := newExportServer(t)

	t.Run("no ids", func(t *testing.T) {
		a := NewArchiver(backend.New(srv.URL, "sk-test"), newMemSink(), "", nil)
		_, err := a.Archive(context.Background(), "alice", "t1", model.ExportRequest{})
		assert.ErrorIs(t, err, ErrNothingToArchive)
	})

	t.Run("sink failure", func(t *testing.T) {
		sink := newMemSink()
		sink.err = errors.New("access denied")
		a := NewArchiver(backend.New(srv.URL, "sk-test"), sink, "", nil)
		_, err := a.Archive(context.Background(), "alice", "t1", model.ExportRequest{ContentIDs: []string{"c1"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upload to mem")
		assert.Contains(t, err.Error(), "access denied")
	})

	t.Run("backend failure", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"message":"no such content","type":"not_found"}}`)
		}))
		defer failing.Close()
		a := NewArchiver(backend.New(failing.URL, "sk-test"), newMemSink(), "", nil)
		_, err := a.Archive(context.Background(), "alice", "t1", model.ExportRequest{ContentIDs: []string{"c1"}})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestDiskSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDiskSink(dir)
	require.NoError(t, err)

	loc, err := sink.Put(context.Background(), "exports/alice/t1.csv", strings.NewReader("id\nc1\n"), "text/csv")
	require.NoError(t, err)

	path := filepath.Join(dir, "exports", "alice", "t1.csv")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id\nc1\n", string(data))
	assert.True(t, strings.HasPrefix(loc, "file://"))
	assert.True(t, strings.HasSuffix(loc, "exports/alice/t1.csv"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")

	_, err = sink.Put(context.Background(), "../outside.csv", strings.NewReader("x"), "text/csv")
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	sink, err := NewFromConfig(context.Background(), config.ArchiveConfig{})
	require.NoError(t, err)
	assert.Nil(t, sink)

	sink, err = NewFromConfig(context.Background(), config.ArchiveConfig{Type: "disk", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "disk", sink.Name())

	_, err = NewFromConfig(context.Background(), config.ArchiveConfig{Type: "ftp"})
	assert.Error(t, err)
}
