package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/db"
	"github.com/praxisllmlab/copydesk/internal/logs"
)

// ErrSchemaAhead means the database was migrated by a newer copydesk build
// than the one starting up.
var ErrSchemaAhead = errors.New("migrate: database schema is newer than this build")

// DirtyError reports a migration that failed half way on an earlier start.
// copydesk refuses to touch the batch tables until an operator repairs it.
type DirtyError struct {
	Version uint
}

func (e *DirtyError) Error() string {
	return fmt.Sprintf("migrate: schema version %d is dirty, fix it by hand and run `migrate force %d`", e.Version, e.Version)
}

// Report describes what a startup migration did.
type Report struct {
	From   uint // 0 on an empty database
	To     uint
	Latest uint // highest version embedded in this build
}

// Applied reports whether any migration ran.
func (r Report) Applied() bool { return r.To != r.From }

func (r Report) String() string {
	if !r.Applied() {
		return fmt.Sprintf("schema up to date at version %d", r.To)
	}
	return fmt.Sprintf("schema migrated from version %d to %d", r.From, r.To)
}

// Up brings the batch history schema to the version embedded in
// internal/db/schema.
func Up(ctx context.Context, pool *pgxpool.Pool, log *zap.SugaredLogger) (Report, error) {
	return UpFromFS(ctx, pool, db.SchemaFiles, "schema", log)
}

// UpFromFS is Up over an arbitrary migration source.
func UpFromFS(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir string, log *zap.SugaredLogger) (Report, error) {
	if pool == nil {
		return Report{}, errors.New("migrate: nil pool, database_url must be configured")
	}
	log = logs.OrNop(log)

	latest, err := LatestVersion(fsys, dir)
	if err != nil {
		return Report{}, err
	}

	src, err := iofs.New(fsys, dir)
	if err != nil {
		return Report{}, fmt.Errorf("migrate: open source: %w", err)
	}
	driver, err := pgxv5.WithInstance(stdlib.OpenDBFromPool(pool), &pgxv5.Config{})
	if err != nil {
		return Report{}, fmt.Errorf("migrate: open driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return Report{}, fmt.Errorf("migrate: init: %w", err)
	}
	m.Log = &zapLogger{log: log}

	rep := Report{Latest: latest}
	if rep.From, err = currentVersion(m); err != nil {
		return rep, err
	}
	if rep.From > latest {
		return rep, fmt.Errorf("%w: database at %d, build knows %d", ErrSchemaAhead, rep.From, latest)
	}

	// Stop between migration files when startup is interrupted.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if ctx.Err() != nil {
			return rep, fmt.Errorf("migrate: interrupted: %w", ctx.Err())
		}
		return rep, fmt.Errorf("migrate: up: %w", err)
	}
	if rep.To, err = currentVersion(m); err != nil {
		return rep, err
	}
	return rep, nil
}

// LatestVersion returns the highest migration version in fsys/dir.
func LatestVersion(fsys fs.FS, dir string) (uint, error) {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("migrate: open source: %w", err)
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("migrate: no migrations in %s: %w", dir, err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("migrate: read source: %w", err)
		}
		v = next
	}
}

func currentVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("migrate: read version: %w", err)
	case dirty:
		return v, &DirtyError{Version: v}
	}
	return v, nil
}

// zapLogger routes golang-migrate progress lines through the service logger.
type zapLogger struct {
	log *zap.SugaredLogger
}

func (l *zapLogger) Printf(format string, v ...interface{}) {
	l.log.Infof("migrate: "+format, v...)
}

func (l *zapLogger) Verbose() bool { return false }
