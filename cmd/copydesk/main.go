package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/archive"
	"github.com/praxisllmlab/copydesk/internal/auth"
	"github.com/praxisllmlab/copydesk/internal/backend"
	"github.com/praxisllmlab/copydesk/internal/batch"
	"github.com/praxisllmlab/copydesk/internal/cache"
	"github.com/praxisllmlab/copydesk/internal/config"
	"github.com/praxisllmlab/copydesk/internal/db"
	dbmigrate "github.com/praxisllmlab/copydesk/internal/db/migrate"
	"github.com/praxisllmlab/copydesk/internal/importer"
	"github.com/praxisllmlab/copydesk/internal/logs"
	"github.com/praxisllmlab/copydesk/internal/metrics"
	"github.com/praxisllmlab/copydesk/internal/notify"
	"github.com/praxisllmlab/copydesk/internal/scheduler"
	"github.com/praxisllmlab/copydesk/internal/secrets"
	"github.com/praxisllmlab/copydesk/internal/server"
	"github.com/praxisllmlab/copydesk/internal/server/handler"
	"github.com/praxisllmlab/copydesk/internal/server/middleware"
)

// cliSession is the session key used by headless imports.
const cliSession = "cli"

func main() {
	configPath := flag.String("config", "copydesk.yaml", "path to copydesk config YAML")
	importPath := flag.String("import", "", "run one batch from this CSV file and exit")
	wait := flag.Bool("wait", false, "with -import, poll async batches until they finish")
	issueToken := flag.String("issue-token", "", "print a dashboard JWT for this subject and exit")
	tokenRole := flag.String("role", "user", "role for -issue-token (user or admin)")
	tokenTTL := flag.Duration("ttl", 24*time.Hour, "lifetime for -issue-token")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	zl, err := logs.New(logs.Options{Level: cfg.Log.Level, Encoding: logs.Encoding(cfg.Log.Format)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()

	for _, w := range config.Warnings(cfg) {
		log.Warnf("config: %s", w)
	}

	secretCtx, cancelSecrets := context.WithTimeout(context.Background(), 30*time.Second)
	err = secrets.Load(secretCtx, cfg, log)
	cancelSecrets()
	if err != nil {
		log.Fatalf("resolve secrets: %v", err)
	}

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken, *tokenRole, *tokenTTL); err != nil {
			log.Fatalf("issue token: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := backend.New(cfg.Backend.BaseURL, cfg.Backend.APIKey, backend.WithTimeout(cfg.Backend.Timeout))
	defaults, err := cfg.DefaultGeneration()
	if err != nil {
		log.Fatalf("generation defaults: %v", err)
	}

	// DB is optional; history and cleanup are off without database_url.
	var store db.Store
	var queries *db.Queries
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("ping database: %v", err)
		}
		log.Info("database connected")

		rep, err := dbmigrate.Up(ctx, pool, log)
		if err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Infof("db: %s", rep)
		queries = db.New(pool)
		if n, err := queries.AbandonOpenBatches(ctx, "copydesk restarted before the batch finished"); err != nil {
			log.Warnf("db: abandon open batches: %v", err)
		} else if n > 0 {
			log.Infof("db: marked %d unfinished batches as failed", n)
		}
		store = queries
	}

	snapshots, err := cache.NewFromConfig(ctx, cfg.Cache)
	if err != nil {
		log.Warnf("cache: %v, using memory-only cache", err)
		snapshots = cache.NewMemoryCache()
	}
	defer closeQuietly(snapshots)

	observers := []batch.Observer{batch.NewSnapshotObserver(snapshots, cfg.Cache.TTL, log)}
	if store != nil {
		observers = append(observers, batch.NewHistoryObserver(store, log))
	}
	if !cfg.Metrics.Disabled {
		observers = append(observers, batch.NewMetricsObserver(metrics.Default()))
	}
	if cfg.Notify.Enabled() {
		sinks, err := notify.NewFromConfig(ctx, cfg.Notify)
		if err != nil {
			log.Warnf("notify: %v, notifications disabled", err)
		} else {
			notifier := notify.New(sinks, notify.Options{
				BatchSize:     cfg.Notify.BatchSize,
				FlushInterval: cfg.Notify.FlushInterval,
				ExportURL:     client.ExportURL,
				Logger:        log,
			})
			notifier.Start()
			defer notifier.Stop(context.Background())
			observers = append(observers, notifier)
			log.Infof("notify: %d sinks configured", len(sinks))
		}
	}

	manager := batch.NewManager(batch.ManagerOptions{
		Backend:       client,
		SyncThreshold: cfg.Batch.SyncThreshold,
		Poll: batch.PollOptions{
			Interval:    cfg.Batch.PollInterval,
			MaxDuration: cfg.Batch.MaxPollDuration,
			MaxErrors:   cfg.Batch.MaxPollErrors,
		},
		Defaults:  defaults,
		Observers: observers,
		Logger:    log,
	})
	defer manager.Close()

	if *importPath != "" {
		if err := runImport(ctx, manager, client, *importPath, cfg.Batch.MaxImportRows, *wait, os.Stdout); err != nil {
			log.Errorf("import: %v", err)
			manager.Close()
			os.Exit(1)
		}
		return
	}

	var archiver *archive.Archiver
	sink, err := archive.NewFromConfig(ctx, cfg.Archive)
	if err != nil {
		log.Warnf("archive: %v, archiving disabled", err)
	} else if sink != nil {
		defer closeQuietly(sink)
		archiver = archive.NewArchiver(client, sink, cfg.Archive.Prefix, log)
		log.Infof("archive: exports go to %s", sink.Name())
	}

	var housekeeping handler.Housekeeping
	if !cfg.Housekeeping.Disabled {
		var rec scheduler.Recorder
		if !cfg.Metrics.Disabled {
			rec = metrics.Default()
		}
		sched := newScheduler(cfg.Housekeeping, manager, queries, snapshots, rec, log)
		sched.Start()
		defer sched.Stop()
		housekeeping = sched
	}

	if !cfg.Metrics.Disabled {
		go func() {
			if err := metrics.ListenAndServe(ctx, cfg.Metrics.Port, log); err != nil {
				log.Errorf("metrics: %v", err)
			}
		}()
	}

	if cfg.Server.MasterKey == "" && cfg.Server.JWTSecret == "" {
		log.Warn("server: neither master_key nor jwt_secret is set, every /v1 request will be rejected")
	}
	var jwtValidator *auth.JWTValidator
	if cfg.Server.JWTSecret != "" {
		jwtValidator = auth.NewJWTValidator(auth.JWTConfig{Secret: cfg.Server.JWTSecret})
	}

	srv := server.NewServer(server.ServerConfig{
		Handlers: &handler.Handlers{
			Batches:       manager,
			Backend:       client,
			Cache:         snapshots,
			DB:            store,
			Archiver:      archiver,
			Housekeeping:  housekeeping,
			MaxImportRows: cfg.Batch.MaxImportRows,
			Log:           log,
		},
		Auth: middleware.AuthConfig{
			MasterKey:    cfg.Server.MasterKey,
			JWTValidator: jwtValidator,
			RBACEngine:   auth.NewRBACEngine(),
			Logger:       log,
		},
		Logger: zl,
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("server: shutdown error: %v", err)
		}
	}()

	log.Infof("copydesk listening on %s (backend %s)", httpSrv.Addr, cfg.Backend.BaseURL)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server: %v", err)
	}
}

// runImport runs one batch from a CSV file through the cli session and
// prints a summary to out.
func runImport(ctx context.Context, m *batch.Manager, urls handler.URLBuilder, path string, maxRows int, wait bool, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := importer.ParseCSV(f, maxRows)
	if err != nil {
		return err
	}
	norm := importer.FromRows(rows)
	for _, r := range norm.Rejected {
		fmt.Fprintf(out, "rejected row %d (%s): %s\n", r.Row, r.Name, r.Reason)
	}
	if len(norm.Items) == 0 {
		return errors.New("no valid rows to generate")
	}

	s := m.Session(cliSession)
	snap, err := s.Start(ctx, norm.Items)
	if err != nil {
		return err
	}
	if !snap.State.IsTerminal() {
		if !wait {
			fmt.Fprintf(out, "submitted async task %s with %d items; rerun with -wait to follow it\n", snap.Task.TaskID, snap.Task.Total)
			return nil
		}
		fmt.Fprintf(out, "polling task %s (%d items)...\n", snap.Task.TaskID, snap.Task.Total)
		if snap, err = s.Wait(ctx); err != nil && !snap.State.IsTerminal() {
			return err
		}
	}
	printSummary(out, snap, len(norm.Rejected), urls)
	if snap.State == batch.StateFailed {
		return fmt.Errorf("batch %s failed: %w", snap.BatchID, s.LastError())
	}
	return nil
}

func printSummary(out io.Writer, snap batch.Snapshot, rejected int, urls handler.URLBuilder) {
	fmt.Fprintf(out, "batch %s %s: %d succeeded, %d failed, %d rejected\n",
		snap.BatchID, snap.State, snap.Succeeded, snap.Failed, rejected)
	for _, r := range snap.Results {
		if !r.Success {
			fmt.Fprintf(out, "  failed %s: %s\n", r.Name, r.Error)
		}
	}
	if req := snap.ExportRequest(); len(req.ContentIDs) > 0 {
		fmt.Fprintf(out, "export: %s\n", urls.ExportURL(req))
	}
}

func printToken(cfg *config.Config, subject, roleName string, ttl time.Duration) error {
	if cfg.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is not set")
	}
	role, err := auth.ParseRole(strings.TrimSpace(roleName))
	if err != nil {
		return err
	}
	token, err := auth.NewJWTValidator(auth.JWTConfig{Secret: cfg.Server.JWTSecret}).IssueToken(subject, role, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// newScheduler registers the housekeeping jobs. History cleanup only runs
// with a database and is exclusive across replicas when the cache is
// Redis-backed.
func newScheduler(hk config.HousekeepingConfig, m *batch.Manager, queries *db.Queries, c cache.Cache, rec scheduler.Recorder, log *zap.SugaredLogger) *scheduler.Scheduler {
	opts := scheduler.Options{Logger: log, Recorder: rec}
	if rdb, ok := cache.RedisClient(c); ok {
		opts.Lock = rdb
	}
	sched := scheduler.New(opts)
	sched.Add(&scheduler.SessionSweepJob{Sessions: m, MaxIdle: hk.SessionIdleTTL, Log: log}, hk.Interval)

	if queries != nil {
		sched.Add(&scheduler.HistoryCleanupJob{DB: queries, Retention: hk.HistoryRetention, Log: log},
			hk.Interval, scheduler.AtStartup(), scheduler.Exclusive(), scheduler.Timeout(hk.Interval/2))
	}
	return sched
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
