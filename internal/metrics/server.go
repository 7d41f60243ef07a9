package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/logs"
)

// NormalizeAddr prefixes a bare port with ":".
func NormalizeAddr(port string) string {
	if port != "" && port[0] != ':' {
		return ":" + port
	}
	return port
}

// ListenAndServe starts a dedicated HTTP server for Prometheus metrics on
// addr. The server shuts down gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, log *zap.SugaredLogger) error {
	log = logs.OrNop(log)
	addr = NormalizeAddr(addr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("metrics: shutdown error: %v", err)
		}
	}()

	log.Infof("metrics: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
