package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Expirer interface {
	Execute(ctx context.Context) (int, error)
}

// Worker is the housekeeping loop: it returns lapsed seat locks to sale and
// expires bookings whose hold ran out.
type Worker struct {
	locks    Sweeper
	bookings Expirer
	interval time.Duration
	log      *slog.Logger
}

func New(locks Sweeper, bookings Expirer, interval time.Duration, log *slog.Logger) *Worker {
	return &Worker{
		locks:    locks,
		bookings: bookings,
		interval: interval,
		log:      log,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("housekeeping worker started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	// bookings first so their seats are released with a reason on record
	expired, err := w.bookings.Execute(ctx)
	if err != nil {
		w.log.Error("expire bookings", "error", err)
	}
	swept, err := w.locks.Sweep(ctx)
	if err != nil {
		w.log.Error("sweep seat locks", "error", err)
	}
	if expired > 0 || swept > 0 {
		w.log.Info("housekeeping", "bookings_expired", expired, "seats_released", swept)
	}
}

// ServeMetrics exposes /metrics on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server failed", "error", err)
	}
}
