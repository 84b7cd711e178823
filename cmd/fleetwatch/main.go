// Command fleetwatch runs the fleet telemetry, health-scoring, and
// spatial-anomaly engine as a standalone process: it wires config,
// logging, metrics, the durable sink, the websocket fan-out bridge, and
// the ingest orchestrator together, then serves HTTP until signalled to
// stop.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/signalmesh/fleetwatch/internal/config"
	"github.com/signalmesh/fleetwatch/internal/eventbus"
	"github.com/signalmesh/fleetwatch/internal/metrics"
	"github.com/signalmesh/fleetwatch/internal/orchestrator"
	"github.com/signalmesh/fleetwatch/internal/sink"
	"github.com/signalmesh/fleetwatch/internal/sink/sqlstore"
	"github.com/signalmesh/fleetwatch/internal/sink/wsbridge"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a YAML/JSON config file (optional)")
	flag.Parse()

	cfg, v, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fleetwatch exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.Register(reg)

	store, err := sqlstore.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	bus := eventbus.NewBus(logger)
	eng := orchestrator.New(cfg, bus, m, logger)

	persister := sink.NewPersister("sqlstore", bus, sinkAdapter{store}, m, logger, cfg.SinkTimeout)
	bridge := wsbridge.New(bus, logger, cfg.WebsocketWriteDeadline, 256)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	go persister.Run(ctx)
	go bridge.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/ws", bridge)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	registerQueryRoutes(mux, eng)

	srv := &http.Server{Addr: cfg.Listen, Handler: mux}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.TaskGracePeriod)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown did not complete cleanly", zap.Error(err))
	}

	select {
	case err := <-done:
		return err
	case <-time.After(cfg.TaskGracePeriod):
		logger.Warn("periodic tasks did not stop within grace period")
		return nil
	}
}

// registerQueryRoutes exposes the engine's read surface (spec §6) as
// plain JSON endpoints; this is a reference transport, not a stable API.
func registerQueryRoutes(mux *http.ServeMux, eng *orchestrator.Engine) {
	mux.HandleFunc("/health/summary", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.HealthSummary())
	})
	mux.HandleFunc("/health/device", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("device_id")
		hs, ok := eng.DeviceHealth(id)
		if !ok {
			http.Error(w, "no data", http.StatusNotFound)
			return
		}
		writeJSON(w, hs)
	})
	mux.HandleFunc("/anomalies", func(w http.ResponseWriter, r *http.Request) {
		window := parseDuration(r.URL.Query().Get("window"), 24*time.Hour)
		writeJSON(w, eng.RecentAnomalies(time.Now().UTC(), window))
	})
	mux.HandleFunc("/regions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.Regions())
	})
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// sinkAdapter adapts *sqlstore.Store to sink.Sink (identical method set;
// kept as a named adapter so that neither the sink package nor sqlstore
// imports the other: only main depends on both).
type sinkAdapter struct{ *sqlstore.Store }

var _ sink.Sink = sinkAdapter{}
