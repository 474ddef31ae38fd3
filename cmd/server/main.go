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
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"energy_billing/internal/billing"
	"energy_billing/internal/config"
	"energy_billing/internal/ingest"
	"energy_billing/internal/logging"
	"energy_billing/internal/metrics"
	"energy_billing/internal/store"
	"energy_billing/internal/tariff"
	"energy_billing/internal/ws"
)

// maxUpload bounds a NEM12 request body.
const maxUpload = 64 << 20

func main() {
	addr := flag.String("addr", "", "listen address (overrides http_addr)")
	configPath := flag.String("config", "", "config file (overrides ENERGY_CONFIG)")
	envFile := flag.String("env", ".env", "dotenv file for unset variables")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "loading %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	logger := logging.Must(cfg.LogOptions())
	defer logger.Sync()

	if err := serve(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func serve(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	tariffs, err := tariff.Load(cfg.TariffsPath)
	if err != nil {
		return err
	}
	policy, err := cfg.DayCountPolicy()
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", zap.String("driver", cfg.Store.Driver))

	engine := billing.New(st, tariffs, billing.WithDayCount(policy), billing.WithLogger(logger.Named("billing")))
	hub := ws.NewHub(logger.Named("ws"))
	importer := ingest.NewImporter(st,
		ingest.WithLogger(logger.Named("ingest")),
		ingest.WithDefaults(cfg.IngestDefaults()),
		ingest.WithObserver(ws.NewBridge(hub, logger.Named("ws"))),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newMux(engine, importer, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr), zap.Strings("vendors", tariffs.Vendors()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMux(engine *billing.Engine, importer *ingest.Importer, hub *ws.Hub, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/ws", ws.NewHandler(hub, engine, logger.Named("ws")))
	mux.Handle("POST /api/import", &importHandler{importer: importer, log: logger.Named("http")})
	return mux
}

// importHandler runs uploaded NEM12 bodies through the importer one at a
// time, since dedup relies on a single writer.
type importHandler struct {
	mu       sync.Mutex
	importer *ingest.Importer
	log      *zap.Logger
}

type importResponse struct {
	BatchID                string `json:"batch_id"`
	NMI                    string `json:"nmi,omitempty"`
	RowsConsidered         int    `json:"rows_considered"`
	RowsSkippedAsDuplicate int    `json:"rows_skipped_as_duplicate"`
	RowsAppended           int    `json:"rows_appended"`
	Error                  string `json:"error,omitempty"`
	FailedStage            string `json:"failed_stage,omitempty"`
}

func (h *importHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "http-upload"
	}
	body := http.MaxBytesReader(w, r.Body, maxUpload)

	h.mu.Lock()
	res, err := h.importer.ImportReader(r.Context(), body, source, r.URL.Query().Get("nmi"))
	h.mu.Unlock()

	resp := importResponse{
		BatchID:                res.BatchID.String(),
		NMI:                    res.NMI,
		RowsConsidered:         res.RowsConsidered,
		RowsSkippedAsDuplicate: res.RowsSkippedAsDuplicate,
		RowsAppended:           res.RowsAppended,
	}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		resp.FailedStage = string(res.FailedStage)
		status = importStatus(err)
		h.log.Info("import rejected", zap.String("source", source), zap.Int("status", status), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Warn("writing response", zap.Error(err))
	}
}

func importStatus(err error) int {
	var (
		parseErr *ingest.ParseError
		convErr  *ingest.ConversionError
		maxErr   *http.MaxBytesError
	)
	switch {
	case errors.Is(err, ingest.ErrMeterNotFound):
		return http.StatusNotFound
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &parseErr), errors.As(err, &convErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
