package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"queryverse/internal/config"
	"queryverse/internal/logging"
	"queryverse/internal/metrics"
	"queryverse/internal/metrics/datadog"
	"queryverse/internal/storage"
	"queryverse/internal/web"

	// register all backends with the storage factory.
	// config specifies which to use but we build in support for all of them.
	_ "queryverse/internal/storage/all"
)

// main loads configuration, sets up logging and the optional metrics
// backend, verifies the store, and serves HTTP until interrupted.
func main() {
	var (
		cfgPath           string
		addrFlg           string
		metricsBackendFlg string
	)

	flag.StringVar(&cfgPath, "config", "", "config JSON path (optional)")
	flag.StringVar(&addrFlg, "addr", "", "listen address (overrides config)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (datadog, none)")
	verbose := flag.Bool("v", false, "enable debug logs")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if addrFlg != "" {
		cfg.ListenAddr = addrFlg
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log := slog.Default()

	// Decide metrics backend: flag → config (which already folded in env) → none.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = cfg.MetricsBackend
	}
	switch backendName {
	case "datadog":
		// Buffers samples and submits periodically; one final flush at
		// shutdown via Close.
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			ServiceName: "queryverse",
			Tags:        datadog.ParseTagsCSV(cfg.MetricsTags),
		})
		if err != nil {
			log.Warn("metrics init failed, using nop", "backend", backendName, "error", err)
		} else {
			log.Info("metrics enabled", "backend", backendName, "tags", cfg.MetricsTags)
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Warn("metrics close", "error", err)
				}
			}()
		}

	case "", "none":
		// nop backend remains

	default:
		log.Warn("unknown metrics backend, metrics disabled", "backend", backendName)
	}

	// Verify the store opens and the namespaces exist before accepting
	// traffic; requests open their own sessions afterwards.
	storeCfg := storage.Config{Kind: cfg.StorageKind, DSN: cfg.DSN}
	if err := probeStore(storeCfg); err != nil {
		fatalf("storage: %v", err)
	}

	srv := web.NewServer(web.Options{
		Addr:           cfg.ListenAddr,
		Store:          storeCfg,
		UploadDir:      cfg.UploadDir,
		ModelsDir:      cfg.ModelsDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr, "storage", cfg.StorageKind)
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalf("serve: %v", err)
		}
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("shutdown", "error", err)
		}
	}
}

func probeStore(cfg storage.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Init(ctx)
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
