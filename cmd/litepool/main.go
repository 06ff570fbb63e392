// Command litepool loads the configured assets in the background and
// consumes them from a frame loop, one result per frame.
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

	"github.com/jirevwe/litepool"
	"github.com/jirevwe/litepool/config"
	"github.com/jirevwe/litepool/journal/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  litepool [-config litepool.yaml] [asset ...]\n\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*configFile, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string, assets []string) error {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.Assets = append(cfg.Assets, assets...)

	level, err := cfg.Level()
	if err != nil {
		return err
	}
	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	backoff, err := cfg.Backoff()
	if err != nil {
		return err
	}

	frame, err := cfg.Frame()
	if err != nil {
		return err
	}

	lcfg := &litepool.Config{
		Workers:      cfg.Workers,
		Importers:    cfg.Importers,
		Retries:      cfg.Retries,
		RetryBackoff: backoff,
		Logger:       slogger,
	}

	if cfg.Journal.Enabled {
		store, err := sqlite.NewSqlite(cfg.Journal.Path, slogger)
		if err != nil {
			return fmt.Errorf("cannot open journal: %w", err)
		}
		lcfg.Store = store
	}

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		lcfg.Registerer = reg
	}

	loader, err := litepool.NewLoader(lcfg)
	if err != nil {
		if lcfg.Store != nil {
			_ = lcfg.Store.Close()
		}
		return err
	}

	// served only once the loader has registered every collector
	var srv *http.Server
	if reg != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slogger.Error(err.Error(), "func", "metrics.ListenAndServe")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduled := 0
	for _, path := range cfg.Assets {
		id, err := loader.Load(path)
		if err != nil {
			slogger.Error(err.Error(), "path", path)
			continue
		}
		slogger.Info("scheduled asset", "task", id, "path", path)
		scheduled++
	}

	consumed := renderLoop(ctx, loader, frame, scheduled, slogger)

	err = loader.Close()

	// anything that finished while we were shutting down
	for {
		res, ok := loader.Poll()
		if !ok {
			break
		}
		consume(res, slogger)
		consumed++
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	stats := loader.Stats()
	slogger.Info("done", "consumed", consumed, "completed", stats.Completed, "failed", stats.Failed)

	return err
}

// renderLoop stands in for the render thread: every frame it picks up at
// most one finished asset and otherwise goes on drawing.
func renderLoop(ctx context.Context, loader *litepool.Loader, frame time.Duration, want int, slogger *slog.Logger) int {
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	consumed := 0
	for frames := 0; consumed < want; frames++ {
		select {
		case <-ctx.Done():
			slogger.Info("interrupted", "frames", frames)
			return consumed
		case <-ticker.C:
		}

		if res, ok := loader.Poll(); ok {
			consume(res, slogger)
			consumed++
		}
	}

	return consumed
}

func consume(res *litepool.Result, slogger *slog.Logger) {
	if res.Err != nil {
		slogger.Error("asset failed to load", "task", res.ID, "path", res.Path, "attempts", res.Attempts, "error", res.Err)
		return
	}

	slogger.Info("uploaded asset", "task", res.ID, "path", res.Path, "format", res.Model.Format, "bytes", res.Model.Size())
}
