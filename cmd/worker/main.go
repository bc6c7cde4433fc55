package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigasatu/wa-inbox/internal/config"
	"github.com/tigasatu/wa-inbox/internal/core"
	"github.com/tigasatu/wa-inbox/internal/db"
	"github.com/tigasatu/wa-inbox/internal/provider"
	"github.com/tigasatu/wa-inbox/internal/worker"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("config: %v", err)
		exitCode = 1
		return
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Connect(rootCtx, cfg.Database.URL)
	if err != nil {
		log.Printf("db: %v", err)
		exitCode = 1
		return
	}
	defer pool.Close()

	store := &core.Store{DB: pool}
	var gw provider.Gateway = provider.NewHTTPGateway(provider.Credentials{
		Token:    cfg.Vendor.Token,
		Key:      cfg.Vendor.Key,
		Endpoint: cfg.Vendor.Endpoint,
	}, cfg.Vendor.SendTimeout)
	if cfg.Vendor.Dummy {
		gw = provider.NewDummy()
	}

	go serveHealthz()

	opts := worker.Options{
		BatchSize:    cfg.Dispatcher.BatchSize,
		Concurrency:  cfg.Dispatcher.Concurrency,
		PollInterval: cfg.Dispatcher.PollInterval,
		IdleSleep:    cfg.Dispatcher.IdleSleep,
		DBBackoffMin: cfg.Dispatcher.DBBackoffMin,
		DBBackoffMax: cfg.Dispatcher.DBBackoffMax,
		VendorQPS:    cfg.Dispatcher.VendorQPS,
		VendorBurst:  cfg.Dispatcher.VendorBurst,
		SendTimeout:  cfg.Vendor.SendTimeout,
	}
	if err := worker.RunDispatcher(rootCtx, store, gw, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("dispatcher exited: %v", err)
		exitCode = 1
		return
	}
}

func serveHealthz() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	addr := env("HEALTH_ADDR", "0.0.0.0:9090")
	_ = http.ListenAndServe(addr, mux)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
