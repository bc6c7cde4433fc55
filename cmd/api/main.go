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
	"time"

	"github.com/tigasatu/wa-inbox/internal/config"
	"github.com/tigasatu/wa-inbox/internal/db"
	httpapi "github.com/tigasatu/wa-inbox/internal/http"
	"github.com/tigasatu/wa-inbox/internal/metrics"
	"github.com/tigasatu/wa-inbox/internal/notify"
	"github.com/tigasatu/wa-inbox/internal/provider"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Connect(rootCtx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	var gw provider.Gateway = provider.NewHTTPGateway(provider.Credentials{
		Token:    cfg.Vendor.Token,
		Key:      cfg.Vendor.Key,
		Endpoint: cfg.Vendor.Endpoint,
	}, cfg.Vendor.SendTimeout)
	if cfg.Vendor.Dummy {
		gw = provider.NewDummy()
	}

	poolStats := metrics.NewPGXPoolStats(pool)
	go poolStats.Start(15*time.Second, rootCtx.Done())

	srv := httpapi.NewServer(pool, gw, nil, cfg)
	srv.Notifier = notify.Multi{srv.Hub, notify.LogNotifier{}}
	fwd := notify.NewForwarder(srv.Store, cfg.Forward.Timeout)
	srv.Forwarder = fwd
	go fwd.Run(rootCtx)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("HTTP listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-rootCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
