package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/terminal-bench/flightsurety/internal/config"
	"github.com/terminal-bench/flightsurety/internal/gateway"
	"github.com/terminal-bench/flightsurety/internal/governance"
	"github.com/terminal-bench/flightsurety/internal/insurance"
	"github.com/terminal-bench/flightsurety/internal/journal"
	"github.com/terminal-bench/flightsurety/internal/ledger"
	"github.com/terminal-bench/flightsurety/internal/metrics"
	"github.com/terminal-bench/flightsurety/internal/operational"
	"github.com/terminal-bench/flightsurety/internal/oracles"
	"github.com/terminal-bench/flightsurety/pkg/messaging"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	appGuard := operational.NewGuard(cfg.AppOwner)
	dataGuard := operational.NewGuard(cfg.DataOwner)
	store := ledger.NewStore(dataGuard, cfg.GenesisAirline)

	// The in-process log is the canonical ordered feed; NATS and the
	// journal receive the same events for transport and archival.
	feed := messaging.NewLog()
	publishers := messaging.Fanout{feed}

	if cfg.NATSURL != "" {
		nc, err := messaging.NewClient(messaging.ClientConfig{
			URL:            cfg.NATSURL,
			Name:           "flightsurety-app",
			ReconnectWait:  time.Second,
			MaxReconnects:  10,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		publishers = append(publishers, nc)
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to open database", zap.Error(err))
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		jnl := journal.New(db)
		if err := jnl.Init(context.Background()); err != nil {
			log.Fatal("failed to init journal", zap.Error(err))
		}
		publishers = append(publishers, jnl)
	}

	var rec *metrics.Recorder
	if cfg.InfluxURL != "" {
		client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		defer client.Close()
		rec = metrics.New(client, cfg.InfluxOrg, cfg.InfluxBucket)
	}

	gov := governance.NewEngine(store, appGuard, publishers, cfg.FundingThreshold, log)
	ins := insurance.NewEngine(store, appGuard, publishers, rec, cfg.PayoutMultiplier, nil, log)
	coord := oracles.NewCoordinator(oracles.Config{
		RegistrationFee: cfg.RegistrationFee,
		MinResponses:    cfg.MinResponses,
		IndexBuckets:    cfg.IndexBuckets,
	}, store, appGuard, publishers, ins, rec, log)

	gw := gateway.New(gov, ins, coord, appGuard, dataGuard, feed, cfg.JWTSecret, log)

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: gw.Router(),
	}

	go func() {
		log.Info("app service listening", zap.String("port", cfg.AppPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}
