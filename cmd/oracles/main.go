// The oracles daemon runs a fleet of independent oracle agents against
// the app service and serves a read-only status endpoint.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/flightsurety/internal/agent"
	"github.com/terminal-bench/flightsurety/internal/config"
	"github.com/terminal-bench/flightsurety/internal/journal"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed, err := buildFeed(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build event feed", zap.Error(err))
	}

	var cursors messaging.CursorStore = messaging.NewMemoryCursors()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		cursors = messaging.NewRedisCursors(rdb, "oracle-cursor")
	}

	submitter := agent.NewHTTPSubmitter(cfg.AppURL, cfg.JWTSecret)

	agents := make([]*agent.Agent, 0, cfg.OracleCount)
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.OracleCount; i++ {
		a := agent.New(agent.Config{
			Identity: fmt.Sprintf("0xoracle-%02d", i),
			Fee:      cfg.RegistrationFee,
		}, submitter, feed, cursors, log)
		agents = append(agents, a)
		group.Go(func() error {
			return a.Run(groupCtx)
		})
	}

	srv := &http.Server{
		Addr:    ":" + cfg.OraclePort,
		Handler: statusRouter(agents),
	}
	go func() {
		log.Info("oracle status endpoint listening", zap.String("port", cfg.OraclePort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	if err := group.Wait(); err != nil {
		log.Error("agent fleet stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}

// buildFeed assembles the local replayable feed: archived events are
// backfilled from the journal when a database is configured, then NATS
// supplies the live tail. Events are deduplicated on their app-side
// offset so backfill and live delivery never double-feed an agent.
func buildFeed(ctx context.Context, cfg *config.Config, log *zap.Logger) (*messaging.Log, error) {
	local := messaging.NewLog()
	var lastOffset uint64

	ingest := func(event messaging.Event) {
		if event.Offset <= lastOffset {
			return
		}
		if event.Offset != lastOffset+1 {
			log.Warn("gap in event feed",
				zap.Uint64("expected", lastOffset+1), zap.Uint64("got", event.Offset))
		}
		lastOffset = event.Offset
		if err := local.Publish(ctx, event); err != nil {
			log.Warn("failed to ingest event", zap.Error(err))
		}
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		archived, err := journal.New(db).Events(ctx, 1, 100000)
		if err != nil {
			return nil, err
		}
		for _, event := range archived {
			ingest(event)
		}
		log.Info("backfilled events from journal", zap.Int("count", len(archived)))
	}

	if cfg.NATSURL != "" {
		nc, err := messaging.NewClient(messaging.ClientConfig{
			URL:            cfg.NATSURL,
			Name:           "flightsurety-oracles",
			ReconnectWait:  time.Second,
			MaxReconnects:  -1,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		if err := nc.SubscribeEvents(ingest); err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			nc.Close()
		}()
	}

	return local, nil
}

// statusRouter serves the oracle fleet summary: total, active and
// inactive agents, where active means registration and index retrieval
// completed.
func statusRouter(agents []*agent.Agent) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", func(c *gin.Context) {
		active := make([]string, 0, len(agents))
		inactive := make([]string, 0)
		for _, a := range agents {
			if a.Active() {
				active = append(active, a.Identity())
			} else {
				inactive = append(inactive, a.Identity())
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"totalOracles":    len(agents),
			"activeCount":     len(active),
			"inactiveCount":   len(inactive),
			"activeOracles":   active,
			"inactiveOracles": inactive,
		})
	})
	return r
}
