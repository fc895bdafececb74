package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/stocksim/config"
	"github.com/rustyeddy/stocksim/feed"
	"github.com/rustyeddy/stocksim/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket stream and price feed",
	Long: `Serve the trading API.

The configured price feed (finnhub, kafka, redis or replay) runs alongside the
server and pushes every accepted price change to websocket clients. An empty
catalog is seeded with the default listing first.

Examples:
  stocksim serve
  STOCKSIM_FEED=finnhub FINNHUB_API_KEY=... stocksim serve -c stocksim.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.board.Symbols()) == 0 {
		list, err := defaultInstruments()
		if err != nil {
			return err
		}
		n, err := a.catalog.Seed(ctx, list)
		if err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		a.log.Info("seeded catalog", zap.Int("instruments", n))
	}

	hub := server.NewHub(a.log.Named("ws"))
	defer hub.Close()
	a.catalog.SetBroadcaster(hub)
	a.engine.SetTradeListener(hub)

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(a.engine, a.catalog, hub, a.log.Named("http"), a.cfg.Server.CORSOrigin)
	httpSrv := &http.Server{Addr: a.cfg.Server.Addr, Handler: srv.Handler()}

	src := newSource(a.cfg.Feed, a)
	if fh := refresher(a.cfg.Feed, src, a); fh != nil {
		srv.Refresh = func(ctx context.Context) (int, error) { return fh.Poll(ctx, a.catalog) }
	}

	errc := make(chan error, 2)
	if src != nil {
		go func() {
			a.log.Info("feed starting", zap.String("source", a.cfg.Feed.Source))
			if err := src.Run(ctx, a.catalog); err != nil && !errors.Is(err, context.Canceled) {
				errc <- fmt.Errorf("feed %s: %w", a.cfg.Feed.Source, err)
			}
		}()
	}
	go func() {
		a.log.Info("listening", zap.String("addr", a.cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
		a.log.Error("shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		a.log.Warn("http shutdown", zap.Error(serr))
	}
	return err
}

// refresher returns the Finnhub poller behind the admin refresh route. The
// running feed is reused when it is Finnhub so both share one rate limiter.
func refresher(cfg config.FeedConfig, src feed.Source, a *app) *feed.Finnhub {
	if fh, ok := src.(*feed.Finnhub); ok {
		return fh
	}
	if cfg.Finnhub.APIKey == "" {
		return nil
	}
	return newFinnhub(cfg, a)
}

func newFinnhub(cfg config.FeedConfig, a *app) *feed.Finnhub {
	return feed.NewFinnhub(feed.FinnhubConfig{
		BaseURL:           cfg.Finnhub.BaseURL,
		APIKey:            cfg.Finnhub.APIKey,
		Interval:          cfg.Finnhub.Interval,
		RequestsPerMinute: cfg.Finnhub.RequestsPerMinute,
	}, a.board, a.log.Named("feed"))
}

// newSource builds the configured feed, or nil for "none".
func newSource(cfg config.FeedConfig, a *app) feed.Source {
	log := a.log.Named("feed")
	switch cfg.Source {
	case "finnhub":
		return newFinnhub(cfg, a)
	case "kafka":
		return feed.NewKafka(feed.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, log)
	case "redis":
		return feed.NewRedis(feed.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, log)
	case "replay":
		return &feed.Replay{Path: cfg.Replay.Path, Speed: cfg.Replay.Speed, Log: log}
	default:
		return nil
	}
}
