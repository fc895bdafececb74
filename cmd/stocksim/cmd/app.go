package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rustyeddy/stocksim/catalog"
	"github.com/rustyeddy/stocksim/config"
	"github.com/rustyeddy/stocksim/internal/logging"
	"github.com/rustyeddy/stocksim/market"
	"github.com/rustyeddy/stocksim/sim"
	"github.com/rustyeddy/stocksim/store"
	"github.com/rustyeddy/stocksim/store/memory"
	"github.com/rustyeddy/stocksim/store/postgres"
	"github.com/rustyeddy/stocksim/store/sqlite"
)

// app is the wired core shared by serve and the one-shot commands.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   store.Store
	board   *market.Board
	catalog *catalog.Catalog
	engine  *sim.Engine
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(ctx, cfg.DSN)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	board := market.NewBoard()
	cat := catalog.New(s, board, catalog.WithLogger(log.Named("catalog")))
	if _, err := cat.Load(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	eng := sim.NewEngine(s, board,
		sim.WithLogger(log.Named("sim")),
		sim.WithOpeningBalance(cfg.Account.OpeningBalance),
	)

	return &app{cfg: cfg, log: log, store: s, board: board, catalog: cat, engine: eng}, nil
}

func (a *app) Close() {
	_ = a.store.Close()
	_ = a.log.Sync()
}
