// Package server exposes the simulator over HTTP: JSON handlers for
// accounts, trades and the catalog, plus a websocket stream of price and
// trade events.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/stocksim/broker"
	"github.com/rustyeddy/stocksim/journal"
	"github.com/rustyeddy/stocksim/market"
)

// Ledger is the account side the handlers drive; *sim.Engine implements it.
type Ledger interface {
	broker.Broker
	GetTransaction(ctx context.Context, id string) (journal.Transaction, error)
	Stats(ctx context.Context) (journal.Stats, error)
	Leaderboard(ctx context.Context, n int) ([]broker.Standing, error)
}

// Catalog is the instrument side; *catalog.Catalog implements it.
type Catalog interface {
	Add(ctx context.Context, in market.Instrument) (market.Instrument, error)
	Update(ctx context.Context, in market.Instrument) (market.Instrument, error)
	UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal) (market.Instrument, error)
	Delete(ctx context.Context, symbol string) error
	Get(ctx context.Context, symbol string) (market.Instrument, error)
	List(ctx context.Context) ([]market.Instrument, error)
	Search(ctx context.Context, q string, limit int) ([]market.Instrument, error)
	History(ctx context.Context, symbol string, limit int) ([]market.PricePoint, error)
}

// RefreshFunc forces one round of upstream quotes and reports how many
// instruments changed.
type RefreshFunc func(ctx context.Context) (int, error)

type Server struct {
	R       *gin.Engine
	Ledger  Ledger
	Catalog Catalog
	Hub     *Hub
	Logger  *zap.Logger
	// Refresh backs POST /api/admin/refresh. Nil when no quote source is
	// configured.
	Refresh RefreshFunc
}

// New wires the router and middleware.
func New(ledger Ledger, cat Catalog, hub *Hub, logger *zap.Logger, corsOrigin string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := gin.New()

	// Request logging
	g.Use(func(cn *gin.Context) {
		start := time.Now()
		cn.Next()
		logger.Info("http_request",
			zap.String("method", cn.Request.Method),
			zap.String("path", cn.Request.URL.Path),
			zap.Int("status", cn.Writer.Status()),
			zap.String("ip", cn.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	})

	g.Use(gin.Recovery())
	g.Use(cors(corsOrigin))

	s := &Server{R: g, Ledger: ledger, Catalog: cat, Hub: hub, Logger: logger}

	g.GET("/health", func(cn *gin.Context) { cn.JSON(http.StatusOK, gin.H{"ok": true}) })
	if hub != nil {
		g.GET("/ws", gin.WrapH(hub))
	}

	api := g.Group("/api")
	api.POST("/accounts", s.openAccount)
	api.GET("/accounts/:id", s.getAccount)
	api.POST("/accounts/:id/deposit", s.deposit)
	api.POST("/accounts/:id/withdraw", s.withdraw)
	api.POST("/accounts/:id/trades", s.execute)
	api.GET("/accounts/:id/transactions", s.listTransactions)
	api.GET("/transactions/:id", s.getTransaction)

	api.GET("/instruments", s.listInstruments)
	api.GET("/instruments/search", s.searchInstruments)
	api.GET("/instruments/:symbol", s.getInstrument)
	api.GET("/instruments/:symbol/history", s.instrumentHistory)

	admin := api.Group("/admin")
	admin.POST("/instruments", s.addInstrument)
	admin.PUT("/instruments/:symbol", s.updateInstrument)
	admin.PUT("/instruments/:symbol/price", s.updatePrice)
	admin.DELETE("/instruments/:symbol", s.deleteInstrument)
	admin.POST("/refresh", s.refresh)

	api.GET("/stats", s.stats)
	api.GET("/leaderboard", s.leaderboard)

	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler { return s.R }

func cors(origin string) gin.HandlerFunc {
	return func(cn *gin.Context) {
		reqOrigin := cn.GetHeader("Origin")
		cn.Writer.Header().Set("Vary", "Origin")
		cn.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		cn.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		cn.Writer.Header().Set("Access-Control-Max-Age", "86400")
		if origin == "*" {
			cn.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if reqOrigin != "" && reqOrigin == origin {
			cn.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		if cn.Request.Method == http.MethodOptions {
			cn.AbortWithStatus(http.StatusNoContent)
			return
		}
		cn.Next()
	}
}
