package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/stocksim/broker"
	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
)

type tradeBody struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
	Side     string `json:"side"`
}

type amountBody struct {
	Amount decimal.Decimal `json:"amount"`
}

type priceBody struct {
	Price decimal.Decimal `json:"price"`
}

// --- Accounts ---

func (s *Server) openAccount(c *gin.Context) {
	var req broker.OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid body: "+err.Error())
		return
	}
	v, err := s.Ledger.OpenAccount(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "OpenAccount", err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (s *Server) getAccount(c *gin.Context) {
	v, err := s.Ledger.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "GetAccount", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) deposit(c *gin.Context) {
	var body amountBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "invalid body: "+err.Error())
		return
	}
	v, err := s.Ledger.Deposit(c.Request.Context(), c.Param("id"), body.Amount)
	if err != nil {
		s.fail(c, "Deposit", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) withdraw(c *gin.Context) {
	var body amountBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "invalid body: "+err.Error())
		return
	}
	v, err := s.Ledger.Withdraw(c.Request.Context(), c.Param("id"), body.Amount)
	if err != nil {
		s.fail(c, "Withdraw", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) execute(c *gin.Context) {
	var body tradeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "invalid body: "+err.Error())
		return
	}
	tx, err := s.Ledger.Execute(c.Request.Context(), broker.TradeRequest{
		AccountID: c.Param("id"),
		Symbol:    body.Symbol,
		Quantity:  body.Quantity,
		Side:      ledger.Side(body.Side),
	})
	if err != nil {
		s.fail(c, "Execute", err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (s *Server) listTransactions(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		s.badRequest(c, "limit must be an integer")
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		s.badRequest(c, "offset must be an integer")
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.Ledger.GetAccount(ctx, id); err != nil {
		s.fail(c, "ListTransactions", err)
		return
	}
	rows, err := s.Ledger.ListTransactions(ctx, id, limit, offset)
	if err != nil {
		s.fail(c, "ListTransactions", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getTransaction(c *gin.Context) {
	tx, err := s.Ledger.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "GetTransaction", err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// --- Instruments ---

func (s *Server) listInstruments(c *gin.Context) {
	rows, err := s.Catalog.List(c.Request.Context())
	if err != nil {
		s.fail(c, "ListInstruments", err)
		return
	}
	if rows == nil {
		rows = []market.Instrument{}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) searchInstruments(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		s.badRequest(c, "limit must be an integer")
		return
	}
	rows, err := s.Catalog.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		s.fail(c, "SearchInstruments", err)
		return
	}
	if rows == nil {
		rows = []market.Instrument{}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getInstrument(c *gin.Context) {
	in, err := s.Catalog.Get(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.fail(c, "GetInstrument", err)
		return
	}
	c.JSON(http.StatusOK, in)
}

func (s *Server) instrumentHistory(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		s.badRequest(c, "limit must be an integer")
		return
	}
	rows, err := s.Catalog.History(c.Request.Context(), c.Param("symbol"), limit)
	if err != nil {
		s.fail(c, "History", err)
		return
	}
	if rows == nil {
		rows = []market.PricePoint{}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) addInstrument(c *gin.Context) {
	var in market.Instrument
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, "invalid body: "+err.Error())
		return
	}
	out, err := s.Catalog.Add(c.Request.Context(), in)
	if err != nil {
		s.fail(c, "AddInstrument", err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (s *Server) updateInstrument(c *gin.Context) {
	var in market.Instrument
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, "invalid body: "+err.Error())
		return
	}
	in.Symbol = c.Param("symbol")
	out, err := s.Catalog.Update(c.Request.Context(), in)
	if err != nil {
		s.fail(c, "UpdateInstrument", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) updatePrice(c *gin.Context) {
	var body priceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "invalid body: "+err.Error())
		return
	}
	out, err := s.Catalog.UpdatePrice(c.Request.Context(), c.Param("symbol"), body.Price)
	if err != nil {
		s.fail(c, "UpdatePrice", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) deleteInstrument(c *gin.Context) {
	if err := s.Catalog.Delete(c.Request.Context(), c.Param("symbol")); err != nil {
		s.fail(c, "DeleteInstrument", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) refresh(c *gin.Context) {
	if s.Refresh == nil {
		c.JSON(http.StatusNotFound, apiError{Code: ledger.KindNotFound.String(), Message: "no quote source configured"})
		return
	}
	n, err := s.Refresh(c.Request.Context())
	if err != nil {
		s.fail(c, "Refresh", err)
		return
	}
	s.Logger.Info("quotes refreshed", zap.Int("changed", n))
	c.JSON(http.StatusOK, gin.H{"changed": n})
}

// --- Aggregates ---

func (s *Server) stats(c *gin.Context) {
	st, err := s.Ledger.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, "Stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) leaderboard(c *gin.Context) {
	n, ok := queryInt(c, "limit", 0)
	if !ok {
		s.badRequest(c, "limit must be an integer")
		return
	}
	rows, err := s.Ledger.Leaderboard(c.Request.Context(), n)
	if err != nil {
		s.fail(c, "Leaderboard", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
