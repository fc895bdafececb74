package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rustyeddy/stocksim/ledger"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusOf maps an error kind to its HTTP status.
func statusOf(k ledger.Kind) int {
	switch k {
	case ledger.KindInvalidInput:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindConflict:
		return http.StatusConflict
	case ledger.KindInsufficientFunds, ledger.KindInsufficientShares:
		return http.StatusUnprocessableEntity
	case ledger.KindPersistence:
		return http.StatusServiceUnavailable
	case ledger.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, where string, err error) {
	kind := ledger.KindOf(err)
	status := statusOf(kind)
	if kind == ledger.KindTimeout {
		s.Logger.Warn("request_timeout", zap.String("where", where), zap.Error(err))
		c.JSON(status, apiError{Code: kind.String(), Message: "request timed out or was canceled, the operation was not applied"})
		return
	}
	if status >= http.StatusInternalServerError {
		s.Logger.Error("internal_error", zap.String("where", where), zap.Stringer("kind", kind), zap.Error(err))
		msg := "internal server error"
		if kind == ledger.KindPersistence {
			msg = "storage unavailable, the operation was not applied"
		}
		c.JSON(status, apiError{Code: kindCode(kind), Message: msg})
		return
	}
	c.JSON(status, apiError{Code: kind.String(), Message: err.Error()})
}

func kindCode(k ledger.Kind) string {
	if k == ledger.KindUnknown {
		return "internal_server_error"
	}
	return k.String()
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, apiError{Code: ledger.KindInvalidInput.String(), Message: msg})
}

// queryInt reads an optional integer query parameter.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	v := c.Query(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
