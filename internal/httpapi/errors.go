package httpapi

import (
	"errors"
	"net/http"

	"payment-ledger/internal/ledger"
	"payment-ledger/internal/orders"
	"payment-ledger/internal/pricing"
	"payment-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

// writeError maps domain errors to a status and a client-safe message.
// 5xx details only go to the log.
func writeError(c *gin.Context, err error) {
	status, msg := classify(err)
	log := logger.FromGin(c)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "err", err)
	} else {
		log.Info("request rejected", "status", status, "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func classify(err error) (int, string) {
	switch {
	case ledger.IsNotFound(err), errors.Is(err, pricing.ErrProductNotFound):
		return http.StatusNotFound, err.Error()
	case ledger.IsInsufficientBalance(err):
		return http.StatusPaymentRequired, "insufficient balance"
	case errors.Is(err, orders.ErrPaymentFailed):
		return http.StatusPaymentRequired, err.Error()
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ledger.ErrInvalidArgument), errors.Is(err, pricing.ErrInvalidProduct):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ledger.ErrConflict),
		errors.Is(err, ledger.ErrNotCancellable),
		errors.Is(err, orders.ErrRefundExists),
		errors.Is(err, orders.ErrRefundNotPending),
		errors.Is(err, orders.ErrRefundVoided),
		errors.Is(err, orders.ErrNotRefundable):
		return http.StatusConflict, err.Error()
	case ledger.IsVerification(err):
		return http.StatusBadGateway, "payment provider check failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
