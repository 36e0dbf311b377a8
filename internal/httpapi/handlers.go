package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"payment-ledger/internal/audit"
	"payment-ledger/internal/auth"
	"payment-ledger/internal/gateway"
	"payment-ledger/internal/ledger"
	"payment-ledger/internal/orders"
	"payment-ledger/internal/reporting"

	"github.com/gin-gonic/gin"
)

// AdminAuditor records privileged manual operations. Implemented by *audit.Service.
type AdminAuditor interface {
	LogAdminAction(ctx context.Context, a audit.AdminAction) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Ledger   *ledger.Engine
	Orders   *orders.Service
	Reports  *reporting.Service
	Gateways *gateway.Registry
	Audit    AdminAuditor

	// FrontendURL is where PayPal sends the payer back to.
	FrontendURL string
}

// --- Account ---

type balanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// GetBalance returns the caller's balance, opening a zero account on first use.
func (h Handlers) GetBalance(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	acct, err := h.Ledger.OpenAccount(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{UserID: acct.UserID, Balance: acct.Balance})
}

func (h Handlers) ListMyTransactions(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	f := ledger.ListFilter{
		UserID: uid,
		Type:   ledger.Type(c.Query("type")),
		Status: ledger.Status(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	if f.Type != "" && !f.Type.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown type"})
		return
	}
	txns, err := h.Ledger.ListTransactions(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txns, "limit": limit, "offset": offset})
}

func (h Handlers) GetMyTransaction(c *gin.Context) {
	txn, ok := h.ownTransaction(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, txn)
}

// CancelMyTransaction abandons one of the caller's pending deposits or withdrawals.
// Payments and refunds belong to their order or refund and are not cancellable here.
func (h Handlers) CancelMyTransaction(c *gin.Context) {
	txn, ok := h.ownTransaction(c)
	if !ok {
		return
	}
	if txn.Type != ledger.TypeDeposit && txn.Type != ledger.TypeWithdrawal {
		writeError(c, fmt.Errorf("%w: %s transactions are settled by their order", ledger.ErrNotCancellable, txn.Type))
		return
	}
	out, err := h.Ledger.Cancel(c.Request.Context(), txn.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) GetMySpent(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	out, err := h.Reports.TotalSpent(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- helpers ---

func (h Handlers) caller(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

// ownTransaction loads :code and hides transactions of other users behind a 404.
func (h Handlers) ownTransaction(c *gin.Context) (ledger.Transaction, bool) {
	uid, ok := h.caller(c)
	if !ok {
		return ledger.Transaction{}, false
	}
	code := c.Param("code")
	txn, err := h.Ledger.GetByCode(c.Request.Context(), code)
	if err == nil && txn.UserID != uid {
		err = &ledger.NotFoundError{Kind: "transaction", Key: code}
	}
	if err != nil {
		writeError(c, err)
		return ledger.Transaction{}, false
	}
	return txn, true
}

func pagination(c *gin.Context) (limit, offset int, ok bool) {
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return 0, 0, false
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return 0, 0, false
		}
	}
	return limit, offset, true
}
