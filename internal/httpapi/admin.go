package httpapi

import (
	"net/http"

	"payment-ledger/internal/audit"
	"payment-ledger/internal/auth"
	"payment-ledger/internal/orders"
	"payment-ledger/internal/reporting"
	"payment-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Admin handlers. RBAC (admin, finance, super_admin) is applied on the route group.

func (h Handlers) AdminListRefunds(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	out, err := h.Orders.ListRefunds(c.Request.Context(), orders.RefundFilter{
		UserID: c.Query("user_id"),
		Status: orders.RefundStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "limit": limit, "offset": offset})
}

// AdminApproveRefund is safe to call again after a failure; a completed refund is returned as is.
func (h Handlers) AdminApproveRefund(c *gin.Context) {
	adminID, _ := auth.UserID(c.Request.Context())
	r, err := h.Orders.ApproveRefund(c.Request.Context(), c.Param("id"), adminID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type rejectRefundRequest struct {
	Notes string `json:"admin_notes"`
}

func (h Handlers) AdminRejectRefund(c *gin.Context) {
	adminID, _ := auth.UserID(c.Request.Context())
	var req rejectRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	r, err := h.Orders.RejectRefund(c.Request.Context(), c.Param("id"), adminID, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h Handlers) AdminGetTransaction(c *gin.Context) {
	txn, err := h.Ledger.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// AdminApproveTransaction settles a pending transaction without a gateway, e.g. a withdrawal
// that was paid out by hand. Replays return the stored outcome.
func (h Handlers) AdminApproveTransaction(c *gin.Context) {
	code := c.Param("code")
	res, err := h.Ledger.Approve(c.Request.Context(), code)
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Applied {
		h.auditAdmin(c, "approved transaction "+code, code)
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) AdminCancelTransaction(c *gin.Context) {
	code := c.Param("code")
	txn, err := h.Ledger.Cancel(c.Request.Context(), code)
	if err != nil {
		writeError(c, err)
		return
	}
	h.auditAdmin(c, "cancelled transaction "+code, code)
	c.JSON(http.StatusOK, txn)
}

func (h Handlers) AdminTransactionStats(c *gin.Context) {
	out, err := h.Reports.TransactionStats(c.Request.Context(), reporting.Period(c.Query("period")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) auditAdmin(c *gin.Context, message, code string) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	caller, _ := auth.IdentityFrom(ctx)
	err := h.Audit.LogAdminAction(ctx, audit.AdminAction{
		ActorUserID:     caller.UserID,
		ActorRole:       caller.Role,
		IPAddress:       c.ClientIP(),
		Message:         message,
		TransactionCode: code,
	})
	if err != nil {
		logger.FromGin(c).Error("audit admin action failed", "code", code, "err", err)
	}
}
