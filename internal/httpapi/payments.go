package httpapi

import (
	"context"
	"net/http"

	"payment-ledger/internal/gateway"
	"payment-ledger/internal/ledger"
	"payment-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

type depositRequest struct {
	Amount   int64         `json:"amount"`
	Method   ledger.Method `json:"method"`
	BankCode string        `json:"bank_code,omitempty"`
	Locale   string        `json:"locale,omitempty"`
}

type depositResponse struct {
	Transaction ledger.Transaction      `json:"transaction"`
	Payment     gateway.ProviderRequest `json:"payment"`
}

// CreateDeposit opens a pending deposit and returns what the client needs to pay it.
// The balance only moves when the gateway confirms.
func (h Handlers) CreateDeposit(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Method == ledger.MethodNone {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "a payment gateway is required"})
		return
	}
	ctx := c.Request.Context()

	adapter, err := h.Gateways.Get(req.Method)
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := h.Ledger.OpenAccount(ctx, uid); err != nil {
		writeError(c, err)
		return
	}
	txn, err := h.Ledger.CreatePending(ctx, ledger.CreateRequest{
		UserID:      uid,
		Type:        ledger.TypeDeposit,
		Method:      req.Method,
		Amount:      req.Amount,
		Description: "Deposit via " + string(req.Method),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	ret := gateway.ReturnContext{ClientIP: c.ClientIP(), Locale: req.Locale, BankCode: req.BankCode}
	if req.Method == ledger.MethodPayPal {
		// VNPay returns through its own configured URL.
		ret.ReturnURL = h.FrontendURL + "/deposit/paypal/return"
		ret.CancelURL = h.FrontendURL + "/deposit/cancelled?code=" + txn.Code
	}
	pr, err := adapter.BuildPaymentRequest(ctx, gateway.PaymentRequest{
		Amount:      txn.Amount,
		Code:        txn.Code,
		Description: txn.Description,
		Return:      ret,
	})
	if err != nil {
		h.abandon(ctx, txn.Code)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, depositResponse{Transaction: txn, Payment: pr})
}

// abandon cancels a deposit whose payment request could not be built.
func (h Handlers) abandon(ctx context.Context, code string) {
	if _, err := h.Ledger.Cancel(ctx, code); err != nil {
		logger.From(ctx).Error("cancel abandoned deposit failed", "code", code, "err", err)
	}
}

// capturer is implemented by *gateway.PayPal.
type capturer interface {
	Capture(ctx context.Context, orderID string) (ledger.GatewayEvent, error)
}

type captureRequest struct {
	OrderID string `json:"order_id"`
}

// CapturePayPal finishes a PayPal checkout after the payer is sent back with ?token=<order id>.
// The webhook may settle the same deposit; whichever arrives second is a replay.
func (h Handlers) CapturePayPal(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "order_id required"})
		return
	}
	ctx := c.Request.Context()

	adapter, err := h.Gateways.Get(ledger.MethodPayPal)
	if err != nil {
		writeError(c, err)
		return
	}
	pp, ok := adapter.(capturer)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "capture not supported"})
		return
	}

	ev, err := pp.Capture(ctx, req.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	txn, err := h.Ledger.GetByCode(ctx, ev.Code)
	if err == nil && txn.UserID != uid {
		logger.FromGin(c).Warn("paypal capture for another user's transaction", "code", ev.Code, "user_id", uid)
		err = &ledger.NotFoundError{Kind: "transaction", Key: ev.Code}
	}
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.Ledger.ApplyEvent(ctx, ev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type withdrawalRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

// CreateWithdrawal reserves funds for a manual payout. An admin approves it once paid out.
func (h Handlers) CreateWithdrawal(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Ledger.OpenAccount(ctx, uid); err != nil {
		writeError(c, err)
		return
	}
	desc := req.Description
	if desc == "" {
		desc = "Withdrawal"
	}
	txn, err := h.Ledger.CreatePending(ctx, ledger.CreateRequest{
		UserID:      uid,
		Type:        ledger.TypeWithdrawal,
		Method:      ledger.MethodNone,
		Amount:      req.Amount,
		Description: desc,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}
