package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"payment-ledger/internal/ledger"
	"payment-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxNotificationBytes = 1 << 20

// Reconciler applies verified gateway events. Implemented by *ledger.Engine.
type Reconciler interface {
	ApplyEvent(ctx context.Context, ev ledger.GatewayEvent) (ledger.Result, error)
}

// AuditSink records notifications that failed verification.
type AuditSink interface {
	LogVerificationFailure(ctx context.Context, gateway, ip, reason string) error
}

// WebhookHandler converts provider callbacks to GatewayEvents, delegates verification to
// the adapter and settlement to the Reconciler, and writes each provider's ack format.
//
// No business logic here. Verification failures never reveal whether a code exists.
type WebhookHandler struct {
	Gateways *Registry
	Ledger   Reconciler
	Audit    AuditSink

	// FrontendURL is where VNPay browser returns are redirected.
	FrontendURL string
}

func (h WebhookHandler) HandlePayPalWebhook(c *gin.Context) {
	log := logger.FromGin(c).With("gateway", ledger.MethodPayPal)

	adapter, ok := h.adapter(c, ledger.MethodPayPal)
	if !ok {
		return
	}
	body, err := readBody(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
		return
	}

	ctx := c.Request.Context()
	ev, err := adapter.VerifyInboundNotification(ctx, Notification{Body: body, Headers: c.Request.Header})
	if errors.Is(err, ErrUnsupportedEvent) {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		h.rejected(c, ledger.MethodPayPal, err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid notification"})
		return
	}

	res, err := h.Ledger.ApplyEvent(ctx, ev)
	switch {
	case ledger.IsNotFound(err):
		log.Warn("paypal event for unknown code", "code", ev.Code)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	case err != nil:
		log.Error("paypal event apply failed", "code", ev.Code, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		log.Info("paypal event applied", "code", ev.Code, "status", res.Transaction.Status, "replayed", res.Replayed)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type vnpayAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// HandleVNPayIPN is the server-to-server confirmation. VNPay always expects HTTP 200 and
// reads the outcome from RspCode.
func (h WebhookHandler) HandleVNPayIPN(c *gin.Context) {
	log := logger.FromGin(c).With("gateway", ledger.MethodVNPay)

	adapter, ok := h.adapter(c, ledger.MethodVNPay)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	ev, err := adapter.VerifyInboundNotification(ctx, Notification{Headers: c.Request.Header, Query: c.Request.URL.Query()})
	if err != nil {
		h.rejected(c, ledger.MethodVNPay, err)
		c.JSON(http.StatusOK, vnpayAck{RspCode: VNPayRspInvalidSignature, Message: "Invalid signature"})
		return
	}

	res, err := h.Ledger.ApplyEvent(ctx, ev)
	switch {
	case ledger.IsNotFound(err):
		c.JSON(http.StatusOK, vnpayAck{RspCode: VNPayRspOrderNotFound, Message: "Order not found"})
	case err != nil:
		log.Error("vnpay ipn apply failed", "code", ev.Code, "err", err)
		c.JSON(http.StatusOK, vnpayAck{RspCode: VNPayRspUnknownError, Message: "Unknown error"})
	case res.Replayed:
		c.JSON(http.StatusOK, vnpayAck{RspCode: VNPayRspAlreadyConfirmed, Message: "Order already confirmed"})
	default:
		log.Info("vnpay ipn applied", "code", ev.Code, "status", res.Transaction.Status)
		c.JSON(http.StatusOK, vnpayAck{RspCode: VNPayRspConfirmed, Message: "Confirm Success"})
	}
}

// HandleVNPayReturn settles from the signed browser return (same fields as the IPN,
// idempotent with it) and redirects the payer to the frontend.
func (h WebhookHandler) HandleVNPayReturn(c *gin.Context) {
	log := logger.FromGin(c).With("gateway", ledger.MethodVNPay)

	adapter, ok := h.adapter(c, ledger.MethodVNPay)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	ev, err := adapter.VerifyInboundNotification(ctx, Notification{Headers: c.Request.Header, Query: c.Request.URL.Query()})
	if err != nil {
		h.rejected(c, ledger.MethodVNPay, err)
		h.redirect(c, "failed", url.Values{"message": {"invalid signature"}})
		return
	}

	res, err := h.Ledger.ApplyEvent(ctx, ev)
	if err != nil {
		if !ledger.IsNotFound(err) {
			log.Error("vnpay return apply failed", "code", ev.Code, "err", err)
		}
		h.redirect(c, "failed", url.Values{"code": {ev.Code}, "message": {"payment could not be confirmed"}})
		return
	}

	txn := res.Transaction
	if txn.Status == ledger.StatusSuccess {
		h.redirect(c, "success", url.Values{"code": {txn.Code}, "amount": {strconv.FormatInt(txn.Amount, 10)}})
		return
	}
	msg := "payment " + string(txn.Status)
	if txn.FailureReason != "" {
		msg = txn.FailureReason
	}
	h.redirect(c, "failed", url.Values{"code": {txn.Code}, "message": {msg}})
}

// tokenIssuer is implemented by *VQR.
type tokenIssuer interface {
	IssueToken(username, password string) (VQRToken, error)
}

func (h WebhookHandler) HandleVQRToken(c *gin.Context) {
	adapter, ok := h.adapter(c, ledger.MethodVQR)
	if !ok {
		return
	}
	issuer, ok := adapter.(tokenIssuer)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "token endpoint not available"})
		return
	}

	user, pass, ok := c.Request.BasicAuth()
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is missing or invalid"})
		return
	}
	tok, err := issuer.IssueToken(user, pass)
	if err != nil {
		h.rejected(c, ledger.MethodVQR, err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, tok)
}

type vqrAck struct {
	Error        bool       `json:"error"`
	ErrorReason  string     `json:"errorReason"`
	ToastMessage string     `json:"toastMessage"`
	Object       *vqrObject `json:"object"`
}

type vqrObject struct {
	RefTransactionID string `json:"reftransactionid"`
}

func (h WebhookHandler) HandleVQRTransactionSync(c *gin.Context) {
	log := logger.FromGin(c).With("gateway", ledger.MethodVQR)

	adapter, ok := h.adapter(c, ledger.MethodVQR)
	if !ok {
		return
	}
	body, err := readBody(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, vqrAck{Error: true, ErrorReason: "E_INVALID_BODY", ToastMessage: "invalid body"})
		return
	}

	ctx := c.Request.Context()
	ev, err := adapter.VerifyInboundNotification(ctx, Notification{Body: body, Headers: c.Request.Header})
	if errors.Is(err, ErrUnsupportedEvent) {
		c.JSON(http.StatusOK, vqrAck{ToastMessage: "ignored"})
		return
	}
	if err != nil {
		h.rejected(c, ledger.MethodVQR, err)
		if errors.Is(err, ErrUnauthorized) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, vqrAck{Error: true, ErrorReason: "E_UNAUTHORIZED", ToastMessage: "unauthorized"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, vqrAck{Error: true, ErrorReason: "E_INVALID_TRANSACTION", ToastMessage: "invalid transaction"})
		return
	}

	res, err := h.Ledger.ApplyEvent(ctx, ev)
	switch {
	case ledger.IsNotFound(err):
		c.AbortWithStatusJSON(http.StatusBadRequest, vqrAck{Error: true, ErrorReason: "E_ORDER_NOT_FOUND", ToastMessage: "transaction not found"})
	case err != nil:
		log.Error("vqr sync apply failed", "code", ev.Code, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, vqrAck{Error: true, ErrorReason: "E_INTERNAL", ToastMessage: "internal error"})
	default:
		log.Info("vqr sync applied", "code", ev.Code, "status", res.Transaction.Status, "replayed", res.Replayed)
		c.JSON(http.StatusOK, vqrAck{Object: &vqrObject{RefTransactionID: res.Transaction.ID}})
	}
}

func (h WebhookHandler) adapter(c *gin.Context, m ledger.Method) (Adapter, bool) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return nil, false
	}
	a, err := h.Gateways.Get(m)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "gateway not configured"})
		return nil, false
	}
	return a, true
}

func (h WebhookHandler) rejected(c *gin.Context, m ledger.Method, err error) {
	logger.FromGin(c).Warn("gateway notification rejected", "gateway", m, "client_ip", c.ClientIP(), "err", err)
	if h.Audit == nil {
		return
	}
	if aerr := h.Audit.LogVerificationFailure(c.Request.Context(), string(m), c.ClientIP(), err.Error()); aerr != nil {
		logger.FromGin(c).Error("audit verification failure", "err", aerr)
	}
}

func (h WebhookHandler) redirect(c *gin.Context, outcome string, q url.Values) {
	target := strings.TrimRight(h.FrontendURL, "/") + "/deposit/" + outcome
	if enc := q.Encode(); enc != "" {
		target += "?" + enc
	}
	c.Redirect(http.StatusFound, target)
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBytes))
}
