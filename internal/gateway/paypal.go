package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"payment-ledger/internal/ledger"
)

const (
	paypalTokenSkew      = 60 * time.Second
	paypalDefaultTimeout = 10 * time.Second
)

type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	Currency     string

	// UnitsPerCurrency converts one currency unit to ledger units (e.g. 100 for cents).
	UnitsPerCurrency int64
	Timeout          time.Duration
}

// PayPal talks to the PayPal REST API. Webhooks are verified remotely via
// /v1/notifications/verify-webhook-signature.
type PayPal struct {
	cfg    PayPalConfig
	client *http.Client
	clock  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewPayPal(cfg PayPalConfig) *PayPal {
	if cfg.Timeout <= 0 {
		cfg.Timeout = paypalDefaultTimeout
	}
	if cfg.UnitsPerCurrency <= 0 {
		cfg.UnitsPerCurrency = 1
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &PayPal{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, clock: time.Now}
}

func (p *PayPal) Method() ledger.Method { return ledger.MethodPayPal }

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		CustomID  string       `json:"custom_id"`
		InvoiceID string       `json:"invoice_id"`
		Amount    paypalAmount `json:"amount"`
		Payments  struct {
			Captures []struct {
				ID       string       `json:"id"`
				Status   string       `json:"status"`
				CustomID string       `json:"custom_id"`
				Amount   paypalAmount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (p *PayPal) BuildPaymentRequest(ctx context.Context, req PaymentRequest) (ProviderRequest, error) {
	if req.Code == "" || req.Amount <= 0 {
		return ProviderRequest{}, fmt.Errorf("%w: code and positive amount are required", ledger.ErrInvalidArgument)
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"custom_id":   req.Code,
			"invoice_id":  req.Code,
			"description": req.Description,
			"amount": paypalAmount{
				CurrencyCode: p.cfg.Currency,
				Value:        decimalFromUnits(req.Amount, p.cfg.UnitsPerCurrency),
			},
		}},
		"application_context": map[string]string{
			"return_url":  req.Return.ReturnURL,
			"cancel_url":  req.Return.CancelURL,
			"user_action": "PAY_NOW",
		},
	}

	var order paypalOrder
	if err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", body, &order); err != nil {
		return ProviderRequest{}, fmt.Errorf("paypal create order: %w", err)
	}

	out := ProviderRequest{Method: ledger.MethodPayPal, Code: req.Code, ProviderRef: order.ID}
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			out.RedirectURL = l.Href
			break
		}
	}
	if out.RedirectURL == "" {
		return ProviderRequest{}, errors.New("paypal create order: no approve link")
	}
	return out, nil
}

type paypalWebhookEvent struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Resource     struct {
		ID        string       `json:"id"`
		Status    string       `json:"status"`
		CustomID  string       `json:"custom_id"`
		InvoiceID string       `json:"invoice_id"`
		Amount    paypalAmount `json:"amount"`
		// CHECKOUT.ORDER.* resources carry purchase units instead.
		PurchaseUnits []struct {
			CustomID  string       `json:"custom_id"`
			InvoiceID string       `json:"invoice_id"`
			Amount    paypalAmount `json:"amount"`
		} `json:"purchase_units"`
	} `json:"resource"`
}

var paypalRequiredHeaders = []string{
	"PAYPAL-TRANSMISSION-ID",
	"PAYPAL-TRANSMISSION-TIME",
	"PAYPAL-TRANSMISSION-SIG",
	"PAYPAL-CERT-URL",
	"PAYPAL-AUTH-ALGO",
}

func (p *PayPal) VerifyInboundNotification(ctx context.Context, n Notification) (ledger.GatewayEvent, error) {
	for _, h := range paypalRequiredHeaders {
		if n.Headers.Get(h) == "" {
			return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "missing header "+h, nil)
		}
	}
	if !json.Valid(n.Body) {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "malformed body", nil)
	}

	verifyReq := map[string]any{
		"transmission_id":   n.Headers.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_time": n.Headers.Get("PAYPAL-TRANSMISSION-TIME"),
		"transmission_sig":  n.Headers.Get("PAYPAL-TRANSMISSION-SIG"),
		"cert_url":          n.Headers.Get("PAYPAL-CERT-URL"),
		"auth_algo":         n.Headers.Get("PAYPAL-AUTH-ALGO"),
		"webhook_id":        p.cfg.WebhookID,
		"webhook_event":     json.RawMessage(n.Body),
	}
	var verdict struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", verifyReq, &verdict); err != nil {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "remote verification failed", err)
	}
	if verdict.VerificationStatus != "SUCCESS" {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "signature rejected: "+verdict.VerificationStatus, nil)
	}

	var ev paypalWebhookEvent
	if err := json.Unmarshal(n.Body, &ev); err != nil {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "malformed event", err)
	}

	var outcome ledger.Outcome
	switch ev.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		outcome = ledger.OutcomeApproved
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		outcome = ledger.OutcomeDenied
	case "PAYMENT.CAPTURE.PENDING", "CHECKOUT.ORDER.APPROVED":
		outcome = ledger.OutcomePending
	default:
		return ledger.GatewayEvent{}, ErrUnsupportedEvent
	}

	r := ev.Resource
	code, amount := firstNonEmpty(r.CustomID, r.InvoiceID), r.Amount
	if code == "" && len(r.PurchaseUnits) > 0 {
		pu := r.PurchaseUnits[0]
		code, amount = firstNonEmpty(pu.CustomID, pu.InvoiceID), pu.Amount
	}
	if code == "" {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "no custom_id on resource", nil)
	}

	units, err := p.reportedUnits(amount)
	if err != nil {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "bad amount", err)
	}

	return ledger.GatewayEvent{
		Code:        code,
		ProviderRef: r.ID,
		Outcome:     outcome,
		Amount:      units,
		Gateway:     ledger.MethodPayPal,
		Signature:   n.Headers.Get("PAYPAL-TRANSMISSION-SIG"),
		Raw:         n.Body,
	}, nil
}

// Capture completes an approved checkout order after the payer returns from PayPal.
// The authenticated server-to-server call stands in for a webhook signature.
func (p *PayPal) Capture(ctx context.Context, orderID string) (ledger.GatewayEvent, error) {
	if orderID == "" {
		return ledger.GatewayEvent{}, fmt.Errorf("%w: paypal order id is required", ledger.ErrInvalidArgument)
	}
	path := "/v2/checkout/orders/" + url.PathEscape(orderID)

	var order paypalOrder
	if err := p.call(ctx, http.MethodGet, path, nil, &order); err != nil {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "fetch order failed", err)
	}
	if order.Status == "APPROVED" {
		var captured paypalOrder
		if err := p.call(ctx, http.MethodPost, path+"/capture", map[string]any{}, &captured); err != nil {
			return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "capture failed", err)
		}
		order = captured
	}
	if len(order.PurchaseUnits) == 0 {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "order has no purchase units", nil)
	}

	pu := order.PurchaseUnits[0]
	code, amount, ref := firstNonEmpty(pu.CustomID, pu.InvoiceID), pu.Amount, order.ID
	captureStatus := order.Status
	if caps := pu.Payments.Captures; len(caps) > 0 {
		ref, amount, captureStatus = caps[0].ID, caps[0].Amount, caps[0].Status
		code = firstNonEmpty(code, caps[0].CustomID)
	}
	if code == "" {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "no custom_id on order", nil)
	}

	var outcome ledger.Outcome
	switch captureStatus {
	case "COMPLETED":
		outcome = ledger.OutcomeApproved
	case "DECLINED", "DENIED", "FAILED", "VOIDED":
		outcome = ledger.OutcomeDenied
	default:
		outcome = ledger.OutcomePending
	}

	units, err := p.reportedUnits(amount)
	if err != nil {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodPayPal, "bad amount", err)
	}
	return ledger.GatewayEvent{
		Code:        code,
		ProviderRef: ref,
		Outcome:     outcome,
		Amount:      units,
		Gateway:     ledger.MethodPayPal,
	}, nil
}

func (p *PayPal) reportedUnits(a paypalAmount) (int64, error) {
	if a.Value == "" {
		return 0, nil
	}
	return unitsFromDecimal(a.Value, p.cfg.UnitsPerCurrency)
}

// accessToken returns a cached client-credentials token, refreshing it shortly before expiry.
func (p *PayPal) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.clock().Before(p.tokenExpiry) {
		return p.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token: status %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("paypal token: decode: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("paypal token: empty access_token")
	}

	p.token = tok.AccessToken
	p.tokenExpiry = p.clock().Add(time.Duration(tok.ExpiresIn)*time.Second - paypalTokenSkew)
	return p.token, nil
}

func (p *PayPal) call(ctx context.Context, method, path string, in, out any) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
