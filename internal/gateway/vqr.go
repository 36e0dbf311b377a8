package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"payment-ledger/internal/ledger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	vqrTokenTTL      = 300 * time.Second
	vqrTokenAudience = "vqr-processor"
	vqrQuickLinkBase = "https://img.vietqr.io/image/"
)

type VQRConfig struct {
	// Credentials the processor presents (HTTP Basic) to obtain a bearer token.
	Username string
	Password string

	// TokenSecret signs issued bearer tokens (HS256).
	TokenSecret string
	// ChecksumSecret keys the per-transaction HMAC-SHA256 checksum.
	ChecksumSecret string

	BankID      string
	AccountNo   string
	AccountName string
	Template    string

	// AmountDivisor converts VND to ledger units (1 when units are VND).
	AmountDivisor int64
	CodePrefix    string
}

// VQR is a bank-transfer QR processor. Payers scan a QR whose transfer content carries the
// code; the processor later pushes matched bank credits to transaction-sync.
type VQR struct {
	cfg     VQRConfig
	pattern *regexp.Regexp
	clock   func() time.Time
}

func NewVQR(cfg VQRConfig) *VQR {
	if cfg.AmountDivisor <= 0 {
		cfg.AmountDivisor = 1
	}
	if cfg.Template == "" {
		cfg.Template = "compact2"
	}
	return &VQR{cfg: cfg, pattern: ledger.CodePattern(cfg.CodePrefix), clock: time.Now}
}

func (q *VQR) Method() ledger.Method { return ledger.MethodVQR }

func (q *VQR) BuildPaymentRequest(_ context.Context, req PaymentRequest) (ProviderRequest, error) {
	if req.Code == "" || req.Amount <= 0 {
		return ProviderRequest{}, fmt.Errorf("%w: code and positive amount are required", ledger.ErrInvalidArgument)
	}
	if req.Amount > math.MaxInt64/q.cfg.AmountDivisor {
		return ProviderRequest{}, fmt.Errorf("%w: amount too large", ledger.ErrInvalidArgument)
	}
	vnd := req.Amount * q.cfg.AmountDivisor

	v := url.Values{}
	v.Set("amount", strconv.FormatInt(vnd, 10))
	v.Set("addInfo", req.Code)
	if q.cfg.AccountName != "" {
		v.Set("accountName", q.cfg.AccountName)
	}
	link := fmt.Sprintf("%s%s-%s-%s.png?%s", vqrQuickLinkBase, q.cfg.BankID, q.cfg.AccountNo, q.cfg.Template, v.Encode())

	return ProviderRequest{
		Method:      ledger.MethodVQR,
		Code:        req.Code,
		RedirectURL: link,
		QRPayload:   link,
		Fields: map[string]string{
			"bank_id":      q.cfg.BankID,
			"account_no":   q.cfg.AccountNo,
			"account_name": q.cfg.AccountName,
			"amount":       strconv.FormatInt(vnd, 10),
			"content":      req.Code,
		},
	}, nil
}

// VQRToken is the token_generate response body.
type VQRToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// IssueToken checks the processor's Basic credentials and returns a short-lived bearer token.
func (q *VQR) IssueToken(username, password string) (VQRToken, error) {
	userOK := hmac.Equal([]byte(username), []byte(q.cfg.Username))
	passOK := hmac.Equal([]byte(password), []byte(q.cfg.Password))
	if q.cfg.Username == "" || !userOK || !passOK {
		return VQRToken{}, verifyErr(ledger.MethodVQR, "invalid credentials", ErrUnauthorized)
	}

	now := q.clock()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Audience:  jwt.ClaimStrings{vqrTokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(vqrTokenTTL)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(q.cfg.TokenSecret))
	if err != nil {
		return VQRToken{}, fmt.Errorf("sign vqr token: %w", err)
	}
	return VQRToken{AccessToken: signed, TokenType: "Bearer", ExpiresIn: int(vqrTokenTTL / time.Second)}, nil
}

func (q *VQR) checkBearer(header string) error {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return errors.New("missing bearer token")
	}
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (any, error) {
		return []byte(q.cfg.TokenSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(vqrTokenAudience),
		jwt.WithTimeFunc(q.clock),
	)
	if err != nil {
		return err
	}
	if !tok.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// VQRTransaction is one bank credit pushed to transaction-sync.
type VQRTransaction struct {
	BankAccount     string `json:"bankaccount"`
	Amount          string `json:"amount"`
	TransType       string `json:"transType"`
	Content         string `json:"content"`
	TransactionID   string `json:"transactionid"`
	TransactionTime string `json:"transactiontime"`
	ReferenceNumber string `json:"referencenumber"`
	OrderID         string `json:"orderId"`
	Checksum        string `json:"checksum"`
}

// UnmarshalJSON accepts amount and transactiontime as either JSON strings or numbers.
func (t *VQRTransaction) UnmarshalJSON(b []byte) error {
	type alias VQRTransaction
	aux := struct {
		*alias
		Amount          json.RawMessage `json:"amount"`
		TransactionTime json.RawMessage `json:"transactiontime"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	t.Amount = scalarString(aux.Amount)
	t.TransactionTime = scalarString(aux.TransactionTime)
	return nil
}

func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func (q *VQR) checksum(t VQRTransaction) string {
	mac := hmac.New(sha256.New, []byte(q.cfg.ChecksumSecret))
	mac.Write([]byte(t.TransactionID + "|" + t.Amount + "|" + t.Content + "|" + t.TransactionTime))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyInboundNotification authenticates a transaction-sync push. Both the bearer token
// and the body checksum must verify.
func (q *VQR) VerifyInboundNotification(_ context.Context, n Notification) (ledger.GatewayEvent, error) {
	if err := q.checkBearer(n.Headers.Get("Authorization")); err != nil {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodVQR, "bearer token rejected", fmt.Errorf("%w: %v", ErrUnauthorized, err))
	}

	var t VQRTransaction
	if err := json.Unmarshal(n.Body, &t); err != nil {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodVQR, "malformed body", err)
	}
	if t.Checksum == "" || !hmac.Equal([]byte(strings.ToLower(t.Checksum)), []byte(q.checksum(t))) {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodVQR, "checksum mismatch", nil)
	}

	if !strings.EqualFold(t.TransType, "C") {
		return ledger.GatewayEvent{}, ErrUnsupportedEvent
	}

	code := strings.TrimSpace(t.OrderID)
	if code == "" {
		code = q.pattern.FindString(strings.ToUpper(t.Content))
	}
	if code == "" {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodVQR, "no transaction code in content", nil)
	}

	amount, err := unitsFromScaled(t.Amount, q.cfg.AmountDivisor)
	if err != nil {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodVQR, "bad amount", err)
	}

	return ledger.GatewayEvent{
		Code:        code,
		ProviderRef: t.TransactionID,
		Outcome:     ledger.OutcomeApproved,
		Amount:      amount,
		Gateway:     ledger.MethodVQR,
		Signature:   t.Checksum,
		Raw:         n.Body,
	}, nil
}
