package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"payment-ledger/internal/ledger"
)

// Adapter defines the provider-agnostic interface used by the payment flows.
//
// Rules:
// - No provider calls outside gateway adapters.
// - VerifyInboundNotification never trusts an unsigned payload.
// - The correlation code travels in a field the provider round-trips unmodified.
type Adapter interface {
	Method() ledger.Method

	BuildPaymentRequest(ctx context.Context, req PaymentRequest) (ProviderRequest, error)
	VerifyInboundNotification(ctx context.Context, n Notification) (ledger.GatewayEvent, error)
}

// ErrUnsupportedEvent marks a verified notification the ledger does not act on.
// Handlers acknowledge it so the provider stops retrying.
var ErrUnsupportedEvent = errors.New("gateway: unsupported event")

// ErrUnauthorized marks a caller that failed authentication, as opposed to a bad payload.
var ErrUnauthorized = errors.New("gateway: unauthorized")

// PaymentRequest asks a provider to collect Amount (ledger units) for Code.
type PaymentRequest struct {
	Amount      int64
	Code        string
	Description string
	Return      ReturnContext
}

type ReturnContext struct {
	ReturnURL string
	CancelURL string
	ClientIP  string
	Locale    string
	// BankCode preselects a bank on the VNPay page (optional).
	BankCode string
}

// ProviderRequest is what the client needs to complete a payment at the provider.
type ProviderRequest struct {
	Method      ledger.Method     `json:"method"`
	Code        string            `json:"transaction_code"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	ProviderRef string            `json:"provider_ref,omitempty"`
	QRPayload   string            `json:"qr_payload,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Notification is an inbound provider callback exactly as received.
type Notification struct {
	Body    []byte
	Headers http.Header
	Query   url.Values
}

// Registry maps methods to configured adapters.
type Registry struct {
	adapters map[ledger.Method]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[ledger.Method]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		r.adapters[a.Method()] = a
	}
	return r
}

func (r *Registry) Get(m ledger.Method) (Adapter, error) {
	if r != nil {
		if a, ok := r.adapters[m]; ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: gateway %q not configured", ledger.ErrInvalidArgument, m)
}

// Methods lists the configured gateways in a stable order.
func (r *Registry) Methods() []ledger.Method {
	if r == nil {
		return nil
	}
	out := make([]ledger.Method, 0, len(r.adapters))
	for m := range r.adapters {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

func verifyErr(m ledger.Method, reason string, err error) error {
	return &ledger.VerificationError{Gateway: m, Reason: reason, Err: err}
}
