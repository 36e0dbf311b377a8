package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"payment-ledger/internal/ledger"
)

const (
	vnpayVersion    = "2.1.0"
	vnpayDateLayout = "20060102150405"

	// VNPayMinAmount is the smallest deposit VNPay accepts, in VND.
	VNPayMinAmount int64 = 10000
	vnpayExpiry          = 15 * time.Minute
	vnpayAmountScale     = 100
)

// IPN response codes VNPay expects in the acknowledgement body.
const (
	VNPayRspConfirmed        = "00"
	VNPayRspOrderNotFound    = "01"
	VNPayRspAlreadyConfirmed = "02"
	VNPayRspInvalidSignature = "97"
	VNPayRspUnknownError     = "99"
)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Locale     string
}

// VNPay is a redirect gateway. Payment URLs and IPN/return callbacks are signed with
// HMAC-SHA512 over the sorted, query-escaped parameters.
type VNPay struct {
	cfg   VNPayConfig
	loc   *time.Location
	clock func() time.Time
}

func NewVNPay(cfg VNPayConfig) *VNPay {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	return &VNPay{cfg: cfg, loc: loc, clock: time.Now}
}

func (v *VNPay) Method() ledger.Method { return ledger.MethodVNPay }

func (v *VNPay) BuildPaymentRequest(_ context.Context, req PaymentRequest) (ProviderRequest, error) {
	if req.Code == "" {
		return ProviderRequest{}, fmt.Errorf("%w: code is required", ledger.ErrInvalidArgument)
	}
	if req.Amount < VNPayMinAmount {
		return ProviderRequest{}, fmt.Errorf("%w: vnpay minimum amount is %d", ledger.ErrInvalidArgument, VNPayMinAmount)
	}
	if req.Amount > ledger.MaxAmount {
		return ProviderRequest{}, fmt.Errorf("%w: vnpay maximum amount is %d", ledger.ErrInvalidArgument, ledger.MaxAmount)
	}

	now := v.clock().In(v.loc)
	locale := req.Return.Locale
	if locale == "" {
		locale = v.cfg.Locale
	}
	returnURL := req.Return.ReturnURL
	if returnURL == "" {
		returnURL = v.cfg.ReturnURL
	}
	info := req.Description
	if info == "" {
		info = "Deposit " + req.Code
	}

	params := url.Values{}
	params.Set("vnp_Version", vnpayVersion)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", v.cfg.TmnCode)
	params.Set("vnp_Locale", locale)
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", req.Code)
	params.Set("vnp_OrderInfo", info)
	params.Set("vnp_OrderType", "billpayment")
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*vnpayAmountScale, 10))
	params.Set("vnp_ReturnUrl", returnURL)
	params.Set("vnp_IpAddr", req.Return.ClientIP)
	params.Set("vnp_CreateDate", now.Format(vnpayDateLayout))
	params.Set("vnp_ExpireDate", now.Add(vnpayExpiry).Format(vnpayDateLayout))
	if req.Return.BankCode != "" {
		params.Set("vnp_BankCode", req.Return.BankCode)
	}

	signData := vnpaySignData(params)
	query := signData + "&vnp_SecureHash=" + v.sign(signData)

	fields := make(map[string]string, len(params))
	for k := range params {
		fields[k] = params.Get(k)
	}
	return ProviderRequest{
		Method:      ledger.MethodVNPay,
		Code:        req.Code,
		RedirectURL: v.cfg.PayURL + "?" + query,
		Fields:      fields,
	}, nil
}

// VerifyInboundNotification handles both the IPN and the browser return; they carry the
// same signed query parameters.
func (v *VNPay) VerifyInboundNotification(_ context.Context, n Notification) (ledger.GatewayEvent, error) {
	q := n.Query
	got := q.Get("vnp_SecureHash")
	if got == "" {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodVNPay, "missing vnp_SecureHash", nil)
	}

	signed := url.Values{}
	for k, vals := range q {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" || !strings.HasPrefix(k, "vnp_") {
			continue
		}
		signed[k] = vals
	}
	want := v.sign(vnpaySignData(signed))
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodVNPay, "signature mismatch", nil)
	}
	if tmn := q.Get("vnp_TmnCode"); tmn != v.cfg.TmnCode {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodVNPay, "unexpected vnp_TmnCode", nil)
	}

	code := q.Get("vnp_TxnRef")
	if code == "" {
		return ledger.GatewayEvent{}, verifyErr(ledger.MethodVNPay, "missing vnp_TxnRef", nil)
	}

	var amount int64
	if raw := q.Get("vnp_Amount"); raw != "" {
		a, err := unitsFromScaled(raw, vnpayAmountScale)
		if err != nil {
			return ledger.GatewayEvent{}, verifyErr(ledger.MethodVNPay, "bad vnp_Amount", err)
		}
		amount = a
	}

	return ledger.GatewayEvent{
		Code:        code,
		ProviderRef: q.Get("vnp_TransactionNo"),
		Outcome:     vnpayOutcome(q.Get("vnp_ResponseCode"), q.Get("vnp_TransactionStatus")),
		Amount:      amount,
		Gateway:     ledger.MethodVNPay,
		Signature:   got,
		Raw:         []byte(q.Encode()),
	}, nil
}

func vnpayOutcome(responseCode, transactionStatus string) ledger.Outcome {
	switch {
	case responseCode == "00" && (transactionStatus == "" || transactionStatus == "00"):
		return ledger.OutcomeApproved
	case transactionStatus == "01":
		return ledger.OutcomePending
	default:
		return ledger.OutcomeDenied
	}
}

func (v *VNPay) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(v.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// vnpaySignData joins params as k=v pairs in ascending key order with escaped values.
func vnpaySignData(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}
