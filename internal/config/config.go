package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process and ledgerctl.
// All values come from env, optionally seeded from a .env file (see Load).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Ledger LedgerConfig
	PayPal PayPalConfig
	VNPay  VNPayConfig
	VQR    VQRConfig
	AWS    AWSConfig
}

type AppConfig struct {
	Env  string
	Port int

	// FrontendURL receives browser redirects after a gateway return.
	FrontendURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"

	CodesRandom   = "random"
	CodesSequence = "sequence"
)

type LedgerConfig struct {
	// Backend selects the account/transaction store: postgres or dynamodb.
	Backend string
	// Codes selects the code generator: sequence (redis daily counter) or random.
	Codes        string
	CodePrefix   string
	CodeAttempts int

	LockTTL  time.Duration
	LockWait time.Duration

	MismatchTolerance int64
}

type PayPalConfig struct {
	BaseURL          string
	ClientID         string
	ClientSecret     string
	WebhookID        string
	Currency         string
	UnitsPerCurrency int64
	Timeout          time.Duration
}

func (c PayPalConfig) Enabled() bool { return c.ClientID != "" }

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Locale     string
}

func (c VNPayConfig) Enabled() bool { return c.TmnCode != "" }

type VQRConfig struct {
	Username       string
	Password       string
	TokenSecret    string
	ChecksumSecret string
	BankID         string
	AccountNo      string
	AccountName    string
	Template       string
	AmountDivisor  int64
}

func (c VQRConfig) Enabled() bool { return c.Username != "" }

type AWSConfig struct {
	Region             string
	AccountsTable      string
	TransactionsTable  string
	SettlementQueueURL string
}

// Load reads ENV_FILE (default .env) when present, then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.FrontendURL = strings.TrimRight(strings.TrimSpace(os.Getenv("FRONTEND_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Ledger.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_BACKEND")))
	c.Ledger.Codes = strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_CODES")))
	c.Ledger.CodePrefix = strings.ToUpper(strings.TrimSpace(os.Getenv("LEDGER_CODE_PREFIX")))
	{
		n, err := optionalInt("LEDGER_CODE_ATTEMPTS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Ledger.CodeAttempts = n
	}
	c.Ledger.LockTTL = mustDuration("LEDGER_LOCK_TTL")
	c.Ledger.LockWait = mustDuration("LEDGER_LOCK_WAIT")
	{
		n, err := optionalInt("LEDGER_MISMATCH_TOLERANCE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Ledger.MismatchTolerance = int64(n)
	}

	c.PayPal.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PAYPAL_BASE_URL")), "/")
	c.PayPal.ClientID = strings.TrimSpace(os.Getenv("PAYPAL_CLIENT_ID"))
	c.PayPal.ClientSecret = os.Getenv("PAYPAL_CLIENT_SECRET")
	c.PayPal.WebhookID = strings.TrimSpace(os.Getenv("PAYPAL_WEBHOOK_ID"))
	c.PayPal.Currency = strings.ToUpper(strings.TrimSpace(os.Getenv("PAYPAL_CURRENCY")))
	{
		n, err := optionalInt("PAYPAL_UNITS_PER_CURRENCY")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.PayPal.UnitsPerCurrency = int64(n)
	}
	c.PayPal.Timeout = mustDuration("PAYPAL_TIMEOUT")

	c.VNPay.TmnCode = strings.TrimSpace(os.Getenv("VNPAY_TMN_CODE"))
	c.VNPay.HashSecret = os.Getenv("VNPAY_HASH_SECRET")
	c.VNPay.PayURL = strings.TrimSpace(os.Getenv("VNPAY_PAY_URL"))
	c.VNPay.ReturnURL = strings.TrimSpace(os.Getenv("VNPAY_RETURN_URL"))
	c.VNPay.Locale = strings.TrimSpace(os.Getenv("VNPAY_LOCALE"))

	c.VQR.Username = strings.TrimSpace(os.Getenv("VQR_USERNAME"))
	c.VQR.Password = os.Getenv("VQR_PASSWORD")
	c.VQR.TokenSecret = os.Getenv("VQR_TOKEN_SECRET")
	c.VQR.ChecksumSecret = os.Getenv("VQR_CHECKSUM_SECRET")
	c.VQR.BankID = strings.TrimSpace(os.Getenv("VQR_BANK_ID"))
	c.VQR.AccountNo = strings.TrimSpace(os.Getenv("VQR_ACCOUNT_NO"))
	c.VQR.AccountName = strings.TrimSpace(os.Getenv("VQR_ACCOUNT_NAME"))
	c.VQR.Template = strings.TrimSpace(os.Getenv("VQR_TEMPLATE"))
	{
		n, err := optionalInt("VQR_AMOUNT_DIVISOR")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.VQR.AmountDivisor = int64(n)
	}

	c.AWS.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	c.AWS.AccountsTable = strings.TrimSpace(os.Getenv("DYNAMODB_ACCOUNTS_TABLE"))
	c.AWS.TransactionsTable = strings.TrimSpace(os.Getenv("DYNAMODB_TRANSACTIONS_TABLE"))
	c.AWS.SettlementQueueURL = strings.TrimSpace(os.Getenv("SETTLEMENT_QUEUE_URL"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.FrontendURL == "" {
		c.App.FrontendURL = "http://localhost:3000"
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("REDIS_DB must not be negative, got %d", c.Redis.DB))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.validateLedger()...)
	errs = append(errs, c.validateGateways()...)

	if c.Ledger.Backend == BackendDynamoDB {
		if c.AWS.Region == "" {
			errs = append(errs, errors.New("AWS_REGION is required for the dynamodb backend"))
		}
		if c.AWS.AccountsTable == "" || c.AWS.TransactionsTable == "" {
			errs = append(errs, errors.New("DYNAMODB_ACCOUNTS_TABLE and DYNAMODB_TRANSACTIONS_TABLE are required for the dynamodb backend"))
		}
	}
	if c.AWS.SettlementQueueURL != "" && c.AWS.Region == "" {
		errs = append(errs, errors.New("AWS_REGION is required when SETTLEMENT_QUEUE_URL is set"))
	}

	return joinErrors(errs)
}

func (c *Config) validateLedger() []error {
	var errs []error
	l := &c.Ledger

	switch l.Backend {
	case "":
		l.Backend = BackendPostgres
	case BackendPostgres, BackendDynamoDB:
	default:
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND must be postgres or dynamodb, got %q", l.Backend))
	}
	switch l.Codes {
	case "":
		l.Codes = CodesSequence
	case CodesSequence, CodesRandom:
	default:
		errs = append(errs, fmt.Errorf("LEDGER_CODES must be sequence or random, got %q", l.Codes))
	}
	if l.CodePrefix == "" {
		l.CodePrefix = "TX"
	}
	for _, r := range l.CodePrefix {
		if r < 'A' || r > 'Z' {
			errs = append(errs, fmt.Errorf("LEDGER_CODE_PREFIX must be letters only, got %q", l.CodePrefix))
			break
		}
	}
	if l.CodeAttempts <= 0 {
		l.CodeAttempts = 5
	}
	if l.LockTTL <= 0 {
		l.LockTTL = 10 * time.Second
	}
	if l.LockWait <= 0 {
		l.LockWait = 5 * time.Second
	}
	if l.MismatchTolerance < 0 {
		errs = append(errs, fmt.Errorf("LEDGER_MISMATCH_TOLERANCE must not be negative, got %d", l.MismatchTolerance))
	}
	return errs
}

func (c *Config) validateGateways() []error {
	var errs []error

	if c.PayPal.Enabled() {
		if c.PayPal.ClientSecret == "" || c.PayPal.WebhookID == "" {
			errs = append(errs, errors.New("PAYPAL_CLIENT_SECRET and PAYPAL_WEBHOOK_ID are required when PAYPAL_CLIENT_ID is set"))
		}
		if c.PayPal.BaseURL == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("PAYPAL_BASE_URL is required in production"))
			} else {
				c.PayPal.BaseURL = "https://api-m.sandbox.paypal.com"
			}
		}
		if c.PayPal.Currency == "" {
			c.PayPal.Currency = "USD"
		}
		if c.PayPal.UnitsPerCurrency <= 0 {
			c.PayPal.UnitsPerCurrency = 1
		}
		if c.PayPal.Timeout <= 0 {
			c.PayPal.Timeout = 10 * time.Second
		}
	}

	if c.VNPay.Enabled() {
		if c.VNPay.HashSecret == "" || c.VNPay.ReturnURL == "" {
			errs = append(errs, errors.New("VNPAY_HASH_SECRET and VNPAY_RETURN_URL are required when VNPAY_TMN_CODE is set"))
		}
		if c.VNPay.PayURL == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("VNPAY_PAY_URL is required in production"))
			} else {
				c.VNPay.PayURL = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"
			}
		}
		if c.VNPay.Locale == "" {
			c.VNPay.Locale = "vn"
		}
	}

	if c.VQR.Enabled() {
		if c.VQR.Password == "" || c.VQR.TokenSecret == "" || c.VQR.ChecksumSecret == "" {
			errs = append(errs, errors.New("VQR_PASSWORD, VQR_TOKEN_SECRET and VQR_CHECKSUM_SECRET are required when VQR_USERNAME is set"))
		}
		if c.VQR.BankID == "" || c.VQR.AccountNo == "" {
			errs = append(errs, errors.New("VQR_BANK_ID and VQR_ACCOUNT_NO are required when VQR_USERNAME is set"))
		}
		if c.VQR.AmountDivisor <= 0 {
			c.VQR.AmountDivisor = 1
		}
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optionalInt returns 0 for an unset key so Validate can apply the default.
func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
