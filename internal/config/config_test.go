package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "ledger"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "ledger"
	c.Auth.JWTAudience = "ledger-api"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Ledger.Backend != BackendPostgres || c.Ledger.Codes != CodesSequence || c.Ledger.CodePrefix != "TX" {
		t.Fatalf("unexpected ledger defaults %+v", c.Ledger)
	}
	if c.Ledger.CodeAttempts != 5 || c.Ledger.LockTTL != 10*time.Second || c.Ledger.LockWait != 5*time.Second {
		t.Fatalf("unexpected ledger defaults %+v", c.Ledger)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected access ttl default, got %s", c.Auth.AccessTokenTTL)
	}
	if c.PayPal.Enabled() || c.VNPay.Enabled() || c.VQR.Enabled() {
		t.Fatalf("no gateway should be enabled by default")
	}
}

func TestValidate_PartialGatewayConfig(t *testing.T) {
	c := validLocal()
	c.VNPay.TmnCode = "DEMO0001"
	c.VQR.Username = "vqr-bot"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected errors for partial gateway config")
	}
	for _, want := range []string{"VNPAY_HASH_SECRET", "VQR_PASSWORD", "VQR_BANK_ID"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidate_DynamoBackendNeedsTables(t *testing.T) {
	c := validLocal()
	c.Ledger.Backend = BackendDynamoDB
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "AWS_REGION") {
		t.Fatalf("expected AWS errors, got %v", err)
	}

	c = validLocal()
	c.Ledger.Backend = BackendDynamoDB
	c.AWS = AWSConfig{Region: "ap-southeast-1", AccountsTable: "accounts", TransactionsTable: "transactions"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_RejectsBadCodePrefix(t *testing.T) {
	c := validLocal()
	c.Ledger.CodePrefix = "T1"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected prefix error")
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	body := strings.Join([]string{
		"APP_ENV=dev",
		"APP_PORT=9090",
		"DB_HOST=db",
		"DB_PORT=5432",
		"DB_USER=ledger",
		"DB_NAME=ledger",
		"REDIS_HOST=redis",
		"REDIS_PORT=6379",
		"JWT_SECRET=from-file",
		"VNPAY_TMN_CODE=DEMO0001",
		"VNPAY_HASH_SECRET=hash",
		"VNPAY_RETURN_URL=http://localhost:8080/payments/vnpay/return",
		"LEDGER_CODE_PREFIX=dp",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	// Process env wins over the file.
	t.Setenv("APP_PORT", "7070")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 7070 || c.App.Env != "dev" || c.Auth.JWTSecret != "from-file" {
		t.Fatalf("unexpected config %+v", c.App)
	}
	if !c.VNPay.Enabled() || c.VNPay.Locale != "vn" || c.VNPay.PayURL == "" {
		t.Fatalf("unexpected vnpay config %+v", c.VNPay)
	}
	if c.Ledger.CodePrefix != "DP" {
		t.Fatalf("expected upper-cased prefix, got %q", c.Ledger.CodePrefix)
	}
}
