// Package app assembles the ledger, orders and gateway services from config.
// cmd/api and cmd/ledgerctl share it so both run against the same stores.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"payment-ledger/internal/audit"
	"payment-ledger/internal/config"
	"payment-ledger/internal/gateway"
	"payment-ledger/internal/ledger"
	"payment-ledger/internal/ledger/dynamo"
	"payment-ledger/internal/notify"
	"payment-ledger/internal/orders"
	"payment-ledger/internal/pricing"
	"payment-ledger/internal/reporting"
	"payment-ledger/pkg/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Config config.Config
	DB     *sql.DB
	Redis  *redis.Client

	Ledger   *ledger.Engine
	Orders   *orders.Service
	Catalog  *pricing.PostgresRepo
	Reports  *reporting.Service
	Audit    *audit.Service
	Gateways *gateway.Registry
}

// New opens Postgres and Redis and wires every service. Close releases both.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	a := &App{Config: cfg, DB: db, Redis: rdb}
	if err := a.wire(ctx, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, log *slog.Logger) error {
	cfg := a.Config
	a.Audit = audit.NewService(audit.NewPostgresRepo(a.DB))

	var awsCfg *aws.Config
	if cfg.Ledger.Backend == config.BackendDynamoDB || cfg.AWS.SettlementQueueURL != "" {
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		awsCfg = &c
	}

	var store ledger.Store
	switch cfg.Ledger.Backend {
	case config.BackendDynamoDB:
		store = dynamo.New(dynamodb.NewFromConfig(*awsCfg), cfg.AWS.AccountsTable, cfg.AWS.TransactionsTable)
	case config.BackendPostgres, "":
		store = ledger.NewPostgresStore(a.DB)
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	var codes ledger.CodeGenerator
	if cfg.Ledger.Codes == config.CodesRandom {
		codes = ledger.NewRandomCodes(cfg.Ledger.CodePrefix)
	} else {
		codes = ledger.NewSequenceCodes(a.Redis, cfg.Ledger.CodePrefix)
	}

	var publisher ledger.Publisher = notify.Noop{}
	if cfg.AWS.SettlementQueueURL != "" {
		publisher = notify.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), cfg.AWS.SettlementQueueURL)
	}

	locker := ledger.NewRedisLocker(a.Redis, cfg.Ledger.LockTTL, cfg.Ledger.LockWait)
	a.Ledger = ledger.NewEngine(store, ledger.Options{
		Codes:             codes,
		Locker:            locker,
		Auditor:           a.Audit,
		Publisher:         publisher,
		MismatchTolerance: cfg.Ledger.MismatchTolerance,
		CodeAttempts:      cfg.Ledger.CodeAttempts,
	})

	a.Catalog = pricing.NewPostgresRepo(a.DB)
	a.Orders = orders.NewService(orders.Deps{
		Store:   orders.NewPostgresStore(a.DB),
		Ledger:  a.Ledger,
		Pricing: pricing.NewService(a.Catalog),
		Granter: orders.DownloadGranter{Products: a.Catalog},
		Locker:  locker,
		Audit:   a.Audit,
	})
	a.Reports = reporting.NewService(a.Ledger)
	a.Gateways = Gateways(cfg)

	log.Info("services wired",
		"ledger_backend", cfg.Ledger.Backend,
		"codes", cfg.Ledger.Codes,
		"gateways", a.Gateways.Methods(),
		"settlement_queue", cfg.AWS.SettlementQueueURL != "",
	)
	return nil
}

// Gateways registers an adapter for every gateway with credentials configured.
func Gateways(cfg config.Config) *gateway.Registry {
	var adapters []gateway.Adapter
	if cfg.PayPal.Enabled() {
		adapters = append(adapters, gateway.NewPayPal(gateway.PayPalConfig{
			BaseURL:          cfg.PayPal.BaseURL,
			ClientID:         cfg.PayPal.ClientID,
			ClientSecret:     cfg.PayPal.ClientSecret,
			WebhookID:        cfg.PayPal.WebhookID,
			Currency:         cfg.PayPal.Currency,
			UnitsPerCurrency: cfg.PayPal.UnitsPerCurrency,
			Timeout:          cfg.PayPal.Timeout,
		}))
	}
	if cfg.VNPay.Enabled() {
		adapters = append(adapters, gateway.NewVNPay(gateway.VNPayConfig{
			TmnCode:    cfg.VNPay.TmnCode,
			HashSecret: cfg.VNPay.HashSecret,
			PayURL:     cfg.VNPay.PayURL,
			ReturnURL:  cfg.VNPay.ReturnURL,
			Locale:     cfg.VNPay.Locale,
		}))
	}
	if cfg.VQR.Enabled() {
		adapters = append(adapters, gateway.NewVQR(gateway.VQRConfig{
			Username:       cfg.VQR.Username,
			Password:       cfg.VQR.Password,
			TokenSecret:    cfg.VQR.TokenSecret,
			ChecksumSecret: cfg.VQR.ChecksumSecret,
			BankID:         cfg.VQR.BankID,
			AccountNo:      cfg.VQR.AccountNo,
			AccountName:    cfg.VQR.AccountName,
			Template:       cfg.VQR.Template,
			AmountDivisor:  cfg.VQR.AmountDivisor,
			CodePrefix:     cfg.Ledger.CodePrefix,
		}))
	}
	return gateway.NewRegistry(adapters...)
}

func (a *App) Close() {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("close failed", "err", err)
	}
}
