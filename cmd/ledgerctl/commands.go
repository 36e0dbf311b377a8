package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"payment-ledger/internal/app"
	"payment-ledger/internal/audit"
	"payment-ledger/internal/auth"
	"payment-ledger/internal/migrations"
	"payment-ledger/internal/pricing"
	"payment-ledger/internal/rbac"
	"payment-ledger/pkg/logger"
	"payment-ledger/pkg/utils"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := utils.OpenPostgres(cmd.Context(), "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := migrations.Apply(cmd.Context(), db)
			if err != nil {
				return err
			}
			log.Info("migrations applied", "count", len(applied), "versions", applied)
			return nil
		},
	}
}

func seedProductsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-products [file.yaml]",
		Short: "Upsert catalog products from a YAML file",
		Long: `Upsert catalog products from a YAML file.

Example:
  - id: chair
    name: Chair
    price: 30000
    discount_percent: 10
    download_url: https://files.example.com/chair.zip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			products, err := pricing.LoadProductsYAML(f)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := pricing.SeedProducts(ctx, a.Catalog, products)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products\n", n)
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue an access/refresh token pair for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !rbac.IsKnownRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			pair, err := m.IssuePair(time.Now(), args[0], role)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pair)
		},
	}
	cmd.Flags().StringVar(&role, "role", rbac.RoleCustomer, "role claim (customer, admin, finance, super_admin)")
	return cmd
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [user-id]",
		Short: "Show an account balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				acct, err := a.Ledger.GetAccountBalance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), acct)
			})
		},
	}
}

func txCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tx [code]",
		Short: "Show a transaction by its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				txn, err := a.Ledger.GetByCode(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), txn)
			})
		},
	}
}

func approveCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "approve [code]",
		Short: "Settle a pending transaction without a gateway (manual payouts)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Ledger.Approve(ctx, args[0])
				if err != nil {
					return err
				}
				if res.Applied {
					logOperator(ctx, a, actor, "approved transaction "+args[0], args[0])
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "ledgerctl", "operator recorded in the audit log")
	return cmd
}

func cancelCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "cancel [code]",
		Short: "Cancel a pending transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				txn, err := a.Ledger.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				logOperator(ctx, a, actor, "cancelled transaction "+args[0], args[0])
				return printJSON(cmd.OutOrStdout(), txn)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "ledgerctl", "operator recorded in the audit log")
	return cmd
}

func approveRefundCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "approve-refund [refund-id]",
		Short: "Approve a pending refund, or finish one whose credit did not complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				r, err := a.Orders.ApproveRefund(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), r)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "ledgerctl", "operator recorded in the audit log")
	return cmd
}

// logOperator records a CLI action the way admin API actions are recorded.
func logOperator(ctx context.Context, a *app.App, actor, message, code string) {
	err := a.Audit.LogAdminAction(ctx, audit.AdminAction{
		ActorUserID:     actor,
		ActorRole:       rbac.RoleSuperAdmin,
		Message:         message,
		TransactionCode: code,
	})
	if err != nil {
		logger.From(ctx).Error("audit operator action failed", "code", code, "err", err)
	}
}
