// Command ledgerctl runs schema migrations, seeds the catalog and performs
// operator actions against the ledger without going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"payment-ledger/internal/app"
	"payment-ledger/internal/config"
	"payment-ledger/pkg/logger"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the payment ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(seedProductsCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(balanceCmd())
	root.AddCommand(txCmd())
	root.AddCommand(approveCmd())
	root.AddCommand(cancelCmd())
	root.AddCommand(approveRefundCmd())

	return root
}

// loadConfig reads config and installs a stderr logger so stdout stays machine readable.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.NewWithWriter(cfg.App.Env, os.Stderr)
	slog.SetDefault(log)
	return cfg, log, nil
}

// withApp runs fn against fully wired services.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := logger.With(cmd.Context(), log.With("cmd", cmd.Name()))
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
