package main

import (
	"net/http"
	"time"

	"payment-ledger/internal/app"
	"payment-ledger/internal/auth"
	"payment-ledger/internal/gateway"
	"payment-ledger/internal/httpapi"
	"payment-ledger/internal/rbac"
	"payment-ledger/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App, authManager *auth.Manager) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.DB, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider callbacks (public). Each adapter verifies its own signature scheme.
	{
		wh := gateway.WebhookHandler{
			Gateways:    a.Gateways,
			Ledger:      a.Ledger,
			Audit:       a.Audit,
			FrontendURL: a.Config.App.FrontendURL,
		}
		r.POST("/webhooks/paypal", wh.HandlePayPalWebhook)
		r.GET("/webhooks/vnpay/ipn", wh.HandleVNPayIPN)
		r.GET("/payments/vnpay/return", wh.HandleVNPayReturn)
		r.POST("/webhooks/vqr/api/token_generate", wh.HandleVQRToken)
		r.POST("/webhooks/vqr/bank/api/transaction-sync", wh.HandleVQRTransactionSync)
	}

	r.POST("/auth/refresh", auth.RefreshHandler(authManager))

	h := httpapi.Handlers{
		Ledger:      a.Ledger,
		Orders:      a.Orders,
		Reports:     a.Reports,
		Gateways:    a.Gateways,
		Audit:       a.Audit,
		FrontendURL: a.Config.App.FrontendURL,
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authManager), rbac.RequireUser())
	{
		me := v1.Group("/me")
		me.GET("/balance", h.GetBalance)
		me.GET("/transactions", h.ListMyTransactions)
		me.GET("/transactions/:code", h.GetMyTransaction)
		me.POST("/transactions/:code/cancel", h.CancelMyTransaction)
		me.GET("/spent", h.GetMySpent)

		v1.POST("/deposits", h.CreateDeposit)
		v1.POST("/deposits/paypal/capture", h.CapturePayPal)
		v1.POST("/withdrawals", h.CreateWithdrawal)

		v1.POST("/orders", h.PlaceOrder)
		v1.GET("/orders", h.ListMyOrders)
		v1.GET("/orders/:id", h.GetMyOrder)
		v1.POST("/refunds", h.RequestRefund)
		v1.GET("/refunds", h.ListMyRefunds)
		v1.POST("/refunds/:id/cancel", h.CancelMyRefund)

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.AdminRoles...))
		{
			admin.GET("/refunds", h.AdminListRefunds)
			admin.POST("/refunds/:id/approve", h.AdminApproveRefund)
			admin.POST("/refunds/:id/reject", h.AdminRejectRefund)
			admin.GET("/transactions/:code", h.AdminGetTransaction)
			admin.POST("/transactions/:code/approve", h.AdminApproveTransaction)
			admin.POST("/transactions/:code/cancel", h.AdminCancelTransaction)
			admin.GET("/reports/transactions", h.AdminTransactionStats)
		}
	}
}
