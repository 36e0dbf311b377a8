package httpapi

import (
	"net/http"

	"payment-ledger/internal/orders"

	"github.com/gin-gonic/gin"
)

type placeOrderRequest struct {
	ProductID string `json:"product_id"`
}

// PlaceOrder buys a product from the caller's balance.
// An unaffordable product is a 402 and leaves no order behind.
func (h Handlers) PlaceOrder(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ProductID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "product_id required"})
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Ledger.OpenAccount(ctx, uid); err != nil {
		writeError(c, err)
		return
	}
	res, err := h.Orders.PlaceOrder(ctx, uid, req.ProductID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h Handlers) ListMyOrders(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	out, err := h.Orders.ListOrders(c.Request.Context(), uid, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "limit": limit, "offset": offset})
}

type orderResponse struct {
	Order       orders.Order        `json:"order"`
	Entitlement *orders.Entitlement `json:"entitlement,omitempty"`
}

// GetMyOrder returns an order and, while it is completed, its download.
func (h Handlers) GetMyOrder(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	o, err := h.Orders.GetOrder(ctx, uid, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := orderResponse{Order: o}
	if o.Status == orders.OrderStatusCompleted {
		ent, err := h.Orders.Entitlement(ctx, o)
		if err != nil {
			writeError(c, err)
			return
		}
		out.Entitlement = &ent
	}
	c.JSON(http.StatusOK, out)
}

type refundRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (h Handlers) RequestRefund(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "order_id required"})
		return
	}
	r, err := h.Orders.RequestRefund(c.Request.Context(), uid, req.OrderID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// CancelMyRefund withdraws one of the caller's refunds while it is still pending.
func (h Handlers) CancelMyRefund(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	r, err := h.Orders.CancelRefund(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h Handlers) ListMyRefunds(c *gin.Context) {
	uid, ok := h.caller(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	out, err := h.Orders.ListRefunds(c.Request.Context(), orders.RefundFilter{
		UserID: uid,
		Status: orders.RefundStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "limit": limit, "offset": offset})
}
