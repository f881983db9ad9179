package billing

import (
	"errors"
	"net/http"

	"saas-portal/internal/domain/orders"
	"saas-portal/internal/domain/plans"
	"saas-portal/internal/infra/stripe"
	"saas-portal/internal/service/payments"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func ToDTO(o *orders.Order) OrderDTO {
	return OrderDTO{
		OrderNo:       o.OrderNo,
		Status:        string(o.Status),
		DisplayStatus: stripe.DisplayStatus(string(o.Status)),
		Amount:        plans.MajorUnits(o.Amount, o.Currency),
		Currency:      o.Currency,
		PlanID:        o.PlanID,
		PaidAt:        o.PaidAt,
		Activated:     o.Activated(),
		CreatedAt:     o.CreatedAt,
	}
}

// GET /orders
func (h *Handler) ListOrders(c *gin.Context) {
	list, err := h.d.Payments.ListForUser(c.Request.Context(), c.GetString("uuid"))
	if err != nil {
		h.d.Log.Error("Failed to load orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load orders"})
		return
	}

	out := make([]OrderDTO, 0, len(list))
	for i := range list {
		out = append(out, ToDTO(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

// POST /orders/activate
func (h *Handler) ActivateOrder(c *gin.Context) {
	var body struct {
		OrderNo string `json:"order_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing order_no"})
		return
	}

	o, err := h.d.Payments.Activate(c.Request.Context(), body.OrderNo, c.GetString("uuid"), c.GetString("email"))
	switch {
	case errors.Is(err, payments.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	case errors.Is(err, payments.ErrNotOwner):
		h.d.Log.Warn("Order activation by non-owner",
			zap.String("order_no", body.OrderNo),
			zap.String("user_uuid", c.GetString("uuid")),
		)
		c.JSON(http.StatusForbidden, gin.H{"error": "Order belongs to another account"})
		return
	case errors.Is(err, payments.ErrNotPaid):
		c.JSON(http.StatusConflict, gin.H{"error": "Order is not paid"})
		return
	case err != nil:
		h.d.Log.Error("Failed to activate order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, ToDTO(o))
}
