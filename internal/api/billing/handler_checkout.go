package billing

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"saas-portal/internal"
	"saas-portal/internal/domain/plans"
	"saas-portal/internal/domain/users"
	"saas-portal/internal/infra/mail"
	"saas-portal/internal/infra/stripe"
	"saas-portal/internal/service/payments"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	d *internal.Deps
}

func New(d *internal.Deps) *Handler { return &Handler{d: d} }

// POST /checkout
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var body struct {
		PlanID uint   `json:"plan_id" binding:"required"`
		Locale string `json:"locale"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid plan_id"})
		return
	}

	ctx := c.Request.Context()
	db := h.d.DB.WithContext(ctx)

	var plan plans.Plan
	err := db.Where("id = ? AND active = ?", body.PlanID, true).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown plan"})
		return
	}
	if err != nil {
		h.d.Log.Error("Failed to load plan", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var user users.User
	if err := db.Scopes(users.Active).First(&user, c.GetUint("user_id")).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}
	if !user.IsVerified {
		c.JSON(http.StatusForbidden, gin.H{"error": "Please verify your email first"})
		return
	}

	order, err := h.d.Payments.Create(ctx, payments.NewOrder{
		UserUUID: user.UUID,
		PlanID:   &plan.ID,
		Amount:   plan.Amount,
		Currency: plan.Currency,
	})
	if err != nil {
		h.d.Log.Error("Failed to create order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
		return
	}

	locale := body.Locale
	if locale == "" {
		locale = mail.DefaultLocale
	}
	base := strings.TrimRight(h.d.Config.AppURL, "/") + "/" + url.PathEscape(locale)

	sess, err := h.d.Stripe.CreateCheckoutSession(ctx, stripe.CheckoutParams{
		OrderNo:       order.OrderNo,
		PriceID:       plan.StripePriceID,
		Recurring:     plan.Recurring(),
		CustomerEmail: user.Email,
		SuccessURL:    fmt.Sprintf("%s/checkout/success?order_no=%s", base, url.QueryEscape(order.OrderNo)),
		CancelURL:     fmt.Sprintf("%s/checkout/cancel?order_no=%s", base, url.QueryEscape(order.OrderNo)),
	})
	if errors.Is(err, stripe.ErrNotConfigured) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payments are not configured"})
		return
	}
	if err != nil {
		h.d.Log.Error("Failed to create checkout session", zap.Error(err), zap.String("order_no", order.OrderNo))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to create checkout session"})
		return
	}

	if err := h.d.Payments.AttachSession(ctx, order.OrderNo, sess.ID); err != nil {
		h.d.Log.Error("Failed to attach checkout session", zap.Error(err), zap.String("order_no", order.OrderNo))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.d.Log.Info("Checkout session created",
		zap.String("order_no", order.OrderNo),
		zap.String("session_id", sess.ID),
		zap.String("user_uuid", user.UUID),
	)
	c.JSON(http.StatusOK, gin.H{"url": sess.URL, "order_no": order.OrderNo})
}

type OrderDTO struct {
	OrderNo       string     `json:"order_no"`
	Status        string     `json:"status"`
	DisplayStatus string     `json:"display_status"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	PlanID        *uint      `json:"plan_id,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	Activated     bool       `json:"activated"`
	CreatedAt     time.Time  `json:"created_at"`
}
