package admin

import (
	"net/http"
	"strconv"
	"time"

	"saas-portal/internal"
	"saas-portal/internal/api/billing"
	"saas-portal/internal/domain/orders"
	"saas-portal/internal/domain/users"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Handler struct {
	d *internal.Deps
}

func New(d *internal.Deps) *Handler { return &Handler{d: d} }

type AdminUser struct {
	ID             uint      `json:"id"`
	UUID           string    `json:"uuid"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	SigninProvider string    `json:"signin_provider"`
	IsVerified     bool      `json:"is_verified"`
	IsDeleted      bool      `json:"is_deleted"`
	ResetPending   bool      `json:"reset_pending"`
	CreatedAt      time.Time `json:"created_at"`
}

type AdminOrder struct {
	billing.OrderDTO
	UserUUID        string `json:"user_uuid"`
	StripeSessionID string `json:"stripe_session_id,omitempty"`
	PaymentIntentID string `json:"stripe_payment_intent_id,omitempty"`
	PaidEmail       string `json:"paid_email,omitempty"`
}

func page(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GET /admin/users
func (h *Handler) ListAllUsers(c *gin.Context) {
	limit, offset := page(c)

	var list []users.User
	err := h.d.DB.WithContext(c.Request.Context()).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&list).Error
	if err != nil {
		h.d.Log.Error("Failed to load users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load users"})
		return
	}

	out := make([]AdminUser, 0, len(list))
	for _, u := range list {
		out = append(out, AdminUser{
			ID:             u.ID,
			UUID:           u.UUID,
			Name:           u.Name,
			Email:          u.Email,
			Role:           u.Role,
			SigninProvider: u.SigninProvider,
			IsVerified:     u.IsVerified,
			IsDeleted:      u.IsDeleted,
			ResetPending:   u.ResetToken != nil,
			CreatedAt:      u.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// GET /admin/orders?status=
func (h *Handler) ListAllOrders(c *gin.Context) {
	limit, offset := page(c)

	q := h.d.DB.WithContext(c.Request.Context()).Model(&orders.Order{})
	if s := c.Query("status"); s != "" {
		q = q.Where("status = ?", s)
	}

	var list []orders.Order
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error; err != nil {
		h.d.Log.Error("Failed to load orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load orders"})
		return
	}

	out := make([]AdminOrder, 0, len(list))
	for i := range list {
		o := &list[i]
		out = append(out, AdminOrder{
			OrderDTO:        billing.ToDTO(o),
			UserUUID:        o.UserUUID,
			StripeSessionID: o.StripeSessionID,
			PaymentIntentID: o.StripePaymentIntentID,
			PaidEmail:       o.PaidEmail,
		})
	}
	c.JSON(http.StatusOK, out)
}

// POST /admin/reset-tokens/sweep
func (h *Handler) SweepResetTokens(c *gin.Context) {
	n, err := h.d.Resets.Sweep(c.Request.Context())
	if err != nil {
		h.d.Log.Error("Failed to sweep reset tokens", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.d.Log.Info("Reset tokens swept", zap.Int64("cleared", n), zap.String("by", c.GetString("email")))
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}
