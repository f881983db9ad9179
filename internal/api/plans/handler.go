package plans

import (
	"errors"
	"net/http"

	"saas-portal/internal"
	"saas-portal/internal/domain/plans"
	"saas-portal/internal/infra/stripe"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	d *internal.Deps
}

func New(d *internal.Deps) *Handler { return &Handler{d: d} }

type PlanDTO struct {
	ID       uint    `json:"id"`
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Interval string  `json:"interval,omitempty"`
}

// GET /plans
func (h *Handler) ListPlans(c *gin.Context) {
	var list []plans.Plan
	err := h.d.DB.WithContext(c.Request.Context()).
		Where("active = ?", true).
		Order("amount ASC").
		Find(&list).Error
	if err != nil {
		h.d.Log.Error("Failed to load plans", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load plans"})
		return
	}

	out := make([]PlanDTO, 0, len(list))
	for _, p := range list {
		out = append(out, PlanDTO{
			ID:       p.ID,
			Name:     p.Name,
			Amount:   plans.MajorUnits(p.Amount, p.Currency),
			Currency: p.Currency,
			Interval: p.Interval,
		})
	}
	c.JSON(http.StatusOK, out)
}

// POST /admin/sync-plans mirrors the active Stripe prices into the catalog
// and deactivates plans whose price disappeared.
func (h *Handler) SyncPlansFromStripe(c *gin.Context) {
	ctx := c.Request.Context()

	prices, err := h.d.Stripe.ListActivePrices(ctx, h.d.Config.StripeProductID)
	if errors.Is(err, stripe.ErrNotConfigured) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stripe key not configured"})
		return
	}
	if err != nil {
		h.d.Log.Error("Failed to fetch Stripe prices", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch Stripe prices"})
		return
	}

	var created, updated, deactivated int64
	err = h.d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := make([]string, 0, len(prices))
		for _, p := range prices {
			seen = append(seen, p.ID)

			var existing plans.Plan
			err := tx.Where("stripe_price_id = ?", p.ID).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&plans.Plan{
					Name:          p.DisplayName,
					Amount:        p.Amount,
					Currency:      p.Currency,
					StripePriceID: p.ID,
					Interval:      p.Interval,
					Active:        true,
				}).Error; err != nil {
					return err
				}
				created++
			case err != nil:
				return err
			default:
				if err := tx.Model(&existing).Updates(map[string]any{
					"name":     p.DisplayName,
					"amount":   p.Amount,
					"currency": p.Currency,
					"interval": p.Interval,
					"active":   true,
				}).Error; err != nil {
					return err
				}
				updated++
			}
		}

		q := tx.Model(&plans.Plan{}).Where("active = ?", true)
		if len(seen) > 0 {
			q = q.Where("stripe_price_id NOT IN ?", seen)
		}
		r := q.Update("active", false)
		if r.Error != nil {
			return r.Error
		}
		deactivated = r.RowsAffected
		return nil
	})
	if err != nil {
		h.d.Log.Error("Failed to sync plans", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sync plans"})
		return
	}

	h.d.Log.Info("Plans synced from Stripe",
		zap.Int64("created", created),
		zap.Int64("updated", updated),
		zap.Int64("deactivated", deactivated),
	)
	c.JSON(http.StatusOK, gin.H{
		"synced":      len(prices),
		"created":     created,
		"updated":     updated,
		"deactivated": deactivated,
	})
}
