package orders

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusCreated Status = "created"
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
	StatusFailed  Status = "failed"
)

// OpenStatuses are the only states a transition may start from.
var OpenStatuses = []Status{StatusCreated, StatusPending}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// Order tracks a purchase through the payment provider. Amount is in the
// smallest currency unit.
type Order struct {
	ID       uint   `gorm:"primaryKey"`
	OrderNo  string `gorm:"type:varchar(64);not null;uniqueIndex:idx_orders_order_no"`
	UserUUID string `gorm:"type:varchar(36);not null;index"`
	PlanID   *uint

	Amount   int64  `gorm:"not null"`
	Currency string `gorm:"type:varchar(3);not null"`
	Status   Status `gorm:"type:varchar(20);not null;default:'created';index"`

	StripeSessionID       string `gorm:"column:stripe_session_id;index"`
	StripePaymentIntentID string `gorm:"column:stripe_payment_intent_id;index"`

	PaidAt     *time.Time
	PaidEmail  string
	PaidDetail datatypes.JSON
	ExpiredAt  *time.Time
	FailedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.OrderNo == "" {
		o.OrderNo = NewOrderNo()
	}
	if o.Status == "" {
		o.Status = StatusCreated
	}
	return nil
}

// NewOrderNo returns a business-facing order number.
func NewOrderNo() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:20])
}

// Detail decodes PaidDetail. An empty column decodes to an empty map.
func (o *Order) Detail() (map[string]any, error) {
	d := map[string]any{}
	if len(o.PaidDetail) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(o.PaidDetail, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Activated reports whether the owner has claimed the purchase.
func (o *Order) Activated() bool {
	d, err := o.Detail()
	if err != nil {
		return false
	}
	v, _ := d["activated"].(bool)
	return v
}
