package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"saas-portal/internal/domain/orders"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NewOrder struct {
	UserUUID string
	PlanID   *uint
	Amount   int64
	Currency string
}

// Create stores a new order in the created state.
func (s *StateMachine) Create(ctx context.Context, in NewOrder) (*orders.Order, error) {
	if in.UserUUID == "" {
		return nil, errors.New("order owner is required")
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("invalid order amount %d", in.Amount)
	}

	o := &orders.Order{
		UserUUID: in.UserUUID,
		PlanID:   in.PlanID,
		Amount:   in.Amount,
		Currency: in.Currency,
		Status:   orders.StatusCreated,
	}
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

// AttachSession records the provider session opened for an order and moves
// it to pending. Orders that already left the open states are not touched.
func (s *StateMachine) AttachSession(ctx context.Context, orderNo, sessionID string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}

	r := s.db.WithContext(ctx).
		Model(&orders.Order{}).
		Where("order_no = ? AND status IN ?", orderNo, openStatuses).
		Updates(map[string]any{
			"stripe_session_id": sessionID,
			"status":            string(orders.StatusPending),
		})
	if r.Error != nil {
		return fmt.Errorf("attach session: %w", r.Error)
	}
	if r.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *StateMachine) Find(ctx context.Context, orderNo string) (*orders.Order, error) {
	var o orders.Order
	err := s.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return &o, nil
}

func (s *StateMachine) ListForUser(ctx context.Context, userUUID string) ([]orders.Order, error) {
	var list []orders.Order
	err := s.db.WithContext(ctx).
		Where("user_uuid = ?", userUUID).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return list, nil
}

// Activate lets the owner of a paid order claim it. It stamps the claim
// into paid_detail and never changes the status; claiming again refreshes
// the stamp.
func (s *StateMachine) Activate(ctx context.Context, orderNo, userUUID, activatedBy string) (*orders.Order, error) {
	o, err := s.Find(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if userUUID == "" || o.UserUUID != userUUID {
		return nil, ErrNotOwner
	}
	if o.Status != orders.StatusPaid {
		return nil, ErrNotPaid
	}

	detail, err := o.Detail()
	if err != nil {
		s.log.Warn("Discarding unreadable paid_detail", zap.String("order_no", o.OrderNo), zap.Error(err))
		detail = map[string]any{}
	}
	detail["activated"] = true
	detail["activated_at"] = s.now().UTC().Format(time.RFC3339Nano)
	detail["activated_by"] = activatedBy

	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encode paid_detail: %w", err)
	}

	r := s.db.WithContext(ctx).
		Model(&orders.Order{}).
		Where("id = ? AND user_uuid = ? AND status = ?", o.ID, userUUID, string(orders.StatusPaid)).
		Update("paid_detail", datatypes.JSON(raw))
	if r.Error != nil {
		return nil, fmt.Errorf("activate order: %w", r.Error)
	}
	if r.RowsAffected == 0 {
		return nil, ErrNotPaid
	}

	o.PaidDetail = datatypes.JSON(raw)
	return o, nil
}
