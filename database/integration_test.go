//go:build integration

package database_test

import (
	"context"
	"testing"

	"saas-portal/database"
	"saas-portal/internal/domain/billing"
	"saas-portal/internal/domain/orders"
	"saas-portal/internal/domain/users"
	"saas-portal/internal/service/passwordreset"
	"saas-portal/internal/service/payments"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	pg, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("portal"),
		postgres.WithUsername("portal"),
		postgres.WithPassword("portal"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, pg)
	require.NoError(t, err)

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Open(dsn, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.Ping(ctx, db))
	return db
}

func TestPostgres(t *testing.T) {
	db := openPostgres(t)
	ctx := context.Background()

	t.Run("reset token lifecycle", func(t *testing.T) {
		require.NoError(t, db.Create(&users.User{Email: "pg@x.com", IsVerified: true}).Error)
		m := passwordreset.New(db)

		tok, err := m.Issue(ctx, "PG@x.com")
		require.NoError(t, err)

		res, err := m.Reset(ctx, tok, "hash")
		require.NoError(t, err)
		assert.True(t, res.Valid)

		res, err = m.Validate(ctx, tok)
		require.NoError(t, err)
		assert.Equal(t, passwordreset.ReasonNotFound, res.Reason)

		_, err = m.Sweep(ctx)
		require.NoError(t, err)
	})

	t.Run("order transitions", func(t *testing.T) {
		sm := payments.New(db, zap.NewNop())
		require.NoError(t, db.Create(&orders.Order{
			OrderNo: "ORD-PG-1", UserUUID: "u", Amount: 2000, Currency: "usd",
			Status: orders.StatusCreated, StripeSessionID: "cs_test_pg",
		}).Error)

		for i := 0; i < 2; i++ {
			out, err := sm.CheckoutCompleted(ctx, payments.CheckoutCompleted{
				SessionID: "cs_test_pg", PaymentStatus: "paid", AmountTotal: 2000, Currency: "usd", CustomerEmail: "buyer@x.com",
			})
			require.NoError(t, err)
			assert.NotEqual(t, payments.OutcomeUnmatched, out)
		}

		o, err := sm.Find(ctx, "ORD-PG-1")
		require.NoError(t, err)
		assert.Equal(t, orders.StatusPaid, o.Status)

		out, err := sm.PaymentFailed(ctx, payments.PaymentFailed{PaymentIntentID: "pi_%_nobody"})
		require.NoError(t, err)
		assert.Equal(t, payments.OutcomeUnmatched, out)
	})

	t.Run("event ledger", func(t *testing.T) {
		sm := payments.New(db, zap.NewNop())
		fresh, err := sm.BeginEvent(ctx, billing.ProviderStripe, "evt_pg", "checkout.session.completed")
		require.NoError(t, err)
		assert.True(t, fresh)
		require.NoError(t, sm.FinishEvent(ctx, billing.ProviderStripe, "evt_pg", nil))

		fresh, err = sm.BeginEvent(ctx, billing.ProviderStripe, "evt_pg", "checkout.session.completed")
		require.NoError(t, err)
		assert.False(t, fresh)
	})
}
