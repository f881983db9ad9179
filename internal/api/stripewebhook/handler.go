package stripewebhooks

import (
	"errors"
	"io"
	"net/http"

	"saas-portal/internal"
	"saas-portal/internal/domain/billing"
	"saas-portal/internal/infra/stripe"
	"saas-portal/internal/service/payments"

	"github.com/gin-gonic/gin"
	stripego "github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
)

const maxBodyBytes = 65536

// errDecode marks a verified event whose object could not be read.
var errDecode = errors.New("malformed event object")

type Handler struct {
	d *internal.Deps
}

func New(d *internal.Deps) *Handler { return &Handler{d: d} }

// POST /webhook
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := readStripeBody(c, maxBodyBytes)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	event, err := h.d.Webhooks.Verify(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.d.Log.Warn("Stripe signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		return
	}

	log := h.d.Log.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("request_id", c.GetString("requestID")),
	)
	ctx := c.Request.Context()

	fresh, err := h.d.Payments.BeginEvent(ctx, billing.ProviderStripe, event.ID, string(event.Type))
	if err != nil {
		log.Error("Failed to record webhook event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !fresh {
		log.Debug("Webhook event already processed")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	outcome, procErr := h.dispatch(c, event)
	if err := h.d.Payments.FinishEvent(ctx, billing.ProviderStripe, event.ID, procErr); err != nil {
		log.Error("Failed to finish webhook event", zap.Error(err))
	}

	switch {
	case errors.Is(procErr, errDecode):
		log.Error("Failed to parse webhook event", zap.Error(procErr))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse event object"})
		return
	case procErr != nil:
		log.Error("Failed to process webhook event", zap.Error(procErr))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	log.Info("Webhook event processed", zap.String("outcome", string(outcome)))
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) dispatch(c *gin.Context, event stripego.Event) (payments.Outcome, error) {
	ctx := c.Request.Context()

	switch string(event.Type) {
	case stripe.EventCheckoutCompleted:
		ev, err := stripe.DecodeCheckoutCompleted(event)
		if err != nil {
			return "", errors.Join(errDecode, err)
		}
		return h.d.Payments.CheckoutCompleted(ctx, ev)

	case stripe.EventAsyncPaymentSucceeded:
		ev, err := stripe.DecodeCheckoutCompleted(event)
		if err != nil {
			return "", errors.Join(errDecode, err)
		}
		return h.d.Payments.AsyncPaymentSucceeded(ctx, ev)

	case stripe.EventCheckoutExpired:
		id, err := stripe.DecodeSessionID(event)
		if err != nil {
			return "", errors.Join(errDecode, err)
		}
		return h.d.Payments.CheckoutExpired(ctx, id)

	case stripe.EventPaymentFailed:
		ev, err := stripe.DecodePaymentFailed(event)
		if err != nil {
			return "", errors.Join(errDecode, err)
		}
		return h.d.Payments.PaymentFailed(ctx, ev)

	case stripe.EventAsyncPaymentFailed:
		ev, err := stripe.DecodeAsyncPaymentFailed(event)
		if err != nil {
			return "", errors.Join(errDecode, err)
		}
		return h.d.Payments.PaymentFailed(ctx, ev)

	default:
		return "ignored", nil
	}
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
