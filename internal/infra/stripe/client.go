package stripe

import (
	"context"
	"errors"
	"fmt"

	stripego "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
)

var ErrNotConfigured = errors.New("stripe is not configured")

// API is the part of Stripe handlers call out to.
type API interface {
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error)
	ListActivePrices(ctx context.Context, productID string) ([]Price, error)
}

// Client wraps the Stripe API calls the application makes.
type Client struct {
	api *client.API
}

func NewClient(secretKey string) *Client {
	if secretKey == "" {
		return &Client{}
	}
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &Client{api: sc}
}

type CheckoutParams struct {
	OrderNo       string
	PriceID       string
	Recurring     bool
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// CreateCheckoutSession opens a hosted checkout for one unit of a price.
// The order number travels as client_reference_id and as metadata on the
// session and on the payment the session creates.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	if c.api == nil {
		return CheckoutSession{}, ErrNotConfigured
	}

	meta := map[string]string{MetadataOrderNo: p.OrderNo}
	params := &stripego.CheckoutSessionParams{
		SuccessURL:        stripego.String(p.SuccessURL),
		CancelURL:         stripego.String(p.CancelURL),
		ClientReferenceID: stripego.String(p.OrderNo),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{Price: stripego.String(p.PriceID), Quantity: stripego.Int64(1)},
		},
		Metadata: meta,
	}
	params.Context = ctx

	if p.CustomerEmail != "" {
		params.CustomerEmail = stripego.String(p.CustomerEmail)
	}

	if p.Recurring {
		params.Mode = stripego.String(string(stripego.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripego.CheckoutSessionSubscriptionDataParams{Metadata: meta}
	} else {
		params.Mode = stripego.String(string(stripego.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripego.CheckoutSessionPaymentIntentDataParams{Metadata: meta}
	}

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	return CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// Price is an active catalog price. Amount is in the smallest currency unit.
type Price struct {
	ID          string
	ProductID   string
	ProductName string
	DisplayName string
	Amount      int64
	Currency    string
	Interval    string
}

// ListActivePrices returns every active price of an active product that is
// not hidden with metadata visible=false. productID, when set, limits the
// list to one product.
func (c *Client) ListActivePrices(ctx context.Context, productID string) ([]Price, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripego.PriceListParams{}
	params.Active = stripego.Bool(true)
	params.Context = ctx
	params.AddExpand("data.product")
	if productID != "" {
		params.Product = stripego.String(productID)
	}

	var out []Price
	it := c.api.Prices.List(params)
	for it.Next() {
		p := it.Price()
		if !p.Active || p.Product == nil || !p.Product.Active {
			continue
		}
		if p.Metadata != nil && p.Metadata["visible"] == "false" {
			continue
		}

		pr := Price{
			ID:          p.ID,
			ProductID:   p.Product.ID,
			ProductName: p.Product.Name,
			DisplayName: p.Product.Name,
			Amount:      p.UnitAmount,
			Currency:    string(p.Currency),
		}
		if v := p.Metadata["plan"]; v != "" {
			pr.DisplayName = v
		}
		if p.Recurring != nil {
			pr.Interval = string(p.Recurring.Interval)
		}
		out = append(out, pr)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list stripe prices: %w", err)
	}
	return out, nil
}
