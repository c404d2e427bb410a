package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
)

// StripeGateway implements Gateway on Stripe Checkout.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway builds a gateway for the given secret key. backends may be
// nil to use Stripe's default endpoints.
func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	for _, item := range req.LineItems {
		li := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(item.Quantity)}
		if item.PriceID != "" {
			li.Price = stripe.String(item.PriceID)
		} else {
			product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(item.Name)}
			if item.Description != "" {
				product.Description = stripe.String(item.Description)
			}
			li.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(req.Currency),
				UnitAmount:  stripe.Int64(item.UnitAmount),
				ProductData: product,
			}
		}
		params.LineItems = append(params.LineItems, li)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapStripeError("create checkout session", err)
	}

	return toSession(s), nil
}

func (g *StripeGateway) GetCheckoutSession(ctx context.Context, id string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, wrapStripeError("get checkout session", err)
	}

	return toSession(s), nil
}

func (g *StripeGateway) ExpireCheckoutSession(ctx context.Context, id string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	if _, err := g.api.CheckoutSessions.Expire(id, params); err != nil {
		return wrapStripeError("expire checkout session", err)
	}

	return nil
}

func (g *StripeGateway) CreateProduct(ctx context.Context, req ProductRequest) (string, error) {
	params := &stripe.ProductParams{Name: stripe.String(req.Name)}
	params.Context = ctx
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	p, err := g.api.Products.New(params)
	if err != nil {
		return "", wrapStripeError("create product", err)
	}

	return p.ID, nil
}

func (g *StripeGateway) CreatePrice(ctx context.Context, req PriceRequest) (string, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(req.ProductID),
		UnitAmount: stripe.Int64(req.UnitAmount),
		Currency:   stripe.String(req.Currency),
	}
	params.Context = ctx

	p, err := g.api.Prices.New(params)
	if err != nil {
		return "", wrapStripeError("create price", err)
	}

	return p.ID, nil
}

func (g *StripeGateway) DeactivatePrice(ctx context.Context, id string) error {
	params := &stripe.PriceParams{Active: stripe.Bool(false)}
	params.Context = ctx

	if _, err := g.api.Prices.Update(id, params); err != nil {
		return wrapStripeError("deactivate price", err)
	}

	return nil
}

func toSession(s *stripe.CheckoutSession) *Session {
	return &Session{
		ID:            s.ID,
		URL:           s.URL,
		Status:        SessionStatus(s.Status),
		PaymentStatus: string(s.PaymentStatus),
	}
}

func wrapStripeError(op string, err error) error {
	gwErr := &GatewayError{Op: op, Err: err, Retryable: true}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		status := stripeErr.HTTPStatusCode
		gwErr.Retryable = status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	}

	return gwErr
}
