// Package payment talks to the hosted-checkout payment gateway.
package payment

import (
	"context"
	"errors"
	"fmt"
)

type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

type Session struct {
	ID            string
	URL           string
	Status        SessionStatus
	PaymentStatus string
}

// Paid reports whether the customer completed payment on the session.
func (s *Session) Paid() bool {
	return s.Status == SessionComplete && s.PaymentStatus == "paid"
}

// LineItem references a mirrored catalog price when PriceID is set and
// carries inline price data otherwise.
type LineItem struct {
	PriceID     string
	Name        string
	Description string
	UnitAmount  int64
	Quantity    int64
}

type CheckoutRequest struct {
	Currency          string
	LineItems         []LineItem
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
}

type ProductRequest struct {
	Name        string
	Description string
	Metadata    map[string]string
}

type PriceRequest struct {
	ProductID  string
	UnitAmount int64
	Currency   string
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	GetCheckoutSession(ctx context.Context, id string) (*Session, error)
	ExpireCheckoutSession(ctx context.Context, id string) error
	CreateProduct(ctx context.Context, req ProductRequest) (string, error)
	CreatePrice(ctx context.Context, req PriceRequest) (string, error)
	DeactivatePrice(ctx context.Context, id string) error
}

var ErrGateway = errors.New("payment gateway error")

// GatewayError wraps a failed gateway call. It matches ErrGateway under
// errors.Is.
type GatewayError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

// IsRetryable reports whether a gateway call may succeed if repeated.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return false
}
