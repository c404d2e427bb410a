// Package paymenttest provides an in-memory payment.Gateway for tests.
package paymenttest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/safar/go-bookstore/internal/payment"
)

// ErrUnavailable is returned by a Gateway configured to fail.
var ErrUnavailable = &payment.GatewayError{Op: "fake", Retryable: true, Err: errors.New("gateway unavailable")}

// Gateway records every call. Set the *Err fields to make calls fail.
type Gateway struct {
	mu sync.Mutex

	SessionErr error
	// BeforeSession, if set, runs at the start of CreateCheckoutSession
	// without the gateway lock held.
	BeforeSession func()
	GetErr     error
	ExpireErr  error
	ProductErr error
	PriceErr   error

	Sessions    map[string]*payment.Session
	Requests    []payment.CheckoutRequest
	Expired     []string
	Products    []payment.ProductRequest
	Prices      []payment.PriceRequest
	Deactivated []string

	ProductCalls int
	PriceCalls   int
	seq          int
}

func New() *Gateway {
	return &Gateway{Sessions: make(map[string]*payment.Session)}
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.Session, error) {
	g.mu.Lock()
	hook := g.BeforeSession
	g.mu.Unlock()
	if hook != nil {
		hook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.SessionErr != nil {
		return nil, g.SessionErr
	}

	g.seq++
	id := fmt.Sprintf("cs_test_%d", g.seq)
	s := &payment.Session{ID: id, URL: "https://checkout.test/" + id, Status: payment.SessionOpen, PaymentStatus: "unpaid"}
	g.Sessions[id] = s
	g.Requests = append(g.Requests, req)

	copied := *s
	return &copied, nil
}

func (g *Gateway) GetCheckoutSession(ctx context.Context, id string) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.GetErr != nil {
		return nil, g.GetErr
	}
	s, ok := g.Sessions[id]
	if !ok {
		return nil, &payment.GatewayError{Op: "get checkout session", Err: fmt.Errorf("no such session %q", id)}
	}

	copied := *s
	return &copied, nil
}

func (g *Gateway) ExpireCheckoutSession(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ExpireErr != nil {
		return g.ExpireErr
	}
	if s, ok := g.Sessions[id]; ok && s.Status == payment.SessionOpen {
		s.Status = payment.SessionExpired
	}
	g.Expired = append(g.Expired, id)
	return nil
}

func (g *Gateway) CreateProduct(ctx context.Context, req payment.ProductRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ProductCalls++
	if g.ProductErr != nil {
		return "", g.ProductErr
	}
	g.Products = append(g.Products, req)
	return fmt.Sprintf("prod_%d", len(g.Products)), nil
}

func (g *Gateway) CreatePrice(ctx context.Context, req payment.PriceRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.PriceCalls++
	if g.PriceErr != nil {
		return "", g.PriceErr
	}
	g.Prices = append(g.Prices, req)
	return fmt.Sprintf("price_%d", len(g.Prices)), nil
}

func (g *Gateway) DeactivatePrice(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Deactivated = append(g.Deactivated, id)
	return nil
}

// SetSessionState changes a recorded session, e.g. to simulate expiry or payment.
func (g *Gateway) SetSessionState(id string, status payment.SessionStatus, paymentStatus string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s, ok := g.Sessions[id]; ok {
		s.Status = status
		s.PaymentStatus = paymentStatus
	}
}

// LastRequest returns the most recent checkout request.
func (g *Gateway) LastRequest() payment.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.Requests) == 0 {
		return payment.CheckoutRequest{}
	}
	return g.Requests[len(g.Requests)-1]
}

func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Sessions)
}
