package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest      = errors.New("invalid order request")
	ErrOrderNotPayable     = errors.New("order is not payable")
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")
	ErrGatewaySession      = errors.New("payment session unavailable")
	ErrInvalidStatus       = errors.New("invalid order status")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// GatewaySessionError reports that the gateway could not create or retrieve
// a checkout session. No local state was changed by the failed request.
type GatewaySessionError struct {
	OrderID int64
	Err     error
}

func (e *GatewaySessionError) Error() string {
	if e.OrderID == 0 {
		return fmt.Sprintf("%v: %v", ErrGatewaySession, e.Err)
	}
	return fmt.Sprintf("%v for order %d: %v", ErrGatewaySession, e.OrderID, e.Err)
}

func (e *GatewaySessionError) Unwrap() error {
	return e.Err
}

func (e *GatewaySessionError) Is(target error) bool {
	return target == ErrGatewaySession
}
