package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Book struct {
	ID                  int64           `json:"id"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	Price               decimal.Decimal `json:"price"`
	DiscountPercentage  decimal.Decimal `json:"discount_percentage"`
	StockQuantity       int             `json:"stock_quantity"`
	SoldCount           int             `json:"sold_count"`
	ExternalProductID   *string         `json:"external_product_id,omitempty"`
	ExternalPriceID     *string         `json:"external_price_id,omitempty"`
	ExternalPriceAmount *int64          `json:"external_price_amount,omitempty"`
	SyncStatus          SyncStatus      `json:"sync_status"`
	SyncError           *string         `json:"sync_error,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Version             int             `json:"version"`
}

// MirroredPriceID returns the gateway price id when the book is synced.
func (b *Book) MirroredPriceID() (string, bool) {
	if b.SyncStatus != SyncStatusSynced || b.ExternalPriceID == nil || *b.ExternalPriceID == "" {
		return "", false
	}
	return *b.ExternalPriceID, true
}

type Address struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Recipient  string     `json:"recipient"`
	Line1      string     `json:"line1"`
	Line2      string     `json:"line2,omitempty"`
	City       string     `json:"city"`
	PostalCode string     `json:"postal_code"`
	Country    string     `json:"country"`
	CreatedAt  time.Time  `json:"created_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

type Order struct {
	ID                int64           `json:"id"`
	UserID            int64           `json:"user_id"`
	OrderNumber       string          `json:"order_number"`
	Status            OrderStatus     `json:"status"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	ShippingCost      decimal.Decimal `json:"shipping_cost"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PaymentMethod     string          `json:"payment_method"`
	CheckoutSessionID *string         `json:"checkout_session_id,omitempty"`
	ShippingAddressID int64           `json:"shipping_address_id"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
	Version           int             `json:"version"`
	Items             []OrderItem     `json:"items,omitempty"`
	ShippingAddress   *Address        `json:"shipping_address,omitempty"`
}

// Payable reports whether the order may still be paid for.
func (o *Order) Payable() bool {
	return o.Status == OrderStatusPending && o.PaymentStatus == PaymentStatusPending
}

type OrderItem struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	BookID     int64           `json:"book_id"`
	Title      string          `json:"title"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
}
