package models

// PaymentMethod is the billing choice made during checkout.
type PaymentMethod string

const (
	PaymentFull         PaymentMethod = "full"
	PaymentInstallments PaymentMethod = "installments"
	PaymentSubscribe    PaymentMethod = "subscribe"
)

// DiscountType is how a discount value is interpreted.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// DiscountCode is a promo code or a staff-applied discount attached to an order.
type DiscountCode struct {
	Code         string       `json:"code,omitempty"`
	Type         DiscountType `json:"type"`
	Value        float64      `json:"value"`
	AdminApplied bool         `json:"admin_applied,omitempty"`
	Description  string       `json:"description,omitempty"`
}

// InstallmentPlan is an equal monthly breakdown of an order total.
type InstallmentPlan struct {
	Count          int     `json:"count"`
	AmountPerMonth float64 `json:"amount_per_month"`
	Total          float64 `json:"total"`
	AutoPay        bool    `json:"auto_pay"`
	Label          string  `json:"label"`
}

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	ClassID          string              `json:"class_id"`
	ChildIDs         []string            `json:"child_ids"`
	PaymentMethod    PaymentMethod       `json:"payment_method"`
	InstallmentCount int                 `json:"installment_count,omitempty"`
	DiscountCode     string              `json:"discount_code,omitempty"`
	OptionalFees     map[string][]string `json:"optional_fees,omitempty"`
}

// Order is owned by the order service. Once it carries line items its
// amounts supersede any local estimate.
type Order struct {
	ID               string        `json:"id"`
	Status           string        `json:"status,omitempty"`
	Subtotal         float64       `json:"subtotal"`
	DiscountAmount   float64       `json:"discount_amount"`
	Total            float64       `json:"total"`
	Discount         *DiscountCode `json:"discount,omitempty"`
	LineItems        []LineItem    `json:"line_items,omitempty"`
	PaymentMethod    PaymentMethod `json:"payment_method,omitempty"`
	InstallmentCount int           `json:"installment_count,omitempty"`
}

type LineItem struct {
	Description    string   `json:"description"`
	ChildID        string   `json:"child_id,omitempty"`
	UnitPrice      float64  `json:"unit_price"`
	LineTotal      float64  `json:"line_total"`
	DiscountAmount float64  `json:"discount_amount"`
	MonthlyPrice   *float64 `json:"monthly_price,omitempty"`
	BillingModel   string   `json:"billing_model,omitempty"`
	NumberOfMonths *int     `json:"number_of_months,omitempty"`
}

// Authoritative reports whether the backend has priced the order line by line.
func (o *Order) Authoritative() bool {
	return o != nil && len(o.LineItems) > 0
}

// PaymentIntentRequest is the body of POST /payments/intent. The unexported
// fields feed the hosted Stripe Checkout provider.
type PaymentIntentRequest struct {
	OrderID          string        `json:"order_id"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	InstallmentCount int           `json:"installment_count,omitempty"`

	Order         *Order         `json:"-"`
	Class         *ClassOffering `json:"-"`
	SessionID     string         `json:"-"`
	CustomerEmail string         `json:"-"`
}

// PaymentIntent references the hosted payment page for an order.
type PaymentIntent struct {
	ClientSecret string `json:"client_secret,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	Provider     string `json:"provider,omitempty"`
}
