package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Step is the control-flow state of a checkout session.
type Step string

const (
	StepLoading             Step = "loading"
	StepError               Step = "error"
	StepReady               Step = "ready"
	StepWaitlist            Step = "waitlist"
	StepSelectingChild      Step = "selecting_child"
	StepCheckingWaivers     Step = "checking_waivers"
	StepWaiverRequired      Step = "waiver_required"
	StepPaymentMethod       Step = "payment_method"
	StepInstallmentsPending Step = "installments_pending"
	StepOrderReview         Step = "order_review"
	StepOrderCreated        Step = "order_created"
	StepPaymentPending      Step = "payment_pending"
	StepRedirected          Step = "redirected"
	StepCompleted           Step = "completed"
)

// ErrSessionNotFound is returned when a checkout session does not exist or has expired.
var ErrSessionNotFound = errors.New("checkout session not found")

// CheckoutSession is the state of one parent's checkout for one class. It is
// seeded by the initial class/children fetch and discarded after expiry; the
// durable records (order, payment) belong to the platform.
type CheckoutSession struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	ClassID  string `json:"class_id"`
	Step     Step   `json:"step"`

	Class    *ClassOffering `json:"class,omitempty"`
	Children []Child        `json:"children,omitempty"`
	Capacity *Capacity      `json:"capacity,omitempty"`

	SelectedChildIDs []string            `json:"selected_child_ids,omitempty"`
	PendingWaivers   []WaiverRequirement `json:"pending_waivers,omitempty"`
	PaymentMethod    PaymentMethod       `json:"payment_method,omitempty"`
	AutoSelected     bool                `json:"auto_selected"`
	InstallmentCount int                 `json:"installment_count,omitempty"`
	DiscountCode     string              `json:"discount_code,omitempty"`
	OptionalFees     map[string][]string `json:"optional_fees,omitempty"`
	WaitlistedChild  []string            `json:"waitlisted_child_ids,omitempty"`

	Order         *Order         `json:"order,omitempty"`
	PaymentIntent *PaymentIntent `json:"payment_intent,omitempty"`
	PaymentRef    string         `json:"payment_ref,omitempty"`

	Error         string `json:"error,omitempty"`
	WaiverError   string `json:"waiver_error,omitempty"`
	DiscountError string `json:"discount_error,omitempty"`
	OrderError    string `json:"order_error,omitempty"`
	PaymentError  string `json:"payment_error,omitempty"`
	WaitlistError string `json:"waitlist_error,omitempty"`

	// Generations discard results of superseded requests.
	WaiverGeneration uint64 `json:"waiver_generation"`
	OrderGeneration  uint64 `json:"order_generation"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SelectedChildren returns the selected children in selection order.
func (s *CheckoutSession) SelectedChildren() []Child {
	byID := make(map[string]Child, len(s.Children))
	for _, c := range s.Children {
		byID[c.ID] = c
	}
	out := make([]Child, 0, len(s.SelectedChildIDs))
	for _, id := range s.SelectedChildIDs {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// FindChild returns the parent's child with the given id.
func (s *CheckoutSession) FindChild(id string) (Child, bool) {
	for _, c := range s.Children {
		if c.ID == id {
			return c, true
		}
	}
	return Child{}, false
}

// IsSelected reports whether the child is part of the current selection.
func (s *CheckoutSession) IsSelected(childID string) bool {
	for _, id := range s.SelectedChildIDs {
		if id == childID {
			return true
		}
	}
	return false
}

// Expired reports whether the session outlived its TTL.
func (s *CheckoutSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Value implements the driver.Valuer interface so the snapshot can be stored as JSONB.
func (s CheckoutSession) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for the JSONB snapshot.
func (s *CheckoutSession) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into CheckoutSession", value)
	}

	return json.Unmarshal(bytes, s)
}
