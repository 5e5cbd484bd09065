// Package paymentmethod decides which billing choices a class offers and makes
// the one-time default selection.
package paymentmethod

import (
	"errors"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

var ErrUnavailable = errors.New("Payment method is not available for this class")

// Option is one selectable billing choice.
type Option struct {
	Method      models.PaymentMethod `json:"method"`
	Label       string               `json:"label"`
	Description string               `json:"description"`
	// DiscountEligible is false for subscriptions, which skip promo code entry.
	DiscountEligible bool `json:"discount_eligible"`
}

// Options lists the choices for a class. Subscription classes only offer
// subscribe, even when installments are otherwise enabled.
func Options(class models.ClassOffering) []Option {
	if class.IsSubscription() {
		return []Option{{
			Method:      models.PaymentSubscribe,
			Label:       "Monthly Subscription",
			Description: "Billed monthly until the class ends",
		}}
	}

	opts := []Option{{
		Method:           models.PaymentFull,
		Label:            "Pay in Full",
		Description:      "One payment today",
		DiscountEligible: true,
	}}
	if class.InstallmentsAllowed() {
		opts = append(opts, Option{
			Method:           models.PaymentInstallments,
			Label:            "Installment Plan",
			Description:      "Split the total into monthly payments",
			DiscountEligible: true,
		})
	}
	return opts
}

// Default is the method auto-selected for a class.
func Default(class models.ClassOffering) models.PaymentMethod {
	if class.IsSubscription() {
		return models.PaymentSubscribe
	}
	return models.PaymentFull
}

// Validate rejects methods the class does not offer.
func Validate(class models.ClassOffering, method models.PaymentMethod) error {
	for _, opt := range Options(class) {
		if opt.Method == method {
			return nil
		}
	}
	return ErrUnavailable
}

// DiscountEligible reports whether promo codes apply to the method.
func DiscountEligible(method models.PaymentMethod) bool {
	return method == models.PaymentFull || method == models.PaymentInstallments
}

// Selector performs the default selection at most once.
type Selector struct {
	class    models.ClassOffering
	fired    bool
	onSelect func(models.PaymentMethod)
}

// NewSelector creates a selector. fired carries over whether a previous
// selector for the same session already auto-selected.
func NewSelector(class models.ClassOffering, fired bool, onSelect func(models.PaymentMethod)) *Selector {
	return &Selector{class: class, fired: fired, onSelect: onSelect}
}

// Resolve invokes onSelect with the default when nothing is selected yet and
// the auto-selection has not fired. It reports whether it fired.
func (s *Selector) Resolve(selected models.PaymentMethod) bool {
	if selected != "" {
		s.fired = true
		return false
	}
	if s.fired {
		return false
	}
	s.fired = true
	if s.onSelect != nil {
		s.onSelect(Default(s.class))
	}
	return true
}

func (s *Selector) Fired() bool {
	return s.fired
}
