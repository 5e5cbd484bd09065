// Package pricing holds the pure money math of checkout: sibling line totals,
// promo discounts, processing fees and installment schedules. Amounts are
// float64 dollars; rounding follows native double to-two-decimals semantics.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

// SiblingTiers maps a child's selection position to its discount rate.
type SiblingTiers []float64

// DefaultSiblingTiers charges the first child full price and the second 25% less.
// Further positions are undefined until a product rule exists for them.
var DefaultSiblingTiers = SiblingTiers{0, 0.25}

// ErrSiblingTierUndefined is returned for positions past the tier table.
var ErrSiblingTierUndefined = errors.New("sibling discount is not defined for this many children")

// InstallmentCounts are the month counts offered for installment plans.
var InstallmentCounts = []int{2, 3, 4, 6}

// Rate returns the sibling discount rate for a zero-based position.
func (t SiblingTiers) Rate(position int) (float64, error) {
	if position < 0 || position >= len(t) {
		return 0, fmt.Errorf("position %d: %w", position, ErrSiblingTierUndefined)
	}
	return t[position], nil
}

// MaxChildren is the largest selection the tiers can price.
func (t SiblingTiers) MaxChildren() int {
	return len(t)
}

// LineTotal returns the price paid for the child at the given selection position.
func LineTotal(basePrice float64, position int, tiers SiblingTiers) (float64, error) {
	rate, err := tiers.Rate(position)
	if err != nil {
		return 0, err
	}
	if rate == 0 {
		return basePrice, nil
	}
	return basePrice * (1 - rate), nil
}

// Discount returns the promo discount for a subtotal. Fixed amounts are returned
// verbatim and may exceed the subtotal.
func Discount(subtotal float64, code *models.DiscountCode) float64 {
	if code == nil {
		return 0
	}
	switch code.Type {
	case models.DiscountPercentage:
		return subtotal * code.Value / 100
	case models.DiscountFixedAmount:
		return code.Value
	default:
		return 0
	}
}

// ProcessingFee is a percentage of the post-discount amount, rounded to cents.
func ProcessingFee(amountAfterDiscount, feePercent float64) float64 {
	if feePercent == 0 {
		return 0
	}
	return Round2(amountAfterDiscount * feePercent / 100)
}

// ShowProcessingFee reports whether the fee line should be displayed at all.
func ShowProcessingFee(feePercent float64) bool {
	return feePercent != 0
}

// Total estimates an order total. A backend-supplied total always wins.
func Total(classPrice, registrationFee float64, code *models.DiscountCode, feePercent float64, backendTotal *float64) float64 {
	if backendTotal != nil {
		return *backendTotal
	}
	subtotal := classPrice + registrationFee
	discounted := subtotal - Discount(subtotal, code)
	return Round2(discounted + ProcessingFee(discounted, feePercent))
}

// InstallmentPlans splits an order total into the supported monthly plans.
// The result depends only on orderTotal.
func InstallmentPlans(orderTotal float64) []models.InstallmentPlan {
	plans := make([]models.InstallmentPlan, 0, len(InstallmentCounts))
	for _, count := range InstallmentCounts {
		perMonth := Round2(orderTotal / float64(count))
		plans = append(plans, models.InstallmentPlan{
			Count:          count,
			AmountPerMonth: perMonth,
			Total:          orderTotal,
			AutoPay:        true,
			Label:          fmt.Sprintf("%d months - %s/month", count, Money(perMonth)),
		})
	}
	return plans
}

// FindPlan returns the plan with the given month count.
func FindPlan(plans []models.InstallmentPlan, count int) (models.InstallmentPlan, bool) {
	for _, p := range plans {
		if p.Count == count {
			return p, true
		}
	}
	return models.InstallmentPlan{}, false
}

// Round2 rounds to two decimals the way a double's toFixed(2) does: the exact
// binary value is rounded half away from zero, so 99.99/2 (stored just below
// 49.995) becomes 49.99.
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x == 0 {
		return x
	}
	neg := x < 0
	exact := new(big.Rat).SetFloat64(math.Abs(x))
	exact.Mul(exact, big.NewRat(100, 1))
	exact.Add(exact, big.NewRat(1, 2))

	cents := new(big.Int).Quo(exact.Num(), exact.Denom())
	if !cents.IsInt64() {
		// Far beyond any real price; no fractional cents left to round.
		return math.Round(x*100) / 100
	}
	out := float64(cents.Int64()) / 100
	if neg {
		return -out
	}
	return out
}

var printer = message.NewPrinter(language.AmericanEnglish)

// Money formats an amount as US dollars, e.g. $1,234.50 or -$10.00.
func Money(amount float64) string {
	amount = Round2(amount)
	if amount < 0 {
		return "-$" + printer.Sprintf("%.2f", -amount)
	}
	return "$" + printer.Sprintf("%.2f", amount)
}
