// Package summary derives the order summary shown before payment. It is a
// pure read model over the pricing package.
//
// Until the order service returns line items, amounts are local estimates.
// Once line items exist the summary switches to authoritative mode: class fees
// come from the line items and none of the local fee or discount estimates are
// listed, since the backend total already contains them.
package summary

import (
	"fmt"
	"strings"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/pricing"
)

// PricingSource says where the displayed amounts come from.
type PricingSource string

const (
	SourceEstimate      PricingSource = "estimate"
	SourceAuthoritative PricingSource = "authoritative"
)

type LineKind string

const (
	KindClassFee        LineKind = "class_fee"
	KindSiblingDiscount LineKind = "sibling_discount"
	KindRegistrationFee LineKind = "registration_fee"
	KindDiscount        LineKind = "discount"
	KindProcessingFee   LineKind = "processing_fee"
	KindCustomFee       LineKind = "custom_fee"
)

type Line struct {
	Kind    LineKind `json:"kind"`
	Label   string   `json:"label"`
	Amount  float64  `json:"amount"`
	Display string   `json:"display"`
}

type Installment struct {
	Count           int     `json:"count"`
	FirstPayment    float64 `json:"first_payment"`
	AmountPerMonth  float64 `json:"amount_per_month"`
	RemainingMonths int     `json:"remaining_months"`
	Remaining       string  `json:"remaining"`
	AutoPay         bool    `json:"auto_pay"`
	Display         string  `json:"display"`
}

type Subscription struct {
	MonthlyAmount  float64 `json:"monthly_amount"`
	Display        string  `json:"display"`
	Recurring      bool    `json:"recurring"`
	AutoCancelNote string  `json:"auto_cancel_note,omitempty"`
}

type Summary struct {
	PricingSource PricingSource `json:"pricing_source"`
	Lines         []Line        `json:"lines"`
	Subtotal      float64       `json:"subtotal"`
	Total         float64       `json:"total"`
	TotalDisplay  string        `json:"total_display"`

	Installment  *Installment  `json:"installment,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`

	PendingDiscountCode string `json:"pending_discount_code,omitempty"`
	AdminDiscountBanner string `json:"admin_discount_banner,omitempty"`
	DiscountLocked      bool   `json:"discount_locked"`
}

// Input is the orchestrator state the summary is derived from.
type Input struct {
	Class                models.ClassOffering
	Children             []models.Child
	PaymentMethod        models.PaymentMethod
	InstallmentCount     int
	ProcessingFeePercent float64
	OptionalFees         map[string][]string
	PendingDiscountCode  string
	Order                *models.Order
	Tiers                pricing.SiblingTiers
}

// Render computes the price breakdown, in display order: class fee, sibling
// discounts, registration fee, promo discount, processing fee, custom fees.
func Render(in Input) (Summary, error) {
	tiers := in.Tiers
	if tiers == nil {
		tiers = pricing.DefaultSiblingTiers
	}
	childCount := len(in.Children)
	if childCount == 0 {
		childCount = 1
	}
	subscribing := in.PaymentMethod == models.PaymentSubscribe

	out := Summary{PricingSource: SourceEstimate, PendingDiscountCode: in.PendingDiscountCode}
	if in.Order.Authoritative() {
		out.PricingSource = SourceAuthoritative
	}

	var classSubtotal float64
	if out.PricingSource == SourceAuthoritative {
		classSubtotal = authoritativeClassLines(&out, in.Order.LineItems)
	} else {
		var err error
		classSubtotal, err = estimatedClassLines(&out, in, tiers, subscribing)
		if err != nil {
			return Summary{}, err
		}
	}

	estimate := out.PricingSource == SourceEstimate
	discountable := classSubtotal
	if fee := in.Class.RegistrationFee; estimate && fee > 0 {
		amount := fee * float64(childCount)
		discountable += amount
		out.add(KindRegistrationFee, "Registration fee", amount)
	}
	out.Subtotal = pricing.Round2(discountable)
	if !estimate && in.Order.Subtotal > 0 {
		out.Subtotal = in.Order.Subtotal
	}

	var discountCode *models.DiscountCode
	if in.Order != nil {
		discountCode = in.Order.Discount
	}
	var discount float64
	if estimate && !subscribing && discountCode != nil {
		discount = pricing.Discount(discountable, discountCode)
		out.add(KindDiscount, discountLabel(discountCode), -discount)
	}
	afterDiscount := discountable - discount

	var processing float64
	if estimate && pricing.ShowProcessingFee(in.ProcessingFeePercent) {
		processing = pricing.ProcessingFee(afterDiscount, in.ProcessingFeePercent)
		out.add(KindProcessingFee, fmt.Sprintf("Processing fee (%s%%)", trimPercent(in.ProcessingFeePercent)), processing)
	}

	var custom float64
	if estimate {
		custom = customFeeLines(&out, in, childCount)
	}

	total := pricing.Round2(afterDiscount + processing + custom)
	if in.Order != nil {
		total = in.Order.Total
	}
	out.Total = total
	out.TotalDisplay = pricing.Money(total)

	if discountCode != nil && discountCode.AdminApplied {
		out.DiscountLocked = true
		out.AdminDiscountBanner = adminBanner(discountCode)
	}

	switch in.PaymentMethod {
	case models.PaymentInstallments:
		out.Installment = installmentFraming(total, in.InstallmentCount)
	case models.PaymentSubscribe:
		out.Subscription = subscriptionFraming(total, in.Class)
	}

	return out, nil
}

func (s *Summary) add(kind LineKind, label string, amount float64) {
	s.Lines = append(s.Lines, Line{Kind: kind, Label: label, Amount: amount, Display: pricing.Money(amount)})
}

func estimatedClassLines(out *Summary, in Input, tiers pricing.SiblingTiers, subscribing bool) (float64, error) {
	unit := in.Class.UnitPrice()
	label := "Class fee"
	if subscribing {
		label = "Monthly class fee"
	}

	if len(in.Children) <= 1 {
		out.add(KindClassFee, withChild(label, in.Children), unit)
		return unit, nil
	}

	var subtotal float64
	type sibling struct {
		name   string
		rate   float64
		amount float64
	}
	var siblings []sibling
	for i, child := range in.Children {
		line, err := pricing.LineTotal(unit, i, tiers)
		if err != nil {
			return 0, err
		}
		subtotal += line
		out.add(KindClassFee, label+" - "+child.Name(), unit)
		if line != unit {
			rate, _ := tiers.Rate(i)
			siblings = append(siblings, sibling{name: child.Name(), rate: rate, amount: unit - line})
		}
	}
	for _, s := range siblings {
		out.add(KindSiblingDiscount, fmt.Sprintf("Sibling discount (%s%% off) - %s", trimPercent(s.rate*100), s.name), -s.amount)
	}
	return subtotal, nil
}

func authoritativeClassLines(out *Summary, items []models.LineItem) float64 {
	var subtotal float64
	for _, item := range items {
		out.add(KindClassFee, item.Description, item.UnitPrice)
		subtotal += item.LineTotal
	}
	for _, item := range items {
		if item.DiscountAmount > 0 {
			out.add(KindSiblingDiscount, "Discount - "+item.Description, -item.DiscountAmount)
		}
	}
	return subtotal
}

func customFeeLines(out *Summary, in Input, childCount int) float64 {
	var total float64
	for _, fee := range in.Class.CustomFees {
		if fee.Required {
			amount := fee.Amount * float64(childCount)
			total += amount
			out.add(KindCustomFee, fee.Name, amount)
			continue
		}

		selected := 0
		for _, child := range in.Children {
			for _, id := range in.OptionalFees[child.ID] {
				if id == fee.ID {
					selected++
					break
				}
			}
		}
		if selected == 0 {
			continue
		}
		amount := fee.Amount * float64(selected)
		total += amount
		out.add(KindCustomFee, fee.Name+" (optional)", amount)
	}
	return total
}

func installmentFraming(total float64, count int) *Installment {
	plan, ok := pricing.FindPlan(pricing.InstallmentPlans(total), count)
	if !ok {
		return nil
	}
	remaining := plan.Count - 1
	unit := "months"
	if remaining == 1 {
		unit = "month"
	}
	return &Installment{
		Count:           plan.Count,
		FirstPayment:    plan.AmountPerMonth,
		AmountPerMonth:  plan.AmountPerMonth,
		RemainingMonths: remaining,
		Remaining:       fmt.Sprintf("%d more %s", remaining, unit),
		AutoPay:         plan.AutoPay,
		Display:         fmt.Sprintf("First payment today: %s", pricing.Money(plan.AmountPerMonth)),
	}
}

func subscriptionFraming(monthly float64, class models.ClassOffering) *Subscription {
	sub := &Subscription{
		MonthlyAmount: monthly,
		Display:       pricing.Money(monthly) + "/month",
		Recurring:     true,
	}
	if class.EndDate != nil && !class.EndDate.IsZero() {
		sub.AutoCancelNote = fmt.Sprintf("Your subscription will automatically cancel when the class ends on %s.", class.EndDate.Format("January 2, 2006"))
	}
	return sub
}

func discountLabel(code *models.DiscountCode) string {
	if code.Code != "" {
		return fmt.Sprintf("Discount (%s)", code.Code)
	}
	if code.Description != "" {
		return "Discount - " + code.Description
	}
	return "Discount"
}

func adminBanner(code *models.DiscountCode) string {
	banner := "A discount has been applied to your order"
	if code.Description != "" {
		banner += ": " + code.Description
	}
	return banner
}

func withChild(label string, children []models.Child) string {
	if len(children) == 1 && children[0].Name() != "" {
		return label + " - " + children[0].Name()
	}
	return label
}

func trimPercent(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
