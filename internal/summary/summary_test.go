package summary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

func kinds(s Summary) []LineKind {
	out := make([]LineKind, 0, len(s.Lines))
	for _, l := range s.Lines {
		out = append(out, l.Kind)
	}
	return out
}

func findLine(s Summary, kind LineKind) (Line, bool) {
	for _, l := range s.Lines {
		if l.Kind == kind {
			return l, true
		}
	}
	return Line{}, false
}

var (
	sam  = models.Child{ID: "c1", FirstName: "Sam", LastName: "Lee"}
	alex = models.Child{ID: "c2", FirstName: "Alex", LastName: "Lee"}
)

func TestRenderFullPaymentNoDiscount(t *testing.T) {
	s, err := Render(Input{
		Class:         models.ClassOffering{ID: "k1", BasePrice: 600},
		Children:      []models.Child{sam},
		PaymentMethod: models.PaymentFull,
	})
	require.NoError(t, err)

	assert.Equal(t, SourceEstimate, s.PricingSource)
	assert.Equal(t, "$600.00", s.TotalDisplay)
	assert.Equal(t, []LineKind{KindClassFee}, kinds(s))
	_, hasFee := findLine(s, KindProcessingFee)
	assert.False(t, hasFee, "zero processing fee must be omitted")
}

func TestRenderInstallmentFraming(t *testing.T) {
	s, err := Render(Input{
		Class:            models.ClassOffering{ID: "k1", BasePrice: 600, InstallmentsEnabled: true},
		Children:         []models.Child{sam},
		PaymentMethod:    models.PaymentInstallments,
		InstallmentCount: 3,
	})
	require.NoError(t, err)

	require.NotNil(t, s.Installment)
	assert.Equal(t, 200.0, s.Installment.FirstPayment)
	assert.Equal(t, 2, s.Installment.RemainingMonths)
	assert.Equal(t, "2 more months", s.Installment.Remaining)
	assert.Contains(t, s.Installment.Display, "$200.00")
}

func TestRenderSiblingBreakdown(t *testing.T) {
	s, err := Render(Input{
		Class:         models.ClassOffering{ID: "k1", BasePrice: 400},
		Children:      []models.Child{sam, alex},
		PaymentMethod: models.PaymentFull,
	})
	require.NoError(t, err)

	assert.Equal(t, []LineKind{KindClassFee, KindClassFee, KindSiblingDiscount}, kinds(s))
	sibling, _ := findLine(s, KindSiblingDiscount)
	assert.Equal(t, -100.0, sibling.Amount)
	assert.Contains(t, sibling.Label, "25% off")
	assert.Contains(t, sibling.Label, "Alex Lee")
	assert.Equal(t, 700.0, s.Total)
}

func TestRenderRejectsUndefinedSiblingTier(t *testing.T) {
	third := models.Child{ID: "c3", FirstName: "Jo"}
	_, err := Render(Input{
		Class:    models.ClassOffering{ID: "k1", BasePrice: 400},
		Children: []models.Child{sam, alex, third},
	})
	assert.Error(t, err)
}

func TestRenderEstimateDiscountFeesAndCustomFees(t *testing.T) {
	class := models.ClassOffering{
		ID:              "k1",
		BasePrice:       100,
		RegistrationFee: 25,
		CustomFees: []models.CustomFee{
			{ID: "jersey", Name: "Jersey", Amount: 30, Required: true},
			{ID: "photos", Name: "Team photos", Amount: 15},
			{ID: "bus", Name: "Bus", Amount: 40},
		},
	}
	s, err := Render(Input{
		Class:                class,
		Children:             []models.Child{sam, alex},
		PaymentMethod:        models.PaymentFull,
		ProcessingFeePercent: 3,
		OptionalFees:         map[string][]string{"c2": {"photos"}},
		Order:                &models.Order{ID: "o1", Total: 999, Discount: &models.DiscountCode{Code: "SAVE10", Type: models.DiscountPercentage, Value: 10}},
	})
	require.NoError(t, err)

	assert.Equal(t, []LineKind{
		KindClassFee, KindClassFee, KindSiblingDiscount,
		KindRegistrationFee, KindDiscount, KindProcessingFee,
		KindCustomFee, KindCustomFee,
	}, kinds(s))

	// classes 100 + 75, registration 2 x 25 => 225
	assert.Equal(t, 225.0, s.Subtotal)
	discount, _ := findLine(s, KindDiscount)
	assert.Equal(t, -22.5, discount.Amount)
	assert.Equal(t, "Discount (SAVE10)", discount.Label)
	fee, _ := findLine(s, KindProcessingFee)
	assert.Equal(t, 6.08, fee.Amount)
	assert.Equal(t, "Processing fee (3%)", fee.Label)
	assert.Equal(t, "Jersey", s.Lines[6].Label)
	assert.Equal(t, 60.0, s.Lines[6].Amount)
	assert.Equal(t, "Team photos (optional)", s.Lines[7].Label)
	assert.Equal(t, 15.0, s.Lines[7].Amount)

	// Backend total wins over the local estimate.
	assert.Equal(t, 999.0, s.Total)
}

func TestRenderAuthoritativeSuppressesLocalEstimates(t *testing.T) {
	class := models.ClassOffering{
		ID:         "k1",
		BasePrice:  100,
		CustomFees: []models.CustomFee{{ID: "jersey", Name: "Jersey", Amount: 30, Required: true}},
	}
	order := &models.Order{
		ID:       "o1",
		Total:    161,
		Discount: &models.DiscountCode{Code: "SAVE10", Type: models.DiscountPercentage, Value: 10},
		LineItems: []models.LineItem{
			{Description: "Soccer - Sam", UnitPrice: 100, LineTotal: 90, DiscountAmount: 10},
			{Description: "Jersey", UnitPrice: 30, LineTotal: 30},
		},
	}
	s, err := Render(Input{Class: class, Children: []models.Child{sam}, PaymentMethod: models.PaymentFull, Order: order})
	require.NoError(t, err)

	assert.Equal(t, SourceAuthoritative, s.PricingSource)
	_, hasDiscount := findLine(s, KindDiscount)
	assert.False(t, hasDiscount)
	for _, l := range s.Lines {
		assert.NotEqual(t, KindCustomFee, l.Kind)
	}
	assert.Equal(t, 161.0, s.Total)
	assert.Equal(t, 120.0, s.Subtotal)
}

func TestRenderAuthoritativeIgnoresLocalFees(t *testing.T) {
	class := models.ClassOffering{ID: "k1", BasePrice: 600, RegistrationFee: 50}
	order := &models.Order{
		ID:       "o1",
		Subtotal: 650,
		Total:    669.5,
		LineItems: []models.LineItem{
			{Description: "Soccer - Sam", UnitPrice: 600, LineTotal: 600},
			{Description: "Registration fee", UnitPrice: 50, LineTotal: 50},
			{Description: "Processing fee", UnitPrice: 19.5, LineTotal: 19.5},
		},
	}
	s, err := Render(Input{
		Class:                class,
		Children:             []models.Child{sam},
		PaymentMethod:        models.PaymentFull,
		ProcessingFeePercent: 3,
		Order:                order,
	})
	require.NoError(t, err)

	assert.Equal(t, SourceAuthoritative, s.PricingSource)
	assert.Equal(t, []LineKind{KindClassFee, KindClassFee, KindClassFee}, kinds(s))
	_, hasRegistration := findLine(s, KindRegistrationFee)
	assert.False(t, hasRegistration)
	_, hasProcessing := findLine(s, KindProcessingFee)
	assert.False(t, hasProcessing)
	assert.Equal(t, 650.0, s.Subtotal)
	assert.Equal(t, 669.5, s.Total)
}

func TestRenderSubscriptionFraming(t *testing.T) {
	monthly := 85.0
	end := models.NewDate(2026, time.June, 15)
	class := models.ClassOffering{ID: "k1", BillingModel: models.BillingMembership, MembershipPrice: &monthly, EndDate: &end}

	s, err := Render(Input{
		Class:         class,
		Children:      []models.Child{sam},
		PaymentMethod: models.PaymentSubscribe,
		Order:         &models.Order{ID: "o1", Total: 85, Discount: &models.DiscountCode{Code: "X", Type: models.DiscountFixedAmount, Value: 5}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Monthly class fee - Sam Lee", s.Lines[0].Label)
	_, hasDiscount := findLine(s, KindDiscount)
	assert.False(t, hasDiscount, "subscriptions are not discount eligible")
	require.NotNil(t, s.Subscription)
	assert.True(t, s.Subscription.Recurring)
	assert.Equal(t, "$85.00/month", s.Subscription.Display)
	assert.Contains(t, s.Subscription.AutoCancelNote, "June 15, 2026")
}

func TestRenderAdminDiscountBanner(t *testing.T) {
	s, err := Render(Input{
		Class:         models.ClassOffering{ID: "k1", BasePrice: 200},
		Children:      []models.Child{sam},
		PaymentMethod: models.PaymentFull,
		Order: &models.Order{ID: "o1", Total: 150, Discount: &models.DiscountCode{
			Type: models.DiscountFixedAmount, Value: 50, AdminApplied: true, Description: "Scholarship",
		}},
	})
	require.NoError(t, err)

	assert.True(t, s.DiscountLocked)
	assert.Equal(t, "A discount has been applied to your order: Scholarship", s.AdminDiscountBanner)
	discount, _ := findLine(s, KindDiscount)
	assert.Equal(t, "Discount - Scholarship", discount.Label)
}

func TestRenderPendingCodeAndTwoMonthPlan(t *testing.T) {
	s, err := Render(Input{
		Class:               models.ClassOffering{ID: "k1", BasePrice: 99.99, InstallmentsEnabled: true},
		PaymentMethod:       models.PaymentInstallments,
		InstallmentCount:    2,
		PendingDiscountCode: "SPRING",
	})
	require.NoError(t, err)

	assert.Equal(t, "SPRING", s.PendingDiscountCode)
	require.NotNil(t, s.Installment)
	assert.Equal(t, 49.99, s.Installment.FirstPayment)
	assert.Equal(t, "1 more month", s.Installment.Remaining)
}
