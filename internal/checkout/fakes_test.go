package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/store"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

var testParent = models.Parent{ID: "parent-1", Name: "Pat Parent", Email: "pat@example.com"}

// fakePlatform stands in for every platform collaborator.
type fakePlatform struct {
	mu sync.Mutex

	class       *models.ClassOffering
	classErr    error
	children    []models.Child
	childrenErr error
	capacity    *models.Capacity
	capacityErr error

	waivers       map[string][]models.WaiverRequirement
	waiverErr     error
	waiverBlock   map[string]chan struct{}
	waiverStarted chan string
	signResult    *models.SignWaiversResult
	signErr       error
	signCalls     []models.SignWaiversRequest

	orderErr      error
	orderCalls    []models.CreateOrderRequest
	discountErr   error
	discountCodes []string
	removeCalls   int
	intentErrs    []error
	intentCalls   []models.PaymentIntentRequest
	waitlistCalls [][2]string
	waitlistErr   error
}

func dob(year int, month time.Month, day int) *models.Date {
	d := models.NewDate(year, month, day)
	return &d
}

func intPtr(v int) *int { return &v }

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		class: &models.ClassOffering{
			ID:                  "class-1",
			Name:                "Junior Soccer",
			BillingModel:        models.BillingOneTime,
			BasePrice:           600,
			Capacity:            10,
			CurrentEnrollment:   5,
			MinAge:              intPtr(5),
			MaxAge:              intPtr(12),
			InstallmentsEnabled: true,
			CustomFees: []models.CustomFee{
				{ID: "fee-jersey", Name: "Jersey", Amount: 25},
				{ID: "fee-insurance", Name: "Insurance", Amount: 10, Required: true},
			},
		},
		children: []models.Child{
			{ID: "c1", FirstName: "Sam", LastName: "Lee", DateOfBirth: dob(2018, time.May, 1)},
			{ID: "c2", FirstName: "Alex", LastName: "Lee", DateOfBirth: dob(2016, time.June, 2)},
			{ID: "c3", FirstName: "Robin", LastName: "Lee", DateOfBirth: dob(2024, time.January, 3)},
			{ID: "c4", FirstName: "Jo", LastName: "Lee", DateOfBirth: dob(2017, time.July, 4),
				Enrollments: []models.Enrollment{{ID: "e1", ClassID: "class-1", Status: "active"}}},
		},
		waivers: map[string][]models.WaiverRequirement{},
	}
}

func (f *fakePlatform) GetClass(_ context.Context, classID string) (*models.ClassOffering, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.classErr != nil {
		return nil, f.classErr
	}
	c := *f.class
	return &c, nil
}

func (f *fakePlatform) GetCapacity(_ context.Context, classID string) (*models.Capacity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capacity, f.capacityErr
}

func (f *fakePlatform) ListChildren(context.Context) ([]models.Child, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.children, f.childrenErr
}

func (f *fakePlatform) JoinWaitlist(_ context.Context, classID, childID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitlistCalls = append(f.waitlistCalls, [2]string{classID, childID})
	return f.waitlistErr
}

func (f *fakePlatform) ListPendingWaivers(_ context.Context, childID, classID string) ([]models.WaiverRequirement, error) {
	f.mu.Lock()
	block := f.waiverBlock[childID]
	started := f.waiverStarted
	f.mu.Unlock()

	if block != nil {
		if started != nil {
			started <- childID
		}
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waivers[childID], f.waiverErr
}

func (f *fakePlatform) SignWaivers(_ context.Context, req models.SignWaiversRequest) (*models.SignWaiversResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signCalls = append(f.signCalls, req)
	if f.signErr != nil {
		return nil, f.signErr
	}
	if f.signResult != nil {
		return f.signResult, nil
	}
	return &models.SignWaiversResult{Success: true, SignedCount: len(req.Waivers)}, nil
}

func (f *fakePlatform) CreateOrder(_ context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls = append(f.orderCalls, req)
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	return &models.Order{ID: "order-1", Status: "pending", Subtotal: 600, Total: 600, PaymentMethod: req.PaymentMethod}, nil
}

func (f *fakePlatform) ApplyDiscount(_ context.Context, orderID, code string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discountCodes = append(f.discountCodes, code)
	if f.discountErr != nil {
		return nil, f.discountErr
	}
	return &models.Order{
		ID:             orderID,
		Subtotal:       600,
		DiscountAmount: 60,
		Total:          540,
		Discount:       &models.DiscountCode{Code: code, Type: models.DiscountPercentage, Value: 10},
	}, nil
}

func (f *fakePlatform) RemoveDiscount(_ context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls++
	return &models.Order{ID: orderID, Subtotal: 600, Total: 600}, nil
}

func (f *fakePlatform) CreatePaymentIntent(_ context.Context, req models.PaymentIntentRequest) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intentCalls = append(f.intentCalls, req)
	if len(f.intentErrs) > 0 {
		err := f.intentErrs[0]
		f.intentErrs = f.intentErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	ref := "cs_" + req.OrderID
	return &models.PaymentIntent{SessionID: ref, RedirectURL: "https://pay.example.com/" + ref, Provider: "platform"}, nil
}

type harness struct {
	t     *testing.T
	fake  *fakePlatform
	store *store.MemoryStore
	orch  *Orchestrator
	now   time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, fake: newFakePlatform(), store: store.NewMemoryStore(), now: testNow}
	if opts.Now == nil {
		opts.Now = func() time.Time { return h.now }
	}
	h.orch = New(Services{
		Classes:  h.fake,
		Children: h.fake,
		Waivers:  h.fake,
		Orders:   h.fake,
		Payments: h.fake,
	}, h.store, opts, nil)
	return h
}

func (h *harness) start() *models.CheckoutSession {
	h.t.Helper()
	sess, err := h.orch.Start(context.Background(), testParent, "class-1")
	if err != nil {
		h.t.Fatalf("Start returned error: %v", err)
	}
	return sess
}

// toReview drives a fresh session to order_review with the given children.
func (h *harness) toReview(childIDs ...string) *models.CheckoutSession {
	h.t.Helper()
	sess := h.start()
	sess, err := h.orch.SelectChildren(context.Background(), testParent, sess.ID, childIDs)
	if err != nil {
		h.t.Fatalf("SelectChildren returned error: %v", err)
	}
	if sess.Step != models.StepOrderReview {
		h.t.Fatalf("expected order_review, got %s", sess.Step)
	}
	return sess
}
