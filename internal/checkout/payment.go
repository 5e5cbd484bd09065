package checkout

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/discount"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/paymentmethod"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/pricing"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/summary"
)

// preOrderSteps accept payment choices; once an order exists they are fixed.
var preOrderSteps = map[models.Step]bool{
	models.StepPaymentMethod:       true,
	models.StepInstallmentsPending: true,
	models.StepOrderReview:         true,
}

// PaymentOptions lists the payment methods the class offers.
func (o *Orchestrator) PaymentOptions(ctx context.Context, parent models.Parent, id string) ([]paymentmethod.Option, error) {
	sess, err := o.view(ctx, parent, id)
	if err != nil {
		return nil, err
	}
	if sess.Class == nil {
		return nil, invalidTransition(sess.Step, "list payment methods")
	}
	return paymentmethod.Options(*sess.Class), nil
}

func (o *Orchestrator) SelectPaymentMethod(ctx context.Context, parent models.Parent, id string, method models.PaymentMethod) (*models.CheckoutSession, error) {
	return o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if !preOrderSteps[s.Step] {
			return invalidTransition(s.Step, "select a payment method")
		}
		if err := paymentmethod.Validate(*s.Class, method); err != nil {
			return invalid("method", err.Error())
		}
		s.OrderError = ""
		o.applyMethod(s, method)
		return nil
	})
}

// InstallmentPlans offers the monthly breakdowns of the current estimate.
func (o *Orchestrator) InstallmentPlans(ctx context.Context, parent models.Parent, id string) ([]models.InstallmentPlan, error) {
	sess, err := o.view(ctx, parent, id)
	if err != nil {
		return nil, err
	}
	return o.installmentPlans(sess)
}

func (o *Orchestrator) installmentPlans(s *models.CheckoutSession) ([]models.InstallmentPlan, error) {
	if !preOrderSteps[s.Step] {
		return nil, invalidTransition(s.Step, "list installment plans")
	}
	if !s.Class.InstallmentsAllowed() {
		return nil, invalid("method", paymentmethod.ErrUnavailable.Error())
	}
	sum, err := o.render(s)
	if err != nil {
		return nil, err
	}
	return pricing.InstallmentPlans(sum.Total), nil
}

func (o *Orchestrator) SelectInstallmentPlan(ctx context.Context, parent models.Parent, id string, count int) (*models.CheckoutSession, error) {
	return o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if s.PaymentMethod != models.PaymentInstallments {
			return invalidTransition(s.Step, "select an installment plan")
		}
		plans, err := o.installmentPlans(s)
		if err != nil {
			return err
		}
		if _, ok := pricing.FindPlan(plans, count); !ok {
			return invalid("count", "Please select an installment plan")
		}
		s.InstallmentCount = count
		s.Step = models.StepOrderReview
		return nil
	})
}

// ApplyDiscount holds the code until the order is created, or applies it to
// the existing order and requests a fresh payment intent for the new total.
func (o *Orchestrator) ApplyDiscount(ctx context.Context, parent models.Parent, id, code string) (*models.CheckoutSession, error) {
	normalized, err := discount.Normalize(code)
	if err != nil {
		return nil, invalid("code", err.Error())
	}

	var (
		order  *models.Order
		gen    uint64
		queued bool
	)
	sess, err := o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if err := o.checkDiscountable(s, "apply a discount"); err != nil {
			return err
		}
		s.DiscountError = ""
		if s.Order == nil {
			s.DiscountCode = normalized
			queued = true
			return nil
		}
		s.OrderGeneration++
		gen, order = s.OrderGeneration, s.Order
		return nil
	})
	if err != nil || queued {
		return sess, err
	}

	updated, applyErr := o.discount.Apply(ctx, order, normalized)
	return o.finishDiscount(ctx, parent, id, gen, normalized, updated, applyErr)
}

// RemoveDiscount drops the promo code from the selection or the order.
func (o *Orchestrator) RemoveDiscount(ctx context.Context, parent models.Parent, id string) (*models.CheckoutSession, error) {
	var (
		order  *models.Order
		gen    uint64
		queued bool
	)
	sess, err := o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if err := o.checkDiscountable(s, "remove a discount"); err != nil {
			return err
		}
		s.DiscountError = ""
		if s.Order == nil {
			s.DiscountCode = ""
			queued = true
			return nil
		}
		s.OrderGeneration++
		gen, order = s.OrderGeneration, s.Order
		return nil
	})
	if err != nil || queued {
		return sess, err
	}

	updated, removeErr := o.discount.Remove(ctx, order)
	return o.finishDiscount(ctx, parent, id, gen, "", updated, removeErr)
}

func (o *Orchestrator) checkDiscountable(s *models.CheckoutSession, action string) error {
	switch {
	case preOrderSteps[s.Step] && s.Order == nil:
	case s.Step == models.StepOrderCreated || s.Step == models.StepPaymentPending:
		if discount.Locked(s.Order) {
			return invalid("code", discount.ErrAdminApplied.Error())
		}
	default:
		return invalidTransition(s.Step, action)
	}
	if !paymentmethod.DiscountEligible(s.PaymentMethod) {
		return invalid("code", "Discount codes are not available for this payment method")
	}
	return nil
}

func (o *Orchestrator) finishDiscount(ctx context.Context, parent models.Parent, id string, gen uint64, code string, updated *models.Order, opErr error) (*models.CheckoutSession, error) {
	sess, err := o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if s.OrderGeneration != gen {
			return errSuperseded
		}
		if opErr != nil {
			stepErr := stepError("discount", opErr)
			s.DiscountError = stepErr.Message
			return stepErr
		}

		s.Order = updated
		s.DiscountCode = code
		s.DiscountError = ""
		s.PaymentIntent = nil
		s.PaymentRef = ""
		s.PaymentError = ""
		s.Step = models.StepOrderCreated
		s.OrderGeneration++
		gen = s.OrderGeneration
		return nil
	})
	if err != nil || sess.Step != models.StepOrderCreated || sess.OrderGeneration != gen {
		return sess, err
	}
	return o.requestIntent(ctx, parent, id, gen)
}

// Review creates the order from the accumulated selection and requests its
// payment intent. After an intent failure it only retries the intent.
func (o *Orchestrator) Review(ctx context.Context, parent models.Parent, id string) (*models.CheckoutSession, error) {
	var (
		req         models.CreateOrderRequest
		gen         uint64
		intentRetry bool
	)
	sess, err := o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		switch s.Step {
		case models.StepOrderReview:
		case models.StepOrderCreated:
			s.OrderGeneration++
			gen = s.OrderGeneration
			intentRetry = true
			return nil
		default:
			return invalidTransition(s.Step, "review the order")
		}

		if len(s.SelectedChildIDs) == 0 {
			return invalid("child_ids", "Please select a child")
		}
		if s.PaymentMethod == "" {
			return invalid("method", "Please select a payment method")
		}
		if s.PaymentMethod == models.PaymentInstallments && s.InstallmentCount == 0 {
			return invalid("count", "Please select an installment plan")
		}

		s.OrderError = ""
		s.OrderGeneration++
		gen = s.OrderGeneration
		req = models.CreateOrderRequest{
			ClassID:          s.ClassID,
			ChildIDs:         append([]string(nil), s.SelectedChildIDs...),
			PaymentMethod:    s.PaymentMethod,
			InstallmentCount: s.InstallmentCount,
			OptionalFees:     copyFees(s.OptionalFees),
		}
		if paymentmethod.DiscountEligible(s.PaymentMethod) {
			req.DiscountCode = s.DiscountCode
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if intentRetry {
		return o.requestIntent(ctx, parent, id, gen)
	}

	order, orderErr := o.svc.Orders.CreateOrder(ctx, req)

	sess, err = o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if s.OrderGeneration != gen || s.Step != models.StepOrderReview {
			return errSuperseded
		}
		if orderErr == nil && order == nil {
			orderErr = errors.New("order service returned no order")
		}
		if orderErr != nil {
			o.logger.Warn("order creation failed", zap.String("session_id", s.ID), zap.Error(orderErr))
			stepErr := stepError("create order", orderErr)
			s.OrderError = stepErr.Message
			return stepErr
		}

		o.logger.Info("order created",
			zap.String("session_id", s.ID),
			zap.String("order_id", order.ID),
			zap.Float64("total", order.Total))
		s.Order = order
		s.Step = models.StepOrderCreated
		return nil
	})
	if err != nil || sess.Step != models.StepOrderCreated || sess.OrderGeneration != gen {
		return sess, err
	}
	return o.requestIntent(ctx, parent, id, gen)
}

// requestIntent asks the payment provider for the hosted payment reference of
// the session's order. The result is dropped if gen has been superseded.
func (o *Orchestrator) requestIntent(ctx context.Context, parent models.Parent, id string, gen uint64) (*models.CheckoutSession, error) {
	sess, err := o.view(ctx, parent, id)
	if err != nil {
		return nil, err
	}
	if sess.OrderGeneration != gen || sess.Step != models.StepOrderCreated || sess.Order == nil {
		return sess, nil
	}

	req := models.PaymentIntentRequest{
		OrderID:          sess.Order.ID,
		PaymentMethod:    sess.PaymentMethod,
		InstallmentCount: sess.InstallmentCount,
		Order:            sess.Order,
		Class:            sess.Class,
		SessionID:        sess.ID,
		CustomerEmail:    parent.Email,
	}
	intent, intentErr := o.svc.Payments.CreatePaymentIntent(ctx, req)

	return o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if s.OrderGeneration != gen || s.Step != models.StepOrderCreated {
			return errSuperseded
		}
		if intentErr == nil && intent == nil {
			intentErr = errors.New("payment provider returned no payment intent")
		}
		if intentErr != nil {
			o.logger.Warn("payment intent failed", zap.String("session_id", s.ID), zap.Error(intentErr))
			stepErr := stepError("create payment intent", intentErr)
			s.PaymentError = stepErr.Message
			return stepErr
		}

		s.PaymentIntent = intent
		s.PaymentRef = intent.SessionID
		if s.PaymentRef == "" {
			s.PaymentRef = intent.ClientSecret
		}
		s.PaymentError = ""
		s.Step = models.StepPaymentPending
		return nil
	})
}

// Redirect returns the hosted payment URL. After this the session is no
// longer driven by the parent; only a payment confirmation moves it on.
func (o *Orchestrator) Redirect(ctx context.Context, parent models.Parent, id string) (string, *models.CheckoutSession, error) {
	var url string
	sess, err := o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if s.Step != models.StepPaymentPending && s.Step != models.StepRedirected {
			return invalidTransition(s.Step, "proceed to payment")
		}
		if s.PaymentIntent == nil || s.PaymentIntent.RedirectURL == "" {
			return invalid("payment", "No payment page is available for this order")
		}
		url = s.PaymentIntent.RedirectURL
		if s.Step != models.StepRedirected {
			o.logger.Info("redirecting to payment", zap.String("session_id", s.ID), zap.String("provider", s.PaymentIntent.Provider))
		}
		s.Step = models.StepRedirected
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return url, sess, nil
}

// MarkCompleted records a confirmed payment. Either the session id or the
// payment reference identifies the session; repeated confirmations are no-ops.
func (o *Orchestrator) MarkCompleted(ctx context.Context, sessionID, paymentRef string) (*models.CheckoutSession, error) {
	if sessionID == "" {
		if paymentRef == "" {
			return nil, ErrSessionNotFound
		}
		sess, err := o.store.GetByPaymentRef(ctx, paymentRef)
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
	}

	unlock := o.locks.lock(sessionID)
	defer unlock()

	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return o.apply(ctx, sess, func(s *models.CheckoutSession) error {
		if s.Step == models.StepCompleted {
			return errSuperseded
		}
		if s.Step != models.StepPaymentPending && s.Step != models.StepRedirected {
			return invalidTransition(s.Step, "complete payment")
		}
		if paymentRef != "" && s.PaymentRef != "" && s.PaymentRef != paymentRef {
			return fmt.Errorf("%w: payment reference %s does not match", ErrInvalidTransition, paymentRef)
		}

		now := o.opts.Now()
		s.CompletedAt = &now
		s.Step = models.StepCompleted
		o.logger.Info("checkout completed", zap.String("session_id", s.ID), zap.String("payment_ref", paymentRef))
		return nil
	})
}

// Summary renders the price breakdown of the session.
func (o *Orchestrator) Summary(ctx context.Context, parent models.Parent, id string) (summary.Summary, error) {
	sess, err := o.view(ctx, parent, id)
	if err != nil {
		return summary.Summary{}, err
	}
	if sess.Class == nil {
		return summary.Summary{}, invalidTransition(sess.Step, "summarize the order")
	}
	return o.render(sess)
}

func (o *Orchestrator) render(s *models.CheckoutSession) (summary.Summary, error) {
	sum, err := summary.Render(summary.Input{
		Class:                *s.Class,
		Children:             s.SelectedChildren(),
		PaymentMethod:        s.PaymentMethod,
		InstallmentCount:     s.InstallmentCount,
		ProcessingFeePercent: o.opts.ProcessingFeePercent,
		OptionalFees:         s.OptionalFees,
		PendingDiscountCode:  s.DiscountCode,
		Order:                s.Order,
		Tiers:                o.opts.SiblingTiers,
	})
	if errors.Is(err, pricing.ErrSiblingTierUndefined) {
		return summary.Summary{}, invalid("child_ids", "Too many children selected for sibling pricing")
	}
	return sum, err
}

func copyFees(fees map[string][]string) map[string][]string {
	if len(fees) == 0 {
		return nil
	}
	out := make(map[string][]string, len(fees))
	for childID, ids := range fees {
		out[childID] = append([]string(nil), ids...)
	}
	return out
}
