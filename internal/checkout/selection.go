package checkout

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/eligibility"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/paymentmethod"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/waiver"
)

// selectableSteps are the steps in which the child selection may still change.
var selectableSteps = map[models.Step]bool{
	models.StepSelectingChild:      true,
	models.StepCheckingWaivers:     true,
	models.StepWaiverRequired:      true,
	models.StepPaymentMethod:       true,
	models.StepInstallmentsPending: true,
	models.StepOrderReview:         true,
}

// Eligibility evaluates every child of the parent against the class.
func (o *Orchestrator) Eligibility(ctx context.Context, parent models.Parent, id string) ([]eligibility.ChildResult, error) {
	sess, err := o.view(ctx, parent, id)
	if err != nil {
		return nil, err
	}
	if sess.Class == nil {
		return nil, invalidTransition(sess.Step, "list eligible children")
	}
	return eligibility.EvaluateAll(sess.Children, *sess.Class, o.opts.Now()), nil
}

// SelectChildren replaces the child selection and runs the waiver lookup for
// it. A lookup that finishes after a newer selection is discarded.
func (o *Orchestrator) SelectChildren(ctx context.Context, parent models.Parent, id string, childIDs []string) (*models.CheckoutSession, error) {
	var (
		gen      uint64
		classID  string
		selected []string
	)
	_, err := o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if !selectableSteps[s.Step] {
			return invalidTransition(s.Step, "select children")
		}
		ids, err := o.validateSelection(s, childIDs)
		if err != nil {
			return err
		}

		s.SelectedChildIDs = ids
		s.PendingWaivers = nil
		s.WaiverError = ""
		s.OrderError = ""
		s.InstallmentCount = 0
		for childID := range s.OptionalFees {
			if !s.IsSelected(childID) {
				delete(s.OptionalFees, childID)
			}
		}
		s.WaiverGeneration++
		s.Step = models.StepCheckingWaivers

		gen = s.WaiverGeneration
		classID = s.ClassID
		selected = append([]string(nil), ids...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	cleared := false
	gate := waiver.NewGate(o.svc.Waivers, classID, selected, func() { cleared = true })
	pending, lookupErr := gate.Load(ctx)

	return o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if s.WaiverGeneration != gen || s.Step != models.StepCheckingWaivers {
			return errSuperseded
		}
		if lookupErr != nil {
			o.logger.Warn("waiver lookup failed", zap.String("session_id", s.ID), zap.Error(lookupErr))
			s.Step = models.StepSelectingChild
			stepErr := stepError("check waivers", lookupErr)
			s.WaiverError = stepErr.Message
			return stepErr
		}
		if !cleared {
			s.PendingWaivers = pending
			s.Step = models.StepWaiverRequired
			return nil
		}
		o.enterPaymentMethod(s)
		return nil
	})
}

func (o *Orchestrator) validateSelection(s *models.CheckoutSession, childIDs []string) ([]string, error) {
	seen := make(map[string]bool, len(childIDs))
	ids := make([]string, 0, len(childIDs))
	for _, childID := range childIDs {
		if childID == "" || seen[childID] {
			continue
		}
		seen[childID] = true
		ids = append(ids, childID)
	}

	if len(ids) == 0 {
		return nil, invalid("child_ids", "Please select a child")
	}
	if len(ids) > 1 && !o.opts.MultiChild {
		return nil, invalid("child_ids", "Only one child can be enrolled at a time")
	}
	if limit := o.opts.SiblingTiers.MaxChildren(); len(ids) > limit {
		return nil, invalid("child_ids", "Too many children selected for sibling pricing")
	}

	for _, childID := range ids {
		child, ok := s.FindChild(childID)
		if !ok {
			return nil, invalid("child_ids", "Selected child was not found")
		}
		if res := eligibility.Evaluate(child, *s.Class, o.opts.Now()); !res.Eligible {
			return nil, invalid("child_ids", child.Name()+": "+res.Message)
		}
	}
	return ids, nil
}

// SignWaivers submits the parent's acceptance and signature for every
// pending waiver in one batch.
func (o *Orchestrator) SignWaivers(ctx context.Context, parent models.Parent, id string, sub waiver.Submission) (*models.CheckoutSession, error) {
	sess, err := o.view(ctx, parent, id)
	if err != nil {
		return nil, err
	}
	if sess.Step != models.StepWaiverRequired {
		return nil, invalidTransition(sess.Step, "sign waivers")
	}
	gen := sess.WaiverGeneration

	signed := false
	gate := waiver.NewGate(o.svc.Waivers, sess.ClassID, sess.SelectedChildIDs, func() { signed = true }).
		WithPending(sess.PendingWaivers)
	submitErr := gate.Submit(ctx, sub)
	if errors.Is(submitErr, waiver.ErrTermsNotAccepted) {
		return nil, invalid("accepted", submitErr.Error())
	}
	if errors.Is(submitErr, waiver.ErrSignatureRequired) {
		return nil, invalid("signature", submitErr.Error())
	}

	return o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if s.WaiverGeneration != gen || s.Step != models.StepWaiverRequired {
			return errSuperseded
		}
		if submitErr != nil || !signed {
			o.logger.Warn("waiver signing failed", zap.String("session_id", s.ID), zap.Error(submitErr))
			stepErr := stepError("sign waivers", submitErr)
			s.WaiverError = stepErr.Message
			return stepErr
		}

		o.logger.Info("waivers signed", zap.String("session_id", s.ID), zap.Int("count", len(s.PendingWaivers)))
		s.PendingWaivers = nil
		s.WaiverError = ""
		o.enterPaymentMethod(s)
		return nil
	})
}

// enterPaymentMethod moves past the waiver gate. The default method is
// selected once per session; an existing choice is kept and re-applied.
func (o *Orchestrator) enterPaymentMethod(s *models.CheckoutSession) {
	s.Step = models.StepPaymentMethod
	selector := paymentmethod.NewSelector(*s.Class, s.AutoSelected, func(m models.PaymentMethod) {
		s.AutoSelected = true
		o.applyMethod(s, m)
	})
	if !selector.Resolve(s.PaymentMethod) && s.PaymentMethod != "" {
		o.applyMethod(s, s.PaymentMethod)
	}
}

// applyMethod makes m the only active method and derives the next step.
func (o *Orchestrator) applyMethod(s *models.CheckoutSession, m models.PaymentMethod) {
	if m != models.PaymentInstallments {
		s.InstallmentCount = 0
	}
	if !paymentmethod.DiscountEligible(m) {
		s.DiscountCode = ""
		s.DiscountError = ""
	}
	s.PaymentMethod = m

	if m == models.PaymentInstallments && s.InstallmentCount == 0 {
		s.Step = models.StepInstallmentsPending
	} else {
		s.Step = models.StepOrderReview
	}
}

// SelectOptionalFees sets the optional custom fees charged for one selected child.
func (o *Orchestrator) SelectOptionalFees(ctx context.Context, parent models.Parent, id, childID string, feeIDs []string) (*models.CheckoutSession, error) {
	return o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if !selectableSteps[s.Step] || len(s.SelectedChildIDs) == 0 {
			return invalidTransition(s.Step, "select optional fees")
		}
		if !s.IsSelected(childID) {
			return invalid("child_id", "Child is not part of this enrollment")
		}

		seen := make(map[string]bool, len(feeIDs))
		var ids []string
		for _, feeID := range feeIDs {
			if seen[feeID] {
				continue
			}
			seen[feeID] = true
			fee, ok := s.Class.FindFee(feeID)
			if !ok || fee.Required {
				return invalid("fee_ids", "Fee is not an optional fee of this class")
			}
			ids = append(ids, feeID)
		}

		if len(ids) == 0 {
			delete(s.OptionalFees, childID)
			return nil
		}
		if s.OptionalFees == nil {
			s.OptionalFees = make(map[string][]string)
		}
		s.OptionalFees[childID] = ids
		return nil
	})
}

// JoinWaitlist adds a child to the waitlist of a full class.
func (o *Orchestrator) JoinWaitlist(ctx context.Context, parent models.Parent, id, childID string) (*models.CheckoutSession, error) {
	sess, err := o.view(ctx, parent, id)
	if err != nil {
		return nil, err
	}
	if sess.Step != models.StepWaitlist {
		return nil, invalidTransition(sess.Step, "join the waitlist")
	}
	if _, ok := sess.FindChild(childID); !ok {
		return nil, invalid("child_id", "Please select a child")
	}
	for _, waiting := range sess.WaitlistedChild {
		if waiting == childID {
			return sess, nil
		}
	}

	joinErr := o.svc.Classes.JoinWaitlist(ctx, sess.ClassID, childID)

	return o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if s.Step != models.StepWaitlist {
			return errSuperseded
		}
		if joinErr != nil {
			stepErr := stepError("join waitlist", joinErr)
			s.WaitlistError = stepErr.Message
			return stepErr
		}
		o.logger.Info("joined waitlist", zap.String("session_id", s.ID), zap.String("child_id", childID))
		s.WaitlistError = ""
		s.WaitlistedChild = append(s.WaitlistedChild, childID)
		return nil
	})
}
