package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cucumber/godog"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/waiver"
)

type checkoutTestContext struct {
	t    *testing.T
	h    *harness
	sess *models.CheckoutSession
	err  error
}

func (c *checkoutTestContext) reset() {
	c.h = newHarness(c.t, Options{})
	c.h.fake.class.CustomFees = nil
	c.sess = nil
	c.err = nil
}

func (c *checkoutTestContext) aClassPricedAtWithOpenSpots(name string, price float64, spots int) error {
	c.h.fake.class.Name = name
	c.h.fake.class.BasePrice = price
	return c.theClassHasOpenSpots(spots)
}

func (c *checkoutTestContext) theClassHasOpenSpots(spots int) error {
	c.h.fake.capacity = &models.Capacity{ClassID: c.h.fake.class.ID, AvailableSpots: &spots}
	return nil
}

func (c *checkoutTestContext) childHasAPendingWaiver(childID, templateID string) error {
	c.h.fake.waivers[childID] = append(c.h.fake.waivers[childID], models.WaiverRequirement{
		TemplateID: templateID,
		Name:       templateID,
		Version:    1,
	})
	return nil
}

func (c *checkoutTestContext) theOrderServiceFailsWith(message string) error {
	c.h.fake.orderErr = errors.New(message)
	return nil
}

func (c *checkoutTestContext) theParentStartsCheckout() error {
	c.sess, c.err = c.h.orch.Start(context.Background(), testParent, c.h.fake.class.ID)
	return c.err
}

func (c *checkoutTestContext) theParentStartsCheckoutWithoutAClass() error {
	c.sess, c.err = c.h.orch.Start(context.Background(), testParent, "")
	return nil
}

// record keeps step errors for later assertions and fails on anything else.
func (c *checkoutTestContext) record(sess *models.CheckoutSession, err error) error {
	c.err = err
	if sess != nil {
		c.sess = sess
	}
	var stepErr *StepError
	if err != nil && !errors.As(err, &stepErr) {
		return err
	}
	return nil
}

func (c *checkoutTestContext) theParentSelectsChild(childID string) error {
	return c.record(c.h.orch.SelectChildren(context.Background(), testParent, c.sess.ID, []string{childID}))
}

func (c *checkoutTestContext) theParentChoosesThePaymentMethod(method string) error {
	return c.record(c.h.orch.SelectPaymentMethod(context.Background(), testParent, c.sess.ID, models.PaymentMethod(method)))
}

func (c *checkoutTestContext) theParentChoosesTheMonthPlan(count int) error {
	return c.record(c.h.orch.SelectInstallmentPlan(context.Background(), testParent, c.sess.ID, count))
}

func (c *checkoutTestContext) theParentSignsAllWaiversAs(name string) error {
	accepted := make(map[string]bool, len(c.sess.PendingWaivers))
	for _, w := range c.sess.PendingWaivers {
		accepted[w.TemplateID] = true
	}
	return c.record(c.h.orch.SignWaivers(context.Background(), testParent, c.sess.ID, waiver.Submission{
		Accepted:  accepted,
		Signature: name,
	}))
}

func (c *checkoutTestContext) theParentReviewsTheOrder() error {
	return c.record(c.h.orch.Review(context.Background(), testParent, c.sess.ID))
}

func (c *checkoutTestContext) theParentProceedsToPayment() error {
	_, sess, err := c.h.orch.Redirect(context.Background(), testParent, c.sess.ID)
	return c.record(sess, err)
}

func (c *checkoutTestContext) thePaymentProviderConfirmsThePayment() error {
	return c.record(c.h.orch.MarkCompleted(context.Background(), "", c.sess.PaymentRef))
}

func (c *checkoutTestContext) theParentJoinsTheWaitlistWithChild(childID string) error {
	return c.record(c.h.orch.JoinWaitlist(context.Background(), testParent, c.sess.ID, childID))
}

func (c *checkoutTestContext) theCheckoutStepIs(step string) error {
	if c.sess == nil {
		return fmt.Errorf("no checkout session (last error: %v)", c.err)
	}
	if string(c.sess.Step) != step {
		return fmt.Errorf("expected step %q, got %q", step, c.sess.Step)
	}
	return nil
}

func (c *checkoutTestContext) theOrderTotalIs(display string) error {
	sum, err := c.h.orch.Summary(context.Background(), testParent, c.sess.ID)
	if err != nil {
		return err
	}
	if sum.TotalDisplay != display {
		return fmt.Errorf("expected total %s, got %s", display, sum.TotalDisplay)
	}
	return nil
}

func (c *checkoutTestContext) theFirstPaymentIs(display string) error {
	sum, err := c.h.orch.Summary(context.Background(), testParent, c.sess.ID)
	if err != nil {
		return err
	}
	if sum.Installment == nil {
		return fmt.Errorf("summary has no installment framing")
	}
	if got := fmt.Sprintf("$%.2f", sum.Installment.FirstPayment); got != display {
		return fmt.Errorf("expected first payment %s, got %s", display, got)
	}
	return nil
}

func (c *checkoutTestContext) theRemainingPaymentsRead(text string) error {
	sum, err := c.h.orch.Summary(context.Background(), testParent, c.sess.ID)
	if err != nil {
		return err
	}
	if sum.Installment == nil || sum.Installment.Remaining != text {
		return fmt.Errorf("expected %q remaining, got %+v", text, sum.Installment)
	}
	return nil
}

func (c *checkoutTestContext) theWaitlistWasJoinedForClassAndChild(classID, childID string) error {
	for _, call := range c.h.fake.waitlistCalls {
		if call == [2]string{classID, childID} {
			return nil
		}
	}
	return fmt.Errorf("no waitlist call for class %s and child %s: %v", classID, childID, c.h.fake.waitlistCalls)
}

func (c *checkoutTestContext) theOrderErrorIs(message string) error {
	if c.sess.OrderError != message {
		return fmt.Errorf("expected order error %q, got %q", message, c.sess.OrderError)
	}
	return nil
}

func (c *checkoutTestContext) theParentIsSentTo(location string) error {
	var redirect *RedirectError
	if !errors.As(c.err, &redirect) {
		return fmt.Errorf("expected a redirect, got %v", c.err)
	}
	if redirect.Location != location {
		return fmt.Errorf("expected redirect to %s, got %s", location, redirect.Location)
	}
	return nil
}

func initializeScenario(t *testing.T) func(*godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		tc := &checkoutTestContext{t: t}

		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			tc.reset()
			return ctx, nil
		})

		ctx.Step(`^a class "([^"]*)" priced at (\d+(?:\.\d+)?) with (\d+) open spots$`, tc.aClassPricedAtWithOpenSpots)
		ctx.Step(`^the class has (\d+) open spots$`, tc.theClassHasOpenSpots)
		ctx.Step(`^child "([^"]*)" has a pending waiver "([^"]*)"$`, tc.childHasAPendingWaiver)
		ctx.Step(`^the order service fails with "([^"]*)"$`, tc.theOrderServiceFailsWith)

		ctx.Step(`^the parent starts checkout$`, tc.theParentStartsCheckout)
		ctx.Step(`^the parent starts checkout without a class$`, tc.theParentStartsCheckoutWithoutAClass)
		ctx.Step(`^the parent selects child "([^"]*)"$`, tc.theParentSelectsChild)
		ctx.Step(`^the parent chooses the "([^"]*)" payment method$`, tc.theParentChoosesThePaymentMethod)
		ctx.Step(`^the parent chooses the (\d+) month plan$`, tc.theParentChoosesTheMonthPlan)
		ctx.Step(`^the parent signs all waivers as "([^"]*)"$`, tc.theParentSignsAllWaiversAs)
		ctx.Step(`^the parent reviews the order$`, tc.theParentReviewsTheOrder)
		ctx.Step(`^the parent proceeds to payment$`, tc.theParentProceedsToPayment)
		ctx.Step(`^the payment provider confirms the payment$`, tc.thePaymentProviderConfirmsThePayment)
		ctx.Step(`^the parent joins the waitlist with child "([^"]*)"$`, tc.theParentJoinsTheWaitlistWithChild)

		ctx.Step(`^the checkout step is "([^"]*)"$`, tc.theCheckoutStepIs)
		ctx.Step(`^the order total is "([^"]*)"$`, tc.theOrderTotalIs)
		ctx.Step(`^the first payment is "([^"]*)"$`, tc.theFirstPaymentIs)
		ctx.Step(`^the remaining payments read "([^"]*)"$`, tc.theRemainingPaymentsRead)
		ctx.Step(`^the waitlist was joined for class "([^"]*)" and child "([^"]*)"$`, tc.theWaitlistWasJoinedForClassAndChild)
		ctx.Step(`^the order error is "([^"]*)"$`, tc.theOrderErrorIs)
		ctx.Step(`^the parent is sent to "([^"]*)"$`, tc.theParentIsSentTo)
	}
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeScenario(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/checkout.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
