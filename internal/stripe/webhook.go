package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	EventCheckoutSessionCompleted             = "checkout.session.completed"
	EventCheckoutSessionAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// CompletedCheckout is the part of a completed Checkout session the service acts on.
type CompletedCheckout struct {
	EventID           string
	StripeSessionID   string
	CheckoutSessionID string
	OrderID           string
	PaymentStatus     string
	SubscriptionID    string
	InstallmentCount  int
	CancelAt          string
}

// Paid reports whether the money has been collected. Delayed payment methods
// complete the session as unpaid and settle in a later async event.
func (c *CompletedCheckout) Paid() bool {
	switch stripego.CheckoutSessionPaymentStatus(c.PaymentStatus) {
	case stripego.CheckoutSessionPaymentStatusPaid, stripego.CheckoutSessionPaymentStatusNoPaymentRequired:
		return true
	}
	return false
}

// IsCompletionEvent reports whether the event type carries a finished Checkout session.
func IsCompletionEvent(eventType string) bool {
	return eventType == EventCheckoutSessionCompleted || eventType == EventCheckoutSessionAsyncPaymentSucceeded
}

// WebhookVerifier checks Stripe-Signature headers and decodes events.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// ErrWebhookNotConfigured is returned when no signing secret is set.
var ErrWebhookNotConfigured = errors.New("stripe webhook secret is not configured")

// ConstructEvent verifies the signature of payload and returns the event.
func (v *WebhookVerifier) ConstructEvent(payload []byte, signature string) (stripego.Event, error) {
	if v == nil || v.secret == "" {
		return stripego.Event{}, ErrWebhookNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripego.Event{}, fmt.Errorf("verify webhook: %w", err)
	}
	return event, nil
}

// ParseCompletedCheckout extracts the Checkout session from a completion event.
func ParseCompletedCheckout(event stripego.Event) (*CompletedCheckout, error) {
	if !IsCompletionEvent(string(event.Type)) {
		return nil, fmt.Errorf("unexpected event type %q", event.Type)
	}
	if event.Data == nil {
		return nil, errors.New("event has no data")
	}

	var sess stripego.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("parse checkout session: %w", err)
	}

	out := &CompletedCheckout{
		EventID:           event.ID,
		StripeSessionID:   sess.ID,
		CheckoutSessionID: sess.ClientReferenceID,
		PaymentStatus:     string(sess.PaymentStatus),
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	if sess.Metadata != nil {
		out.OrderID = sess.Metadata["order_id"]
		if out.CheckoutSessionID == "" {
			out.CheckoutSessionID = sess.Metadata["checkout_session_id"]
		}
		out.CancelAt = sess.Metadata[metaCancelAt]
		if raw := sess.Metadata[metaInstallmentCount]; raw != "" {
			count, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("parse %s %q: %w", metaInstallmentCount, raw, err)
			}
			out.InstallmentCount = count
		}
	}
	return out, nil
}
