package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/checkout"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
	stripeClient "github.com/PortNumber53/enrollment-checkout/backend/internal/stripe"
)

// CheckoutCompleter records confirmed payments against checkout sessions.
type CheckoutCompleter interface {
	MarkCompleted(ctx context.Context, sessionID, paymentRef string) (*models.CheckoutSession, error)
}

// SubscriptionScheduler ends the recurring billing a completed checkout started.
type SubscriptionScheduler interface {
	ScheduleCancellation(ctx context.Context, completed *stripeClient.CompletedCheckout) (time.Time, error)
}

// StripeHandler receives Stripe webhooks for hosted Checkout payments.
// Subscriptions is optional.
type StripeHandler struct {
	Checkout      CheckoutCompleter
	Subscriptions SubscriptionScheduler
	Verifier      *stripeClient.WebhookVerifier
	Logger        *zap.Logger
}

// NewStripeHandler creates a new StripeHandler
func NewStripeHandler(completer CheckoutCompleter, verifier *stripeClient.WebhookVerifier, logger *zap.Logger) *StripeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeHandler{Checkout: completer, Verifier: verifier, Logger: logger.Named("stripe_webhook")}
}

// RegisterRoutes registers the webhook route
func (h *StripeHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/webhooks/stripe", h.HandleWebhook())
}

// HandleWebhook verifies the signature and completes the checkout session
// referenced by a paid checkout.session.completed or
// checkout.session.async_payment_succeeded event. Other events are
// acknowledged and ignored.
func (h *StripeHandler) HandleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		event, err := h.Verifier.ConstructEvent(body, r.Header.Get("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, stripeClient.ErrWebhookNotConfigured) {
				h.Logger.Error("webhook received but no signing secret is configured")
				http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
				return
			}
			h.Logger.Warn("failed to verify event", zap.Error(err))
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}

		h.Logger.Info("received event", zap.String("event_id", event.ID), zap.String("type", string(event.Type)))

		if !stripeClient.IsCompletionEvent(string(event.Type)) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		completed, err := stripeClient.ParseCompletedCheckout(event)
		if err != nil {
			h.Logger.Warn("malformed checkout completion", zap.String("event_id", event.ID), zap.Error(err))
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}

		if !completed.Paid() {
			h.Logger.Info("checkout awaiting payment",
				zap.String("checkout_session_id", completed.CheckoutSessionID),
				zap.String("payment_status", completed.PaymentStatus))
			writeJSON(w, http.StatusOK, map[string]string{"status": "awaiting_payment"})
			return
		}

		sess, err := h.Checkout.MarkCompleted(r.Context(), completed.CheckoutSessionID, completed.StripeSessionID)
		switch {
		case errors.Is(err, checkout.ErrSessionNotFound):
			// Acknowledge so Stripe stops redelivering.
			h.Logger.Warn("completed checkout for unknown session",
				zap.String("checkout_session_id", completed.CheckoutSessionID),
				zap.String("stripe_session_id", completed.StripeSessionID))
			writeJSON(w, http.StatusOK, map[string]string{"status": "unknown_session"})
			return
		case errors.Is(err, checkout.ErrInvalidTransition):
			h.Logger.Warn("completed checkout in unexpected state", zap.String("checkout_session_id", completed.CheckoutSessionID), zap.Error(err))
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		case err != nil:
			h.Logger.Error("failed to complete checkout", zap.Error(err))
			http.Error(w, "failed to complete checkout", http.StatusInternalServerError)
			return
		}

		if h.Subscriptions != nil && completed.SubscriptionID != "" {
			// Failing here makes Stripe redeliver; completion is idempotent.
			if _, err := h.Subscriptions.ScheduleCancellation(r.Context(), completed); err != nil {
				h.Logger.Error("failed to schedule subscription cancellation",
					zap.String("subscription_id", completed.SubscriptionID), zap.Error(err))
				http.Error(w, "failed to schedule subscription cancellation", http.StatusInternalServerError)
				return
			}
		}

		h.Logger.Info("checkout completed",
			zap.String("checkout_session_id", sess.ID),
			zap.String("order_id", completed.OrderID),
			zap.String("payment_status", completed.PaymentStatus))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
