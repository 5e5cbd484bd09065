package stripe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/config"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/pricing"
)

const ProviderName = "stripe"

const (
	metaInstallmentCount = "installment_count"
	metaCancelAt         = "cancel_at"
	cancelDateLayout     = "2006-01-02"
)

// Client creates hosted Stripe Checkout sessions for platform orders.
type Client struct {
	api        *client.API
	currency   string
	successURL string
	cancelURL  string
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a Stripe client. backends may be nil to talk to the live API.
func NewClient(cfg config.Stripe, backends *stripego.Backends, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = string(stripego.CurrencyUSD)
	}
	return &Client{
		api:        client.New(cfg.SecretKey, backends),
		currency:   currency,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		logger:     logger.Named("stripe"),
		now:        time.Now,
	}
}

// CreatePaymentIntent creates a Checkout session for the order and returns its
// hosted URL. The checkout session id travels as client_reference_id so the
// webhook can find it again.
func (c *Client) CreatePaymentIntent(ctx context.Context, req models.PaymentIntentRequest) (*models.PaymentIntent, error) {
	params, err := c.checkoutSessionParams(req)
	if err != nil {
		return nil, err
	}
	params.Context = ctx

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("create checkout session: missing session ID in response")
	}

	c.logger.Info("checkout session created",
		zap.String("stripe_session_id", sess.ID),
		zap.String("order_id", req.OrderID),
		zap.String("mode", string(sess.Mode)))

	return &models.PaymentIntent{
		SessionID:   sess.ID,
		RedirectURL: sess.URL,
		Provider:    ProviderName,
	}, nil
}

func (c *Client) checkoutSessionParams(req models.PaymentIntentRequest) (*stripego.CheckoutSessionParams, error) {
	if req.Order == nil {
		return nil, errors.New("stripe: order is required")
	}

	params := &stripego.CheckoutSessionParams{
		SuccessURL:        stripego.String(c.successURL),
		CancelURL:         stripego.String(c.cancelURL),
		ClientReferenceID: stripego.String(req.SessionID),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripego.String(req.CustomerEmail)
	}
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("checkout_session_id", req.SessionID)
	params.AddMetadata("payment_method", string(req.PaymentMethod))

	name := "Class enrollment"
	if req.Class != nil && req.Class.Name != "" {
		name = req.Class.Name
	}

	switch req.PaymentMethod {
	case models.PaymentFull:
		params.Mode = stripego.String(string(stripego.CheckoutSessionModePayment))
		params.LineItems = c.lineItems(req.Order, name)
		if len(params.LineItems) == 0 {
			return nil, errors.New("stripe: order total must be positive")
		}

	case models.PaymentInstallments:
		if req.InstallmentCount <= 0 {
			return nil, errors.New("stripe: installment count is required")
		}
		perMonth := pricing.Round2(req.Order.Total / float64(req.InstallmentCount))
		count := strconv.Itoa(req.InstallmentCount)
		params.Mode = stripego.String(string(stripego.CheckoutSessionModeSubscription))
		params.LineItems = []*stripego.CheckoutSessionLineItemParams{
			c.recurringItem(fmt.Sprintf("%s (%d monthly installments)", name, req.InstallmentCount), perMonth),
		}
		params.AddMetadata(metaInstallmentCount, count)
		params.SubscriptionData = subscriptionData(req, metaInstallmentCount, count)

	case models.PaymentSubscribe:
		params.Mode = stripego.String(string(stripego.CheckoutSessionModeSubscription))
		params.LineItems = []*stripego.CheckoutSessionLineItemParams{
			c.recurringItem(name+" membership", req.Order.Total),
		}
		params.SubscriptionData = subscriptionData(req, "", "")
		if req.Class != nil && req.Class.EndDate != nil && !req.Class.EndDate.IsZero() {
			end := req.Class.EndDate.Format(cancelDateLayout)
			params.AddMetadata(metaCancelAt, end)
			params.SubscriptionData.Metadata[metaCancelAt] = end
		}

	default:
		return nil, fmt.Errorf("stripe: unsupported payment method %q", req.PaymentMethod)
	}

	return params, nil
}

func subscriptionData(req models.PaymentIntentRequest, key, value string) *stripego.CheckoutSessionSubscriptionDataParams {
	meta := map[string]string{
		"order_id":            req.OrderID,
		"checkout_session_id": req.SessionID,
	}
	if key != "" {
		meta[key] = value
	}
	return &stripego.CheckoutSessionSubscriptionDataParams{Metadata: meta}
}

// ScheduleCancellation sets cancel_at on the subscription started by a
// completed checkout. Installment plans end after their last monthly payment
// and class-bound memberships end the day after the class does. It returns
// the zero time when the checkout has nothing to end.
func (c *Client) ScheduleCancellation(ctx context.Context, completed *CompletedCheckout) (time.Time, error) {
	if completed == nil || completed.SubscriptionID == "" {
		return time.Time{}, nil
	}

	var cancelAt time.Time
	switch {
	case completed.InstallmentCount > 0:
		sub, err := c.api.Subscriptions.Get(completed.SubscriptionID, &stripego.SubscriptionParams{
			Params: stripego.Params{Context: ctx},
		})
		if err != nil {
			return time.Time{}, fmt.Errorf("get subscription %s: %w", completed.SubscriptionID, err)
		}
		start := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		if sub.CurrentPeriodStart == 0 {
			start = c.now().UTC()
		}
		cancelAt = start.AddDate(0, completed.InstallmentCount, 0)

	case completed.CancelAt != "":
		end, err := time.Parse(cancelDateLayout, completed.CancelAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cancel date %q: %w", completed.CancelAt, err)
		}
		cancelAt = end.AddDate(0, 0, 1)

	default:
		return time.Time{}, nil
	}

	params := &stripego.SubscriptionParams{
		Params:            stripego.Params{Context: ctx},
		ProrationBehavior: stripego.String("none"),
	}
	if cancelAt.After(c.now()) {
		params.CancelAt = stripego.Int64(cancelAt.Unix())
	} else {
		params.CancelAtPeriodEnd = stripego.Bool(true)
	}
	if _, err := c.api.Subscriptions.Update(completed.SubscriptionID, params); err != nil {
		return time.Time{}, fmt.Errorf("schedule cancellation of %s: %w", completed.SubscriptionID, err)
	}

	c.logger.Info("subscription cancellation scheduled",
		zap.String("subscription_id", completed.SubscriptionID),
		zap.String("checkout_session_id", completed.CheckoutSessionID),
		zap.Time("cancel_at", cancelAt))
	return cancelAt, nil
}

// lineItems charges the authoritative line items when present, otherwise the order total.
func (c *Client) lineItems(order *models.Order, name string) []*stripego.CheckoutSessionLineItemParams {
	var items []*stripego.CheckoutSessionLineItemParams
	var itemized float64
	for _, li := range order.LineItems {
		if li.LineTotal <= 0 {
			continue
		}
		itemized += li.LineTotal
		items = append(items, c.oneTimeItem(li.Description, li.LineTotal))
	}
	if len(items) > 0 && Cents(itemized) == Cents(order.Total) {
		return items
	}
	if order.Total <= 0 {
		return nil
	}
	return []*stripego.CheckoutSessionLineItemParams{c.oneTimeItem(name, order.Total)}
}

func (c *Client) oneTimeItem(name string, amount float64) *stripego.CheckoutSessionLineItemParams {
	return &stripego.CheckoutSessionLineItemParams{
		Quantity: stripego.Int64(1),
		PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripego.String(c.currency),
			UnitAmount: stripego.Int64(Cents(amount)),
			ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripego.String(name),
			},
		},
	}
}

func (c *Client) recurringItem(name string, monthly float64) *stripego.CheckoutSessionLineItemParams {
	item := c.oneTimeItem(name, monthly)
	item.PriceData.Recurring = &stripego.CheckoutSessionLineItemPriceDataRecurringParams{
		Interval: stripego.String(string(stripego.PriceRecurringIntervalMonth)),
	}
	return item
}

// Cents converts dollars to the smallest currency unit, rounding half away from zero.
func Cents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}
