// Package platform is the REST client for the enrollment platform API
// (classes, children, waivers, orders, payments, waitlist).
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/config"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

const maxResponseBytes = 1 << 20

// Client wraps platform API calls over plain JSON/HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a platform client. The configured token is used only when
// the request context carries no parent token.
func NewClient(cfg config.Platform, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("platform"),
	}
}

type tokenKey struct{}

// WithToken returns a context whose platform calls authenticate with token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token set by WithToken.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// GetClass fetches class details.
func (c *Client) GetClass(ctx context.Context, classID string) (*models.ClassOffering, error) {
	var class models.ClassOffering
	if err := c.do(ctx, http.MethodGet, "/classes/"+url.PathEscape(classID), nil, &class); err != nil {
		return nil, fmt.Errorf("get class %s: %w", classID, err)
	}
	return &class, nil
}

// GetCapacity fetches the enrollment headroom of a class.
func (c *Client) GetCapacity(ctx context.Context, classID string) (*models.Capacity, error) {
	var capacity models.Capacity
	if err := c.do(ctx, http.MethodGet, "/classes/"+url.PathEscape(classID)+"/capacity", nil, &capacity); err != nil {
		return nil, fmt.Errorf("get capacity %s: %w", classID, err)
	}
	return &capacity, nil
}

// ListChildren returns the authenticated parent's children.
func (c *Client) ListChildren(ctx context.Context) ([]models.Child, error) {
	var children []models.Child
	if err := c.do(ctx, http.MethodGet, "/children", nil, &children); err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return children, nil
}

// JoinWaitlist adds a child to the class waitlist.
func (c *Client) JoinWaitlist(ctx context.Context, classID, childID string) error {
	body := map[string]string{"class_id": classID, "child_id": childID}
	if err := c.do(ctx, http.MethodPost, "/classes/"+url.PathEscape(classID)+"/waitlist", body, nil); err != nil {
		return fmt.Errorf("join waitlist %s: %w", classID, err)
	}
	return nil
}

// ListPendingWaivers returns the waivers a child still has to sign for a class.
func (c *Client) ListPendingWaivers(ctx context.Context, childID, classID string) ([]models.WaiverRequirement, error) {
	q := url.Values{}
	q.Set("child_id", childID)
	q.Set("class_id", classID)

	var waivers []models.WaiverRequirement
	if err := c.do(ctx, http.MethodGet, "/waivers/pending?"+q.Encode(), nil, &waivers); err != nil {
		return nil, fmt.Errorf("list pending waivers: %w", err)
	}
	return waivers, nil
}

// SignWaivers submits a batch of signatures.
func (c *Client) SignWaivers(ctx context.Context, req models.SignWaiversRequest) (*models.SignWaiversResult, error) {
	var result models.SignWaiversResult
	if err := c.do(ctx, http.MethodPost, "/waivers/sign-multiple", req, &result); err != nil {
		return nil, fmt.Errorf("sign waivers: %w", err)
	}
	return &result, nil
}

// CreateOrder creates an order from the checkout selections.
func (c *Client) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &order, nil
}

// ApplyDiscount applies a promo code to an existing order.
func (c *Client) ApplyDiscount(ctx context.Context, orderID, code string) (*models.Order, error) {
	var order models.Order
	body := map[string]string{"code": code}
	if err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/discount", body, &order); err != nil {
		return nil, fmt.Errorf("apply discount: %w", err)
	}
	return &order, nil
}

// RemoveDiscount removes the promo code from an existing order.
func (c *Client) RemoveDiscount(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID)+"/discount", nil, &order); err != nil {
		return nil, fmt.Errorf("remove discount: %w", err)
	}
	return &order, nil
}

// CreatePaymentIntent requests the hosted payment reference for an order.
func (c *Client) CreatePaymentIntent(ctx context.Context, req models.PaymentIntentRequest) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/payments/intent", req, &intent); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	if intent.Provider == "" {
		intent.Provider = config.ProviderPlatform
	}
	return &intent, nil
}

// HTTP helpers

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := firstNonEmpty(TokenFromContext(ctx), c.token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read platform response: %w", err)
	}

	c.logger.Debug("platform call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode >= 400 {
		return newAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrapData(raw), out); err != nil {
		return fmt.Errorf("parse platform response: %w", err)
	}
	return nil
}

// unwrapData strips a {"data": ...} envelope when present.
func unwrapData(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return raw
	}
	data, ok := envelope["data"]
	if _, hasID := envelope["id"]; !ok || hasID {
		return raw
	}
	return data
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
