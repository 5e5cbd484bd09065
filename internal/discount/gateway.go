// Package discount applies and removes promo codes against an order.
package discount

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

var (
	ErrCodeRequired  = errors.New("Please enter a discount code")
	ErrAdminApplied  = errors.New("A discount has already been applied to this order by staff")
	ErrNoOrder       = errors.New("order has not been created yet")
	ErrNotDiscounted = errors.New("no discount code is applied to this order")
)

// Service is the order-service side of promo codes.
type Service interface {
	ApplyDiscount(ctx context.Context, orderID, code string) (*models.Order, error)
	RemoveDiscount(ctx context.Context, orderID string) (*models.Order, error)
}

// Normalize trims and upper-cases a code.
func Normalize(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", ErrCodeRequired
	}
	return code, nil
}

// Locked reports whether code entry is blocked by a staff-applied discount.
func Locked(order *models.Order) bool {
	return order != nil && order.Discount != nil && order.Discount.AdminApplied
}

type Gateway struct {
	svc    Service
	logger *zap.Logger
}

func NewGateway(svc Service, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{svc: svc, logger: logger.Named("discount")}
}

// Apply applies the normalized code to the order and returns the updated order.
func (g *Gateway) Apply(ctx context.Context, order *models.Order, code string) (*models.Order, error) {
	normalized, err := Normalize(code)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNoOrder
	}
	if Locked(order) {
		return nil, ErrAdminApplied
	}

	updated, err := g.svc.ApplyDiscount(ctx, order.ID, normalized)
	if err != nil {
		g.logger.Info("discount rejected", zap.String("order_id", order.ID), zap.String("code", normalized), zap.Error(err))
		return nil, err
	}
	g.logger.Info("discount applied", zap.String("order_id", order.ID), zap.String("code", normalized))
	return updated, nil
}

// Remove drops the promo code from the order. Staff-applied discounts cannot be removed.
func (g *Gateway) Remove(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order == nil {
		return nil, ErrNoOrder
	}
	if Locked(order) {
		return nil, ErrAdminApplied
	}
	if order.Discount == nil {
		return nil, ErrNotDiscounted
	}

	updated, err := g.svc.RemoveDiscount(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	g.logger.Info("discount removed", zap.String("order_id", order.ID))
	return updated, nil
}
