// Package checkout sequences an enrollment checkout: initial load, child
// selection, the waiver gate, payment method, discounts, order creation and
// the hand-off to the hosted payment page.
//
// Every operation runs against a persisted session under a per-session lock.
// Collaborator calls that can be superseded (waiver lookup, waiver signing,
// order creation, payment intent) run outside the lock; their results are
// applied only if the session's request generation has not moved on.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/checkouterr"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/discount"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/pricing"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/waiver"
)

// ClassService is the classes collaborator.
type ClassService interface {
	GetClass(ctx context.Context, classID string) (*models.ClassOffering, error)
	GetCapacity(ctx context.Context, classID string) (*models.Capacity, error)
	JoinWaitlist(ctx context.Context, classID, childID string) error
}

// ChildrenService lists the authenticated parent's children.
type ChildrenService interface {
	ListChildren(ctx context.Context) ([]models.Child, error)
}

// OrderService creates orders and manages their promo codes.
type OrderService interface {
	CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error)
	discount.Service
}

// PaymentProvider returns the hosted payment reference for an order.
type PaymentProvider interface {
	CreatePaymentIntent(ctx context.Context, req models.PaymentIntentRequest) (*models.PaymentIntent, error)
}

// SessionStore persists checkout sessions.
type SessionStore interface {
	Create(ctx context.Context, sess *models.CheckoutSession) error
	Get(ctx context.Context, id string) (*models.CheckoutSession, error)
	Update(ctx context.Context, sess *models.CheckoutSession) error
	GetByPaymentRef(ctx context.Context, ref string) (*models.CheckoutSession, error)
}

// Services are the collaborators the orchestrator talks to.
type Services struct {
	Classes  ClassService
	Children ChildrenService
	Waivers  waiver.Service
	Orders   OrderService
	Payments PaymentProvider
}

type Options struct {
	ProcessingFeePercent float64
	MultiChild           bool
	SessionTTL           time.Duration
	ClassListPath        string
	SiblingTiers         pricing.SiblingTiers
	// StaleLoadAfter is how long a session may sit in loading before Retry
	// treats the load as abandoned. Defaults to one minute.
	StaleLoadAfter time.Duration
	// Now is the clock used for eligibility and expiry. Defaults to time.Now.
	Now func() time.Time
}

type Orchestrator struct {
	svc      Services
	store    SessionStore
	opts     Options
	discount *discount.Gateway
	locks    *keyedMutex
	logger   *zap.Logger
}

func New(svc Services, store SessionStore, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 2 * time.Hour
	}
	if opts.ClassListPath == "" {
		opts.ClassListPath = "/classes"
	}
	if opts.SiblingTiers == nil {
		opts.SiblingTiers = pricing.DefaultSiblingTiers
	}
	if opts.StaleLoadAfter <= 0 {
		opts.StaleLoadAfter = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		svc:      svc,
		store:    store,
		opts:     opts,
		discount: discount.NewGateway(svc.Orders, logger),
		locks:    newKeyedMutex(),
		logger:   logger.Named("checkout"),
	}
}

// Start opens a checkout for a class and runs the initial load. Without a
// class id the caller is sent back to the class list.
func (o *Orchestrator) Start(ctx context.Context, parent models.Parent, classID string) (*models.CheckoutSession, error) {
	classID = strings.TrimSpace(classID)
	if classID == "" {
		return nil, &RedirectError{Location: o.opts.ClassListPath, Reason: "no class selected"}
	}

	now := o.opts.Now()
	sess := &models.CheckoutSession{
		ID:        uuid.NewString(),
		ParentID:  parent.ID,
		ClassID:   classID,
		Step:      models.StepLoading,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(o.opts.SessionTTL),
	}
	if err := o.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	o.logger.Info("checkout started",
		zap.String("session_id", sess.ID),
		zap.String("parent_id", parent.ID),
		zap.String("class_id", classID))

	return o.runInitialLoad(ctx, parent, sess.ID)
}

// Retry re-runs the full initial fetch after a load error, or after a load
// that stopped making progress without reaching a result.
func (o *Orchestrator) Retry(ctx context.Context, parent models.Parent, id string) (*models.CheckoutSession, error) {
	_, err := o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if s.Step != models.StepError && !o.abandonedLoad(s) {
			return invalidTransition(s.Step, "retry")
		}
		*s = models.CheckoutSession{
			ID:        s.ID,
			ParentID:  s.ParentID,
			ClassID:   s.ClassID,
			Step:      models.StepLoading,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o.runInitialLoad(ctx, parent, id)
}

func (o *Orchestrator) abandonedLoad(s *models.CheckoutSession) bool {
	return s.Step == models.StepLoading && o.opts.Now().Sub(s.UpdatedAt) > o.opts.StaleLoadAfter
}

// Get returns the session.
func (o *Orchestrator) Get(ctx context.Context, parent models.Parent, id string) (*models.CheckoutSession, error) {
	return o.view(ctx, parent, id)
}

type initialData struct {
	class    *models.ClassOffering
	children []models.Child
	capacity *models.Capacity
}

// fetchInitial loads class, children and capacity concurrently. The first
// failure in that order is reported.
func (o *Orchestrator) fetchInitial(ctx context.Context, classID string) (initialData, error) {
	var wg sync.WaitGroup
	var data initialData
	var classErr, childrenErr, capErr error
	wg.Add(3)
	go func() {
		defer wg.Done()
		data.class, classErr = o.svc.Classes.GetClass(ctx, classID)
	}()
	go func() {
		defer wg.Done()
		data.children, childrenErr = o.svc.Children.ListChildren(ctx)
	}()
	go func() {
		defer wg.Done()
		data.capacity, capErr = o.svc.Classes.GetCapacity(ctx, classID)
	}()
	wg.Wait()

	for _, err := range []error{classErr, childrenErr, capErr} {
		if err != nil {
			return initialData{}, err
		}
	}
	if data.class == nil {
		return initialData{}, fmt.Errorf("class %s not found", classID)
	}
	return data, nil
}

func (o *Orchestrator) runInitialLoad(ctx context.Context, parent models.Parent, id string) (*models.CheckoutSession, error) {
	sess, err := o.view(ctx, parent, id)
	if err != nil {
		return nil, err
	}

	data, loadErr := o.fetchInitial(ctx, sess.ClassID)

	return o.update(ctx, parent, id, func(s *models.CheckoutSession) error {
		if s.Step != models.StepLoading {
			return errSuperseded
		}
		if loadErr != nil {
			s.Step = models.StepError
			s.Error = checkouterr.Message(loadErr)
			o.logger.Warn("checkout load failed", zap.String("session_id", s.ID), zap.Error(loadErr))
			return nil
		}

		s.Class = data.class
		s.Children = data.children
		s.Capacity = data.capacity
		if s.Capacity == nil {
			s.Capacity = &models.Capacity{
				ClassID:           data.class.ID,
				Capacity:          data.class.Capacity,
				CurrentEnrollment: data.class.CurrentEnrollment,
			}
		}
		s.Error = ""
		s.Step = models.StepReady
		o.route(s)
		return nil
	})
}

// route leaves the ready state: a class without free spots goes to the waitlist.
func (o *Orchestrator) route(s *models.CheckoutSession) {
	if s.Capacity.SpotsLeft() <= 0 {
		s.Step = models.StepWaitlist
	} else {
		s.Step = models.StepSelectingChild
	}
	o.logger.Info("checkout ready",
		zap.String("session_id", s.ID),
		zap.String("step", string(s.Step)),
		zap.Int("spots_left", s.Capacity.SpotsLeft()))
}

// view loads the session under its lock without modifying it.
func (o *Orchestrator) view(ctx context.Context, parent models.Parent, id string) (*models.CheckoutSession, error) {
	unlock := o.locks.lock(id)
	defer unlock()
	return o.fetch(ctx, parent, id)
}

// update applies fn to the session under its lock and persists the result.
// Validation and transition errors leave the stored session untouched; a
// StepError is persisted together with the message fn recorded.
func (o *Orchestrator) update(ctx context.Context, parent models.Parent, id string, fn func(*models.CheckoutSession) error) (*models.CheckoutSession, error) {
	unlock := o.locks.lock(id)
	defer unlock()

	sess, err := o.fetch(ctx, parent, id)
	if err != nil {
		return nil, err
	}
	return o.apply(ctx, sess, fn)
}

func (o *Orchestrator) apply(ctx context.Context, sess *models.CheckoutSession, fn func(*models.CheckoutSession) error) (*models.CheckoutSession, error) {
	fnErr := fn(sess)
	if errors.Is(fnErr, errSuperseded) {
		o.logger.Info("discarding superseded result", zap.String("session_id", sess.ID), zap.String("step", string(sess.Step)))
		fresh, err := o.store.Get(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		return fresh, nil
	}
	var stepErr *StepError
	if fnErr != nil && !errors.As(fnErr, &stepErr) {
		return nil, fnErr
	}

	now := o.opts.Now()
	sess.UpdatedAt = now
	if sess.CompletedAt == nil {
		sess.ExpiresAt = now.Add(o.opts.SessionTTL)
	}
	if err := o.store.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("save checkout session: %w", err)
	}
	return sess, fnErr
}

func (o *Orchestrator) fetch(ctx context.Context, parent models.Parent, id string) (*models.CheckoutSession, error) {
	sess, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Expired(o.opts.Now()) {
		return nil, ErrSessionNotFound
	}
	if sess.ParentID != parent.ID {
		return nil, ErrForbidden
	}
	return sess, nil
}

func stepError(op string, err error) *StepError {
	return &StepError{Op: op, Message: checkouterr.Message(err), Err: err}
}
