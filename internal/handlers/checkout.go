package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/checkout"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/eligibility"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/middleware"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/paymentmethod"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/platform"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/summary"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/waiver"
)

const maxBodyBytes = 1 << 16

// CheckoutService is the checkout workflow the handlers drive.
type CheckoutService interface {
	Start(ctx context.Context, parent models.Parent, classID string) (*models.CheckoutSession, error)
	Get(ctx context.Context, parent models.Parent, id string) (*models.CheckoutSession, error)
	Retry(ctx context.Context, parent models.Parent, id string) (*models.CheckoutSession, error)
	Eligibility(ctx context.Context, parent models.Parent, id string) ([]eligibility.ChildResult, error)
	SelectChildren(ctx context.Context, parent models.Parent, id string, childIDs []string) (*models.CheckoutSession, error)
	SignWaivers(ctx context.Context, parent models.Parent, id string, sub waiver.Submission) (*models.CheckoutSession, error)
	PaymentOptions(ctx context.Context, parent models.Parent, id string) ([]paymentmethod.Option, error)
	SelectPaymentMethod(ctx context.Context, parent models.Parent, id string, method models.PaymentMethod) (*models.CheckoutSession, error)
	InstallmentPlans(ctx context.Context, parent models.Parent, id string) ([]models.InstallmentPlan, error)
	SelectInstallmentPlan(ctx context.Context, parent models.Parent, id string, count int) (*models.CheckoutSession, error)
	ApplyDiscount(ctx context.Context, parent models.Parent, id, code string) (*models.CheckoutSession, error)
	RemoveDiscount(ctx context.Context, parent models.Parent, id string) (*models.CheckoutSession, error)
	SelectOptionalFees(ctx context.Context, parent models.Parent, id, childID string, feeIDs []string) (*models.CheckoutSession, error)
	Review(ctx context.Context, parent models.Parent, id string) (*models.CheckoutSession, error)
	Redirect(ctx context.Context, parent models.Parent, id string) (string, *models.CheckoutSession, error)
	JoinWaitlist(ctx context.Context, parent models.Parent, id, childID string) (*models.CheckoutSession, error)
	Summary(ctx context.Context, parent models.Parent, id string) (summary.Summary, error)
}

// CheckoutHandler exposes the checkout workflow to the parent web app.
type CheckoutHandler struct {
	Checkout CheckoutService
	Logger   *zap.Logger
}

func NewCheckoutHandler(svc CheckoutService, logger *zap.Logger) *CheckoutHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutHandler{Checkout: svc, Logger: logger.Named("checkout_api")}
}

// RegisterRoutes registers the checkout routes. The router must already carry
// the parent auth middleware.
func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Post("/sessions", h.StartSession())
	router.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.GetSession())
		r.Post("/retry", h.Retry())
		r.Get("/eligibility", h.Eligibility())
		r.Post("/children", h.SelectChildren())
		r.Post("/waivers/sign", h.SignWaivers())
		r.Get("/payment-methods", h.PaymentOptions())
		r.Post("/payment-method", h.SelectPaymentMethod())
		r.Get("/installment-plans", h.InstallmentPlans())
		r.Post("/installment-plan", h.SelectInstallmentPlan())
		r.Post("/discount", h.ApplyDiscount())
		r.Delete("/discount", h.RemoveDiscount())
		r.Post("/fees", h.SelectOptionalFees())
		r.Post("/review", h.Review())
		r.Post("/redirect", h.Redirect())
		r.Post("/waitlist", h.JoinWaitlist())
		r.Get("/summary", h.Summary())
	})
}

// sessionCall is the shape shared by most routes: act on the session in the
// URL and return the updated session.
type sessionCall func(ctx context.Context, parent models.Parent, id string, r *http.Request) (*models.CheckoutSession, error)

func (h *CheckoutHandler) sessionRoute(call sessionCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, parent, ok := h.parent(w, r)
		if !ok {
			return
		}
		sess, err := call(ctx, parent, chi.URLParam(r, "id"), r)
		h.respondSession(w, sess, err)
	}
}

type startRequest struct {
	ClassID string `json:"class_id"`
}

// StartSession opens a checkout for the class in the request body.
func (h *CheckoutHandler) StartSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, parent, ok := h.parent(w, r)
		if !ok {
			return
		}
		var req startRequest
		if !decodeBody(w, r, &req) {
			return
		}

		sess, err := h.Checkout.Start(ctx, parent, req.ClassID)
		if err != nil {
			h.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session": sess})
	}
}

func (h *CheckoutHandler) GetSession() http.HandlerFunc {
	return h.sessionRoute(func(ctx context.Context, parent models.Parent, id string, _ *http.Request) (*models.CheckoutSession, error) {
		return h.Checkout.Get(ctx, parent, id)
	})
}

func (h *CheckoutHandler) Retry() http.HandlerFunc {
	return h.sessionRoute(func(ctx context.Context, parent models.Parent, id string, _ *http.Request) (*models.CheckoutSession, error) {
		return h.Checkout.Retry(ctx, parent, id)
	})
}

func (h *CheckoutHandler) Eligibility() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, parent, ok := h.parent(w, r)
		if !ok {
			return
		}
		children, err := h.Checkout.Eligibility(ctx, parent, chi.URLParam(r, "id"))
		if err != nil {
			h.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"children": children})
	}
}

type selectChildrenRequest struct {
	ChildIDs []string `json:"child_ids"`
}

func (h *CheckoutHandler) SelectChildren() http.HandlerFunc {
	return h.sessionRoute(func(ctx context.Context, parent models.Parent, id string, r *http.Request) (*models.CheckoutSession, error) {
		var req selectChildrenRequest
		if err := readBody(r, &req); err != nil {
			return nil, err
		}
		return h.Checkout.SelectChildren(ctx, parent, id, req.ChildIDs)
	})
}

func (h *CheckoutHandler) SignWaivers() http.HandlerFunc {
	return h.sessionRoute(func(ctx context.Context, parent models.Parent, id string, r *http.Request) (*models.CheckoutSession, error) {
		var sub waiver.Submission
		if err := readBody(r, &sub); err != nil {
			return nil, err
		}
		return h.Checkout.SignWaivers(ctx, parent, id, sub)
	})
}

func (h *CheckoutHandler) PaymentOptions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, parent, ok := h.parent(w, r)
		if !ok {
			return
		}
		options, err := h.Checkout.PaymentOptions(ctx, parent, chi.URLParam(r, "id"))
		if err != nil {
			h.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payment_methods": options})
	}
}

type paymentMethodRequest struct {
	Method models.PaymentMethod `json:"method"`
}

func (h *CheckoutHandler) SelectPaymentMethod() http.HandlerFunc {
	return h.sessionRoute(func(ctx context.Context, parent models.Parent, id string, r *http.Request) (*models.CheckoutSession, error) {
		var req paymentMethodRequest
		if err := readBody(r, &req); err != nil {
			return nil, err
		}
		return h.Checkout.SelectPaymentMethod(ctx, parent, id, req.Method)
	})
}

func (h *CheckoutHandler) InstallmentPlans() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, parent, ok := h.parent(w, r)
		if !ok {
			return
		}
		plans, err := h.Checkout.InstallmentPlans(ctx, parent, chi.URLParam(r, "id"))
		if err != nil {
			h.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
	}
}

type installmentPlanRequest struct {
	Count int `json:"count"`
}

func (h *CheckoutHandler) SelectInstallmentPlan() http.HandlerFunc {
	return h.sessionRoute(func(ctx context.Context, parent models.Parent, id string, r *http.Request) (*models.CheckoutSession, error) {
		var req installmentPlanRequest
		if err := readBody(r, &req); err != nil {
			return nil, err
		}
		return h.Checkout.SelectInstallmentPlan(ctx, parent, id, req.Count)
	})
}

type discountRequest struct {
	Code string `json:"code"`
}

func (h *CheckoutHandler) ApplyDiscount() http.HandlerFunc {
	return h.sessionRoute(func(ctx context.Context, parent models.Parent, id string, r *http.Request) (*models.CheckoutSession, error) {
		var req discountRequest
		if err := readBody(r, &req); err != nil {
			return nil, err
		}
		return h.Checkout.ApplyDiscount(ctx, parent, id, req.Code)
	})
}

func (h *CheckoutHandler) RemoveDiscount() http.HandlerFunc {
	return h.sessionRoute(func(ctx context.Context, parent models.Parent, id string, _ *http.Request) (*models.CheckoutSession, error) {
		return h.Checkout.RemoveDiscount(ctx, parent, id)
	})
}

type optionalFeesRequest struct {
	ChildID string   `json:"child_id"`
	FeeIDs  []string `json:"fee_ids"`
}

func (h *CheckoutHandler) SelectOptionalFees() http.HandlerFunc {
	return h.sessionRoute(func(ctx context.Context, parent models.Parent, id string, r *http.Request) (*models.CheckoutSession, error) {
		var req optionalFeesRequest
		if err := readBody(r, &req); err != nil {
			return nil, err
		}
		return h.Checkout.SelectOptionalFees(ctx, parent, id, req.ChildID, req.FeeIDs)
	})
}

func (h *CheckoutHandler) Review() http.HandlerFunc {
	return h.sessionRoute(func(ctx context.Context, parent models.Parent, id string, _ *http.Request) (*models.CheckoutSession, error) {
		return h.Checkout.Review(ctx, parent, id)
	})
}

// Redirect returns the hosted payment URL. The browser navigates there itself.
func (h *CheckoutHandler) Redirect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, parent, ok := h.parent(w, r)
		if !ok {
			return
		}
		url, sess, err := h.Checkout.Redirect(ctx, parent, chi.URLParam(r, "id"))
		if err != nil {
			h.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url, "session": sess})
	}
}

type waitlistRequest struct {
	ChildID string `json:"child_id"`
}

func (h *CheckoutHandler) JoinWaitlist() http.HandlerFunc {
	return h.sessionRoute(func(ctx context.Context, parent models.Parent, id string, r *http.Request) (*models.CheckoutSession, error) {
		var req waitlistRequest
		if err := readBody(r, &req); err != nil {
			return nil, err
		}
		return h.Checkout.JoinWaitlist(ctx, parent, id, req.ChildID)
	})
}

func (h *CheckoutHandler) Summary() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, parent, ok := h.parent(w, r)
		if !ok {
			return
		}
		sum, err := h.Checkout.Summary(ctx, parent, chi.URLParam(r, "id"))
		if err != nil {
			h.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"summary": sum})
	}
}

// parent reads the authenticated parent and attaches its token for platform calls.
func (h *CheckoutHandler) parent(w http.ResponseWriter, r *http.Request) (context.Context, models.Parent, bool) {
	parent, ok := middleware.ParentFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return nil, models.Parent{}, false
	}
	return platform.WithToken(r.Context(), parent.Token), parent, true
}

// respondSession writes the session. A step error is reported alongside the
// session, since the session records where the failure happened.
func (h *CheckoutHandler) respondSession(w http.ResponseWriter, sess *models.CheckoutSession, err error) {
	var stepErr *checkout.StepError
	if errors.As(err, &stepErr) && sess != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": stepErr.Message, "session": sess})
		return
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

var errBadBody = errors.New("invalid request body")

func (h *CheckoutHandler) respondError(w http.ResponseWriter, err error) {
	var (
		redirect *checkout.RedirectError
		invalid  *checkout.ValidationError
		stepErr  *checkout.StepError
	)
	switch {
	case errors.As(err, &redirect):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": redirect.Reason, "redirect": redirect.Location})
	case errors.Is(err, errBadBody):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": invalid.Message, "field": invalid.Field})
	case errors.Is(err, checkout.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "checkout session not found"})
	case errors.Is(err, checkout.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, checkout.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &stepErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": stepErr.Message})
	default:
		h.Logger.Error("checkout request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// readBody decodes an optional JSON body; an empty body leaves v untouched.
func readBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errBadBody
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := readBody(r, v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
