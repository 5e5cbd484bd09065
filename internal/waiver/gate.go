// Package waiver blocks checkout until every pending waiver for the selected
// children is accepted and signed.
package waiver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

var (
	ErrTermsNotAccepted  = errors.New("Please accept all waiver terms")
	ErrSignatureRequired = errors.New("Please provide your signature")
)

// Service is the waivers collaborator.
type Service interface {
	ListPendingWaivers(ctx context.Context, childID, classID string) ([]models.WaiverRequirement, error)
	SignWaivers(ctx context.Context, req models.SignWaiversRequest) (*models.SignWaiversResult, error)
}

// PartialFailureError is returned when the batch sign reports failures.
type PartialFailureError struct {
	Signed int
	Failed int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("Failed to sign %d waiver(s)", e.Failed)
}

// Submission is the parent's answer to the gate: one checkbox per template and
// a shared full legal name signature.
type Submission struct {
	Accepted   map[string]bool `json:"accepted"`
	Signature  string          `json:"signature"`
	SignerName string          `json:"signer_name,omitempty"`
}

// Gate holds the pending requirements for a class and a set of children.
// OnSigned runs at most once, when nothing is left to sign.
type Gate struct {
	svc      Service
	classID  string
	childIDs []string
	pending  []models.WaiverRequirement
	onSigned func()
	once     sync.Once
}

func NewGate(svc Service, classID string, childIDs []string, onSigned func()) *Gate {
	return &Gate{svc: svc, classID: classID, childIDs: childIDs, onSigned: onSigned}
}

// WithPending injects already known requirements instead of fetching them.
func (g *Gate) WithPending(pending []models.WaiverRequirement) *Gate {
	g.pending = pending
	return g
}

func (g *Gate) Pending() []models.WaiverRequirement {
	return g.pending
}

// Load fetches pending waivers for every child, merged by template. With
// nothing pending the gate resolves immediately.
func (g *Gate) Load(ctx context.Context) ([]models.WaiverRequirement, error) {
	seen := make(map[string]bool)
	var pending []models.WaiverRequirement
	for _, childID := range g.childIDs {
		reqs, err := g.svc.ListPendingWaivers(ctx, childID, g.classID)
		if err != nil {
			return nil, err
		}
		for _, r := range reqs {
			if !r.Pending() || seen[r.TemplateID] {
				continue
			}
			seen[r.TemplateID] = true
			if r.ChildID == "" {
				r.ChildID = childID
			}
			pending = append(pending, r)
		}
	}

	g.pending = pending
	if len(pending) == 0 {
		g.resolve()
	}
	return pending, nil
}

// Submit validates the submission locally and signs every requirement in one
// batch. Validation failures never reach the waivers collaborator.
func (g *Gate) Submit(ctx context.Context, sub Submission) error {
	if len(g.pending) == 0 {
		g.resolve()
		return nil
	}

	for _, r := range g.pending {
		if !sub.Accepted[r.TemplateID] {
			return ErrTermsNotAccepted
		}
	}
	signature := strings.TrimSpace(sub.Signature)
	if signature == "" {
		return ErrSignatureRequired
	}
	signer := strings.TrimSpace(sub.SignerName)
	if signer == "" {
		signer = signature
	}

	req := models.SignWaiversRequest{
		SignerName: signer,
		ClassID:    g.classID,
		ChildIDs:   g.childIDs,
		Waivers:    make([]models.WaiverSignature, 0, len(g.pending)),
	}
	for _, r := range g.pending {
		req.Waivers = append(req.Waivers, models.WaiverSignature{
			TemplateID: r.TemplateID,
			Signature:  signature,
			Agreed:     true,
		})
	}

	res, err := g.svc.SignWaivers(ctx, req)
	if err != nil {
		return err
	}
	if res.FailedCount > 0 {
		return &PartialFailureError{Signed: res.SignedCount, Failed: res.FailedCount}
	}

	g.resolve()
	return nil
}

func (g *Gate) resolve() {
	g.once.Do(func() {
		if g.onSigned != nil {
			g.onSigned()
		}
	})
}
