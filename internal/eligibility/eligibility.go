// Package eligibility decides whether a child may be enrolled in a class.
package eligibility

import (
	"fmt"
	"time"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

// Reason identifies why a child is ineligible.
type Reason string

const (
	ReasonAlreadyEnrolled Reason = "already_enrolled"
	ReasonTooYoung        Reason = "too_young"
	ReasonTooOld          Reason = "too_old"
)

type Result struct {
	Eligible bool   `json:"eligible"`
	Reason   Reason `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ChildResult pairs a child with its evaluation, for the child selector.
type ChildResult struct {
	Child models.Child `json:"child"`
	Result
}

// Evaluate checks the child against the class at the given time. An active
// enrollment in the class blocks regardless of age; pending does not. Age
// checks are skipped when the date of birth or the bound is missing.
func Evaluate(child models.Child, class models.ClassOffering, now time.Time) Result {
	for _, e := range child.Enrollments {
		if e.ClassID == class.ID && e.IsActive() {
			return Result{Reason: ReasonAlreadyEnrolled, Message: "Already enrolled in this class"}
		}
	}

	if child.DateOfBirth == nil || child.DateOfBirth.IsZero() {
		return Result{Eligible: true}
	}

	age := child.DateOfBirth.YearsAt(now)
	if class.MinAge != nil && age < *class.MinAge {
		return Result{Reason: ReasonTooYoung, Message: fmt.Sprintf("Must be at least %d years old", *class.MinAge)}
	}
	if class.MaxAge != nil && age > *class.MaxAge {
		return Result{Reason: ReasonTooOld, Message: fmt.Sprintf("Must be %d years old or younger", *class.MaxAge)}
	}

	return Result{Eligible: true}
}

// EvaluateAll evaluates every child, preserving input order.
func EvaluateAll(children []models.Child, class models.ClassOffering, now time.Time) []ChildResult {
	out := make([]ChildResult, 0, len(children))
	for _, c := range children {
		out = append(out, ChildResult{Child: c, Result: Evaluate(c, class, now)})
	}
	return out
}
