package models

import "strings"

// Parent is the authenticated account holder driving a checkout.
type Parent struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	// Token is forwarded to the platform API on the parent's behalf.
	Token string `json:"-"`
}

type Child struct {
	ID          string       `json:"id"`
	FirstName   string       `json:"first_name"`
	LastName    string       `json:"last_name"`
	DateOfBirth *Date        `json:"date_of_birth,omitempty"`
	Enrollments []Enrollment `json:"enrollments,omitempty"`
}

// Name returns the child's display name.
func (c Child) Name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

type Enrollment struct {
	ID      string `json:"id,omitempty"`
	ClassID string `json:"class_id"`
	Status  string `json:"status"`
}

// IsActive reports whether the enrollment is active, regardless of case.
func (e Enrollment) IsActive() bool {
	return strings.EqualFold(strings.TrimSpace(e.Status), "active")
}
