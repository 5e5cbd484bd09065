package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BillingModel is how a class is charged.
type BillingModel string

const (
	BillingOneTime      BillingModel = "one_time"
	BillingInstallments BillingModel = "installments_enabled"
	BillingMonthly      BillingModel = "monthly"
	BillingMembership   BillingModel = "membership"
	BillingSubscription BillingModel = "subscription"
)

const classTypeMembership = "membership"

// ClassOffering is a class or program parents can enroll children in. It is
// fetched once per checkout session and only refetched on explicit retry.
type ClassOffering struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	BillingModel        BillingModel    `json:"billing_model"`
	ClassType           string          `json:"class_type,omitempty"`
	BasePrice           float64         `json:"base_price"`
	MembershipPrice     *float64        `json:"membership_price,omitempty"`
	RegistrationFee     float64         `json:"registration_fee,omitempty"`
	Capacity            int             `json:"capacity"`
	CurrentEnrollment   int             `json:"current_enrollment"`
	MinAge              *int            `json:"min_age,omitempty"`
	MaxAge              *int            `json:"max_age,omitempty"`
	StartDate           *Date           `json:"start_date,omitempty"`
	EndDate             *Date           `json:"end_date,omitempty"`
	Schedule            []ScheduleEntry `json:"schedule,omitempty"`
	InstallmentsEnabled bool            `json:"installments_enabled"`
	CustomFees          []CustomFee     `json:"custom_fees,omitempty"`
}

// ScheduleEntry is one weekly meeting of a class.
type ScheduleEntry struct {
	DayOfWeek string `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// CustomFee is an extra class fee. Required fees are charged per child;
// optional fees only for the children they were selected for.
type CustomFee struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Amount      float64 `json:"amount"`
	Required    bool    `json:"is_required"`
	Description string  `json:"description,omitempty"`
}

// IsSubscription reports whether the class is billed as a recurring membership.
func (c ClassOffering) IsSubscription() bool {
	switch BillingModel(strings.ToLower(string(c.BillingModel))) {
	case BillingMonthly, BillingMembership, BillingSubscription:
		return true
	}
	if c.MembershipPrice != nil {
		return true
	}
	return strings.EqualFold(c.ClassType, classTypeMembership)
}

// InstallmentsAllowed reports whether an installment plan can be offered.
// Subscription classes never offer installments.
func (c ClassOffering) InstallmentsAllowed() bool {
	if c.IsSubscription() {
		return false
	}
	return c.InstallmentsEnabled || c.BillingModel == BillingInstallments
}

// UnitPrice is the per-child price before sibling discounts.
func (c ClassOffering) UnitPrice() float64 {
	if c.IsSubscription() && c.MembershipPrice != nil {
		return *c.MembershipPrice
	}
	return c.BasePrice
}

// FindFee returns the custom fee with the given id.
func (c ClassOffering) FindFee(id string) (CustomFee, bool) {
	for _, fee := range c.CustomFees {
		if fee.ID == id {
			return fee, true
		}
	}
	return CustomFee{}, false
}

// Capacity is the enrollment headroom reported by GET /classes/:id/capacity.
type Capacity struct {
	ClassID           string `json:"class_id,omitempty"`
	Capacity          int    `json:"capacity"`
	CurrentEnrollment int    `json:"current_enrollment"`
	AvailableSpots    *int   `json:"available_spots,omitempty"`
}

// SpotsLeft prefers the reported availability and otherwise derives it.
func (c Capacity) SpotsLeft() int {
	if c.AvailableSpots != nil {
		return *c.AvailableSpots
	}
	return c.Capacity - c.CurrentEnrollment
}

const dateLayout = "2006-01-02"

// Date is a calendar date that accepts both "2006-01-02" and RFC 3339 input.
type Date struct {
	time.Time
}

// NewDate returns the date at midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("date: unsupported format %q", raw)
	}
	d.Time = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return nil
}

// YearsAt returns the number of whole years elapsed between d and at.
func (d Date) YearsAt(at time.Time) int {
	years := at.Year() - d.Year()
	if at.Month() < d.Month() || (at.Month() == d.Month() && at.Day() < d.Day()) {
		years--
	}
	return years
}
