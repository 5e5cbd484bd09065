package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIsSubscription(t *testing.T) {
	price := 80.0
	cases := []struct {
		name  string
		class ClassOffering
		want  bool
	}{
		{"one time", ClassOffering{BillingModel: BillingOneTime}, false},
		{"monthly", ClassOffering{BillingModel: BillingMonthly}, true},
		{"membership upper case", ClassOffering{BillingModel: "MEMBERSHIP"}, true},
		{"membership price", ClassOffering{MembershipPrice: &price}, true},
		{"class type", ClassOffering{ClassType: "Membership"}, true},
	}

	for _, tc := range cases {
		if got := tc.class.IsSubscription(); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}

func TestInstallmentsNeverAllowedForSubscriptions(t *testing.T) {
	class := ClassOffering{BillingModel: BillingMonthly, InstallmentsEnabled: true}
	if class.InstallmentsAllowed() {
		t.Fatal("expected installments disabled for subscription class")
	}

	class = ClassOffering{BillingModel: BillingInstallments}
	if !class.InstallmentsAllowed() {
		t.Fatal("expected installments allowed for installments_enabled billing model")
	}
}

func TestCapacitySpotsLeft(t *testing.T) {
	if got := (Capacity{Capacity: 10, CurrentEnrollment: 10}).SpotsLeft(); got != 0 {
		t.Fatalf("expected 0 spots, got %d", got)
	}
	available := 3
	if got := (Capacity{Capacity: 10, CurrentEnrollment: 10, AvailableSpots: &available}).SpotsLeft(); got != 3 {
		t.Fatalf("expected reported availability to win, got %d", got)
	}
}

func TestDateUnmarshal(t *testing.T) {
	var payload struct {
		A *Date `json:"a"`
		B *Date `json:"b"`
		C *Date `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"2015-06-30","b":"2015-06-30T14:00:00Z","c":null}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.A.Format(dateLayout) != "2015-06-30" || payload.B.Format(dateLayout) != "2015-06-30" {
		t.Fatalf("unexpected dates %v %v", payload.A, payload.B)
	}
	if payload.C != nil {
		t.Fatal("expected null date to stay nil")
	}
}

func TestDateYearsAt(t *testing.T) {
	dob := NewDate(2015, time.June, 30)
	if got := dob.YearsAt(time.Date(2025, time.June, 29, 12, 0, 0, 0, time.UTC)); got != 9 {
		t.Fatalf("expected 9 the day before the birthday, got %d", got)
	}
	if got := dob.YearsAt(time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC)); got != 10 {
		t.Fatalf("expected 10 on the birthday, got %d", got)
	}
}

func TestCheckoutSessionScanRoundTrip(t *testing.T) {
	in := CheckoutSession{ID: "s1", ParentID: "p1", Step: StepOrderReview, SelectedChildIDs: []string{"c1"}}
	value, err := in.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var out CheckoutSession
	if err := out.Scan(value); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out.Step != StepOrderReview || len(out.SelectedChildIDs) != 1 {
		t.Fatalf("unexpected session %+v", out)
	}

	if err := out.Scan(42); err == nil {
		t.Fatal("expected error scanning int")
	}
}
