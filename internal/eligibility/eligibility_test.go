package eligibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

var now = time.Date(2025, time.September, 1, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func childAged(years int) models.Child {
	dob := models.NewDate(now.Year()-years, time.January, 15)
	return models.Child{ID: "c1", FirstName: "Sam", DateOfBirth: &dob}
}

func TestEvaluateTooYoung(t *testing.T) {
	class := models.ClassOffering{ID: "k1", MinAge: intPtr(6), MaxAge: intPtr(10)}

	res := Evaluate(childAged(5), class, now)
	assert.False(t, res.Eligible)
	assert.Equal(t, ReasonTooYoung, res.Reason)
	assert.Contains(t, res.Message, "Must be at least 6 years old")
}

func TestEvaluateTooOld(t *testing.T) {
	class := models.ClassOffering{ID: "k1", MinAge: intPtr(6), MaxAge: intPtr(10)}

	res := Evaluate(childAged(11), class, now)
	assert.False(t, res.Eligible)
	assert.Equal(t, ReasonTooOld, res.Reason)
	assert.Contains(t, res.Message, "Must be 10 years old or younger")
}

func TestEvaluateBoundsInclusive(t *testing.T) {
	class := models.ClassOffering{ID: "k1", MinAge: intPtr(6), MaxAge: intPtr(10)}

	assert.True(t, Evaluate(childAged(6), class, now).Eligible)
	assert.True(t, Evaluate(childAged(10), class, now).Eligible)
}

func TestEvaluateActiveEnrollmentBlocksRegardlessOfAge(t *testing.T) {
	class := models.ClassOffering{ID: "k1", MinAge: intPtr(6), MaxAge: intPtr(10)}

	for _, status := range []string{"active", "ACTIVE", "Active"} {
		child := childAged(3)
		child.Enrollments = []models.Enrollment{{ClassID: "k1", Status: status}}

		res := Evaluate(child, class, now)
		require.False(t, res.Eligible, status)
		assert.Equal(t, ReasonAlreadyEnrolled, res.Reason)
		assert.Equal(t, "Already enrolled in this class", res.Message)
	}
}

func TestEvaluatePendingOrOtherClassDoesNotBlock(t *testing.T) {
	class := models.ClassOffering{ID: "k1"}
	child := childAged(8)
	child.Enrollments = []models.Enrollment{
		{ClassID: "k1", Status: "pending"},
		{ClassID: "other", Status: "active"},
	}

	assert.Equal(t, Result{Eligible: true}, Evaluate(child, class, now))
}

func TestEvaluateMissingDateOfBirthSkipsAgeChecks(t *testing.T) {
	class := models.ClassOffering{ID: "k1", MinAge: intPtr(6), MaxAge: intPtr(10)}
	child := models.Child{ID: "c2", FirstName: "Alex"}

	assert.True(t, Evaluate(child, class, now).Eligible)
}

func TestEvaluateNoBounds(t *testing.T) {
	assert.True(t, Evaluate(childAged(2), models.ClassOffering{ID: "k1"}, now).Eligible)
}

func TestEvaluateAllPreservesOrder(t *testing.T) {
	class := models.ClassOffering{ID: "k1", MinAge: intPtr(6)}
	young := childAged(4)
	young.ID = "young"
	older := childAged(8)
	older.ID = "older"

	results := EvaluateAll([]models.Child{young, older}, class, now)
	require.Len(t, results, 2)
	assert.Equal(t, "young", results[0].Child.ID)
	assert.False(t, results[0].Eligible)
	assert.True(t, results[1].Eligible)
}
