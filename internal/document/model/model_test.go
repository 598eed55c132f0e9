package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionStatus(t *testing.T) {
	assert.Equal(t, StatusVerified, DecisionVerified.Status())
	assert.Equal(t, StatusRejected, DecisionRejected.Status())

	_, err := ParseDecision("maybe")
	assert.ErrorIs(t, err, ErrInvalidInput)

	d, err := ParseDecision("rejected")
	require.NoError(t, err)
	assert.Equal(t, DecisionRejected, d)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusVerified.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.Panics(t, func() { Status("archived").Terminal() })
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, ParseRole("admin"))
	assert.Equal(t, RoleVerifier, ParseRole("verifier"))
	assert.Equal(t, RoleUser, ParseRole(""))
	assert.Equal(t, RoleUser, ParseRole("root"))
	assert.True(t, RoleAdmin.CanResolve())
	assert.False(t, RoleUser.CanResolve())
}

func TestCheckResolution(t *testing.T) {
	now := time.Now()
	ok := []*Document{
		{ID: "a", Status: StatusPending},
		{ID: "b", Status: StatusVerified, VerifiedBy: "v1", VerificationTimestamp: &now},
		{ID: "c", Status: StatusRejected, VerifiedBy: "v1", VerificationTimestamp: &now, RejectionReason: "forged"},
	}
	for _, d := range ok {
		assert.NoError(t, d.CheckResolution(), d.ID)
	}

	bad := []*Document{
		{ID: "d", Status: StatusPending, VerifiedBy: "v1"},
		{ID: "e", Status: StatusVerified, VerifiedBy: "v1"},
		{ID: "f", Status: StatusVerified, VerifiedBy: "v1", VerificationTimestamp: &now, RejectionReason: "x"},
	}
	for _, d := range bad {
		assert.Error(t, d.CheckResolution(), d.ID)
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	d := &Document{ID: "a", Tags: []string{"edu"}, VerificationTimestamp: &now}
	c := d.Clone()
	c.Tags[0] = "changed"
	*c.VerificationTimestamp = now.Add(time.Hour)
	assert.Equal(t, "edu", d.Tags[0])
	assert.Equal(t, now, *d.VerificationTimestamp)
}

func TestNewLedger(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	steps := NewLedger("doc", at)
	require.Len(t, steps, 4)
	assert.True(t, steps[0].Completed)
	assert.Equal(t, at, *steps[0].CompletedAt)
	for i, s := range steps[1:] {
		assert.False(t, s.Completed, "step %d", i+2)
		assert.Nil(t, s.CompletedAt)
	}
	assert.Equal(t, StepSequence[3], steps[3].Name)
	assert.Equal(t, "Final Approval", steps[3].Label)
}

func TestCompleteStepOutOfOrder(t *testing.T) {
	steps := NewLedger("doc", time.Now())
	_, err := CompleteStep(steps, 2, time.Now())

	var ooe *OutOfOrderError
	require.True(t, errors.As(err, &ooe))
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, StepAuthorityVerified, ooe.Step)
	assert.Equal(t, StepChainValidated, ooe.Blocking)
	assert.False(t, steps[2].Completed)
}

func TestAdvanceAllStrictlyIncreasing(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	steps := NewLedger("doc", at)

	// Same instant as creation forces the microsecond bump on every step.
	changed, err := AdvanceAll(steps, at)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, changed)
	assert.True(t, LedgerComplete(steps))
	for i := 1; i < len(steps); i++ {
		assert.True(t, steps[i].CompletedAt.After(*steps[i-1].CompletedAt), "step %d", i)
	}
	assert.NoError(t, CheckOrder(steps))

	changed, err = AdvanceAll(steps, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestStepPosition(t *testing.T) {
	p, err := StepFinalApproval.Position()
	require.NoError(t, err)
	assert.Equal(t, 4, p)

	_, err = StepName("Notarized").Position()
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStatusCounts(t *testing.T) {
	var c StatusCounts
	c.Add(StatusPending, 2)
	c.Add(StatusVerified, 1)
	c.Add(StatusRejected, 3)
	assert.Equal(t, StatusCounts{Pending: 2, Verified: 1, Rejected: 3, Total: 6}, c)
}

func TestDuplicateFingerprintError(t *testing.T) {
	err := error(&DuplicateFingerprintError{Fingerprint: "ab", ExistingID: "doc-1"})
	assert.ErrorIs(t, err, ErrDuplicateFingerprint)
	assert.Contains(t, err.Error(), "doc-1")
}

func TestVisibleTo(t *testing.T) {
	d := &Document{ID: "a", OwnerID: "u1"}
	assert.True(t, d.VisibleTo("u1", RoleUser))
	assert.False(t, d.VisibleTo("u2", RoleUser))
	assert.True(t, d.VisibleTo("v1", RoleVerifier))
	assert.True(t, d.VisibleTo("a1", RoleAdmin))
}
