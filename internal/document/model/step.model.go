package model

import (
	"fmt"
	"time"
)

// StepName identifies one of the fixed audit checkpoints.
type StepName string

const (
	StepFingerprintGenerated StepName = "FingerprintGenerated"
	StepChainValidated       StepName = "ChainValidated"
	StepAuthorityVerified    StepName = "AuthorityVerified"
	StepFinalApproval        StepName = "FinalApproval"
)

// StepSequence is the order in which steps must complete.
var StepSequence = []StepName{
	StepFingerprintGenerated,
	StepChainValidated,
	StepAuthorityVerified,
	StepFinalApproval,
}

// Position returns the 1-based position of the step in StepSequence.
func (n StepName) Position() (int, error) {
	for i, s := range StepSequence {
		if s == n {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown verification step %q", ErrInvalidInput, n)
}

// Label is the human readable name shown in the audit trail.
func (n StepName) Label() string {
	switch n {
	case StepFingerprintGenerated:
		return "Document Hash Generation"
	case StepChainValidated:
		return "Blockchain Validation"
	case StepAuthorityVerified:
		return "Authority Verification"
	case StepFinalApproval:
		return "Final Approval"
	default:
		panic(fmt.Sprintf("model: unhandled step %q", string(n)))
	}
}

type VerificationStep struct {
	DocumentID  string     `json:"document_id"`
	Name        StepName   `json:"name"`
	Label       string     `json:"label"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewLedger builds the initial step sequence for a freshly fingerprinted
// document: the first step is complete as of at, the rest are open.
func NewLedger(documentID string, at time.Time) []VerificationStep {
	steps := make([]VerificationStep, len(StepSequence))
	for i, name := range StepSequence {
		steps[i] = VerificationStep{DocumentID: documentID, Name: name, Label: name.Label()}
	}
	ts := at
	steps[0].Completed = true
	steps[0].CompletedAt = &ts
	return steps
}

// CloneSteps deep-copies a ledger.
func CloneSteps(steps []VerificationStep) []VerificationStep {
	out := make([]VerificationStep, len(steps))
	for i, s := range steps {
		out[i] = s
		if s.CompletedAt != nil {
			ts := *s.CompletedAt
			out[i].CompletedAt = &ts
		}
	}
	return out
}

// LedgerComplete reports whether every step is completed.
func LedgerComplete(steps []VerificationStep) bool {
	for _, s := range steps {
		if !s.Completed {
			return false
		}
	}
	return len(steps) == len(StepSequence)
}

// CompleteStep marks the step at index idx as completed at a timestamp
// strictly after the previous step's. It fails with ErrOutOfOrder when an
// earlier step is still open. Completing an already completed step is a no-op.
func CompleteStep(steps []VerificationStep, idx int, now time.Time) (bool, error) {
	if idx < 0 || idx >= len(steps) {
		return false, fmt.Errorf("%w: step index %d out of range", ErrInvalidInput, idx)
	}
	if steps[idx].Completed {
		return false, nil
	}
	if idx > 0 && !steps[idx-1].Completed {
		return false, &OutOfOrderError{DocumentID: steps[idx].DocumentID, Step: steps[idx].Name, Blocking: steps[idx-1].Name}
	}
	ts := now
	if idx > 0 && !ts.After(*steps[idx-1].CompletedAt) {
		// Postgres keeps microseconds, so bump by that much to stay strictly increasing after a round trip.
		ts = steps[idx-1].CompletedAt.Add(time.Microsecond)
	}
	steps[idx].Completed = true
	steps[idx].CompletedAt = &ts
	return true, nil
}

// AdvanceAll completes every open step in sequence order and returns the
// indexes it changed.
func AdvanceAll(steps []VerificationStep, now time.Time) ([]int, error) {
	var changed []int
	for i := range steps {
		ok, err := CompleteStep(steps, i, now)
		if err != nil {
			return changed, err
		}
		if ok {
			changed = append(changed, i)
		}
	}
	return changed, nil
}

// CheckOrder validates the ledger invariant: no completed step follows an
// open one and completion times never decrease.
func CheckOrder(steps []VerificationStep) error {
	for i := 1; i < len(steps); i++ {
		prev, cur := steps[i-1], steps[i]
		if cur.Completed && !prev.Completed {
			return &OutOfOrderError{DocumentID: cur.DocumentID, Step: cur.Name, Blocking: prev.Name}
		}
		if cur.Completed && cur.CompletedAt.Before(*prev.CompletedAt) {
			return fmt.Errorf("%w: %s completed before %s", ErrOutOfOrder, cur.Name, prev.Name)
		}
	}
	return nil
}
