package model

import (
	"errors"
	"fmt"
)

// Sentinel errors returned across the document packages. Match with errors.Is.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrDuplicateFingerprint = errors.New("duplicate fingerprint")
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrOutOfOrder           = errors.New("verification step out of order")
	ErrAlreadyInitialized   = errors.New("verification ledger already initialized")
)

// DuplicateFingerprintError points at the document that already holds the content.
type DuplicateFingerprintError struct {
	Fingerprint string
	ExistingID  string
}

func (e *DuplicateFingerprintError) Error() string {
	if e.ExistingID == "" {
		return fmt.Sprintf("duplicate fingerprint %s", e.Fingerprint)
	}
	return fmt.Sprintf("duplicate fingerprint %s: already stored as document %s", e.Fingerprint, e.ExistingID)
}

func (e *DuplicateFingerprintError) Unwrap() error { return ErrDuplicateFingerprint }

type OutOfOrderError struct {
	DocumentID string
	Step       StepName
	Blocking   StepName
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("document %s: cannot complete %s while %s is incomplete", e.DocumentID, e.Step, e.Blocking)
}

func (e *OutOfOrderError) Unwrap() error { return ErrOutOfOrder }

// InvalidStateError reports a decision made on a document that already left pending.
type InvalidStateError struct {
	DocumentID string
	Current    Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("document %s already resolved (status %s)", e.DocumentID, e.Current)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
