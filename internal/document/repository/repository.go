package repository

import (
	"context"

	"docverify/internal/document/model"
)

// DocumentStore owns document records and their status field.
// Create and Transition are the only mutators besides the compensating Delete,
// and both are atomic with respect to concurrent readers.
type DocumentStore interface {
	// Create inserts a pending document. It fails with a
	// *model.DuplicateFingerprintError when the content is already stored.
	Create(ctx context.Context, in model.NewDocument) (*model.Document, error)
	Get(ctx context.Context, id string) (*model.Document, error)
	// GetByFingerprint returns model.ErrNotFound when no document holds fp.
	GetByFingerprint(ctx context.Context, fp string) (*model.Document, error)
	// ListByOwner and ListByStatus return documents newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Document, error)
	ListByStatus(ctx context.Context, status model.Status) ([]*model.Document, error)
	// Transition moves a pending document to a terminal status. Only the first
	// of several concurrent calls for the same id succeeds; the rest get
	// model.ErrInvalidState.
	Transition(ctx context.Context, id string, res model.Resolution) (*model.Document, error)
	// Delete removes a document. It exists for the workflow's compensating
	// action only.
	Delete(ctx context.Context, id string) error
}

// StepLedger owns the ordered verification steps of each document.
type StepLedger interface {
	// Initialize creates the four-step sequence with the first step completed.
	// It fails with model.ErrAlreadyInitialized when a ledger exists.
	Initialize(ctx context.Context, documentID string) ([]model.VerificationStep, error)
	// AdvanceToFinal completes every open step in order with increasing timestamps.
	AdvanceToFinal(ctx context.Context, documentID string) ([]model.VerificationStep, error)
	// Complete marks a single step, failing with model.ErrOutOfOrder when an
	// earlier step is still open.
	Complete(ctx context.Context, documentID string, step model.StepName) ([]model.VerificationStep, error)
	Get(ctx context.Context, documentID string) ([]model.VerificationStep, error)
}

// Finalizer is implemented by stores that keep documents and their ledgers in
// one database. FinalizeVerified completes the ledger and moves the document
// to verified in one transaction, so a competing decision made elsewhere
// cannot land between the two writes.
type Finalizer interface {
	FinalizeVerified(ctx context.Context, id string, res model.Resolution) (*model.Document, error)
}
