package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"docverify/internal/document/model"

	"github.com/google/uuid"
)

type memoryRecord struct {
	mu  sync.Mutex
	doc *model.Document
	seq uint64
}

// MemoryDocumentRepository is an in-process DocumentStore used for local
// runs and tests. The map lock covers the fingerprint index together with
// insertion; each record has its own lock for transitions.
type MemoryDocumentRepository struct {
	mu            sync.RWMutex
	byID          map[string]*memoryRecord
	byFingerprint map[string]string
	seq           uint64
	now           func() time.Time
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{
		byID:          make(map[string]*memoryRecord),
		byFingerprint: make(map[string]string),
		now:           time.Now,
	}
}

func (r *MemoryDocumentRepository) Create(_ context.Context, in model.NewDocument) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byFingerprint[in.Fingerprint]; ok {
		return nil, &model.DuplicateFingerprintError{Fingerprint: in.Fingerprint, ExistingID: existing}
	}
	r.seq++
	doc := &model.Document{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Type:        in.Type,
		Status:      model.StatusPending,
		Fingerprint: in.Fingerprint,
		Size:        in.Size,
		Tags:        append([]string{}, in.Tags...),
		OwnerID:     in.OwnerID,
		CreatedAt:   r.now().UTC(),
	}
	r.byID[doc.ID] = &memoryRecord{doc: doc, seq: r.seq}
	r.byFingerprint[doc.Fingerprint] = doc.ID
	return doc.Clone(), nil
}

func (r *MemoryDocumentRepository) record(id string) (*memoryRecord, error) {
	r.mu.RLock()
	rec, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return rec, nil
}

func (r *MemoryDocumentRepository) Get(_ context.Context, id string) (*model.Document, error) {
	rec, err := r.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.doc.Clone(), nil
}

func (r *MemoryDocumentRepository) GetByFingerprint(ctx context.Context, fp string) (*model.Document, error) {
	r.mu.RLock()
	id, ok := r.byFingerprint[fp]
	r.mu.RUnlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *MemoryDocumentRepository) ListByOwner(_ context.Context, ownerID string) ([]*model.Document, error) {
	return r.list(func(d *model.Document) bool { return d.OwnerID == ownerID }), nil
}

func (r *MemoryDocumentRepository) ListByStatus(_ context.Context, status model.Status) ([]*model.Document, error) {
	return r.list(func(d *model.Document) bool { return d.Status == status }), nil
}

// list returns matching snapshots newest first; insertion order breaks ties.
func (r *MemoryDocumentRepository) list(match func(*model.Document) bool) []*model.Document {
	r.mu.RLock()
	recs := make([]*memoryRecord, 0, len(r.byID))
	for _, rec := range r.byID {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	type snapshot struct {
		doc *model.Document
		seq uint64
	}
	var hits []snapshot
	for _, rec := range recs {
		rec.mu.Lock()
		if match(rec.doc) {
			hits = append(hits, snapshot{doc: rec.doc.Clone(), seq: rec.seq})
		}
		rec.mu.Unlock()
	}
	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].doc.CreatedAt.Equal(hits[j].doc.CreatedAt) {
			return hits[i].doc.CreatedAt.After(hits[j].doc.CreatedAt)
		}
		return hits[i].seq > hits[j].seq
	})

	docs := make([]*model.Document, len(hits))
	for i, h := range hits {
		docs[i] = h.doc
	}
	return docs
}

func (r *MemoryDocumentRepository) Transition(_ context.Context, id string, res model.Resolution) (*model.Document, error) {
	rec, err := r.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.doc.Status != model.StatusPending {
		return nil, &model.InvalidStateError{DocumentID: id, Current: rec.doc.Status}
	}
	status := res.Decision.Status()
	now := r.now().UTC()
	rec.doc.Status = status
	rec.doc.VerifiedBy = res.ResolverID
	rec.doc.VerificationTimestamp = &now
	if status == model.StatusRejected {
		rec.doc.RejectionReason = res.Reason
	}
	return rec.doc.Clone(), nil
}

func (r *MemoryDocumentRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	delete(r.byID, id)
	delete(r.byFingerprint, rec.doc.Fingerprint)
	return nil
}

// MemoryStepRepository is the in-process StepLedger.
type MemoryStepRepository struct {
	mu      sync.Mutex
	ledgers map[string][]model.VerificationStep
	now     func() time.Time
}

func NewMemoryStepRepository() *MemoryStepRepository {
	return &MemoryStepRepository{
		ledgers: make(map[string][]model.VerificationStep),
		now:     time.Now,
	}
}

func (r *MemoryStepRepository) Initialize(_ context.Context, documentID string) ([]model.VerificationStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ledgers[documentID]; ok {
		return nil, fmt.Errorf("document %s: %w", documentID, model.ErrAlreadyInitialized)
	}
	steps := model.NewLedger(documentID, r.now().UTC())
	r.ledgers[documentID] = steps
	return model.CloneSteps(steps), nil
}

func (r *MemoryStepRepository) Get(_ context.Context, documentID string) ([]model.VerificationStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps, ok := r.ledgers[documentID]
	if !ok {
		return nil, fmt.Errorf("ledger %s: %w", documentID, model.ErrNotFound)
	}
	return model.CloneSteps(steps), nil
}

func (r *MemoryStepRepository) AdvanceToFinal(_ context.Context, documentID string) ([]model.VerificationStep, error) {
	return r.mutate(documentID, func(steps []model.VerificationStep, now time.Time) error {
		_, err := model.AdvanceAll(steps, now)
		return err
	})
}

func (r *MemoryStepRepository) Complete(_ context.Context, documentID string, step model.StepName) ([]model.VerificationStep, error) {
	pos, err := step.Position()
	if err != nil {
		return nil, err
	}
	return r.mutate(documentID, func(steps []model.VerificationStep, now time.Time) error {
		_, err := model.CompleteStep(steps, pos-1, now)
		return err
	})
}

// mutate applies fn to a working copy and stores it only if fn succeeds.
func (r *MemoryStepRepository) mutate(documentID string, fn func([]model.VerificationStep, time.Time) error) ([]model.VerificationStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps, ok := r.ledgers[documentID]
	if !ok {
		return nil, fmt.Errorf("ledger %s: %w", documentID, model.ErrNotFound)
	}
	work := model.CloneSteps(steps)
	if err := fn(work, r.now().UTC()); err != nil {
		return nil, err
	}
	r.ledgers[documentID] = work
	return model.CloneSteps(work), nil
}
