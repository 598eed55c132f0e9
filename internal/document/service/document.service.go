package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"docverify/internal/document/fingerprint"
	"docverify/internal/document/model"
	"docverify/internal/document/repository"
	"docverify/pkg/logger"

	"go.uber.org/zap"
)

const (
	MaxTags      = 20
	MaxTagLength = 32
)

// Notifier receives workflow events after they are committed. Implementations
// must not block.
type Notifier interface {
	Publish(event model.Event)
}

// DocumentService drives a document from upload through its verification
// steps to a terminal status.
type DocumentService struct {
	Docs     repository.DocumentStore
	Steps    repository.StepLedger
	Notifier Notifier

	locks docLocks
}

func NewDocumentService(docs repository.DocumentStore, steps repository.StepLedger, notifier Notifier) *DocumentService {
	return &DocumentService{Docs: docs, Steps: steps, Notifier: notifier}
}

// Submission is the caller-supplied metadata of an upload.
type Submission struct {
	OwnerID string
	Title   string
	Type    string
	Tags    []string
}

// Submit fingerprints content, stores the document as pending and opens its
// verification ledger.
func (s *DocumentService) Submit(ctx context.Context, sub Submission, content []byte) (*model.Document, error) {
	in, err := sub.validate()
	if err != nil {
		return nil, err
	}
	fp, err := fingerprint.Generate(content)
	if err != nil {
		return nil, err
	}
	in.Fingerprint = fp
	in.Size = int64(len(content))
	return s.submit(ctx, in)
}

// SubmitFrom is Submit for streamed uploads; content beyond limit bytes is rejected.
func (s *DocumentService) SubmitFrom(ctx context.Context, sub Submission, r io.Reader, limit int64) (*model.Document, error) {
	in, err := sub.validate()
	if err != nil {
		return nil, err
	}
	fp, n, err := fingerprint.FromReader(r, limit)
	if err != nil {
		return nil, err
	}
	in.Fingerprint = fp
	in.Size = n
	return s.submit(ctx, in)
}

func (s *DocumentService) submit(ctx context.Context, in model.NewDocument) (*model.Document, error) {
	doc, err := s.Docs.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	if _, err := s.Steps.Initialize(ctx, doc.ID); err != nil {
		logger.Sugar.Warnf("Ledger init failed for doc %s, removing document: %v", doc.ID, err)
		// The caller's context may already be done; the rollback must still run.
		if delErr := s.Docs.Delete(context.WithoutCancel(ctx), doc.ID); delErr != nil {
			logger.Sugar.Errorf("Failed to remove orphaned doc %s: %v", doc.ID, delErr)
			return nil, errors.Join(fmt.Errorf("initialize ledger: %w", err), fmt.Errorf("remove document: %w", delErr))
		}
		return nil, fmt.Errorf("initialize ledger: %w", err)
	}

	logger.Sugar.Infof("Document %s submitted by %s (%d bytes)", doc.ID, doc.OwnerID, doc.Size)
	s.publish(model.EventDocumentSubmitted, doc)
	return doc, nil
}

// Resolve records a verifier's decision on a pending document. On approval the
// ledger is completed together with or before the status flip; on rejection it
// is left where it stopped. Decisions on different documents run concurrently.
func (s *DocumentService) Resolve(ctx context.Context, documentID string, decision model.Decision, resolverID, reason string) (*model.Document, error) {
	resolverID = strings.TrimSpace(resolverID)
	if resolverID == "" {
		return nil, fmt.Errorf("%w: resolver id is required", model.ErrInvalidInput)
	}
	if _, err := model.ParseDecision(string(decision)); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(documentID)
	defer unlock()

	doc, err := s.Docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status.Terminal() {
		return nil, &model.InvalidStateError{DocumentID: doc.ID, Current: doc.Status}
	}

	res := model.Resolution{
		Decision:   decision,
		ResolverID: resolverID,
		Reason:     strings.TrimSpace(reason),
	}
	var resolved *model.Document
	switch decision {
	case model.DecisionVerified:
		resolved, err = s.finalize(ctx, doc.ID, res)
	case model.DecisionRejected:
		// ledger stays as it was
		resolved, err = s.Docs.Transition(ctx, doc.ID, res)
	}
	if err != nil {
		if errors.Is(err, model.ErrOutOfOrder) {
			logger.Log.Error("Verification ledger out of order",
				zap.String("document_id", doc.ID), zap.Error(err), zap.Stack("stack"))
		}
		return nil, err
	}

	logger.Sugar.Infof("Document %s %s by %s", resolved.ID, resolved.Status, resolverID)
	s.publish(model.EventDocumentResolved, resolved)
	return resolved, nil
}

// LookupByFingerprint finds a document by a user-supplied fingerprint. Unknown
// and malformed fingerprints both report absent.
func (s *DocumentService) LookupByFingerprint(ctx context.Context, raw string) (*model.Document, bool, error) {
	fp, err := fingerprint.Normalize(raw)
	if err != nil {
		return nil, false, nil
	}
	doc, err := s.Docs.GetByFingerprint(ctx, fp)
	if errors.Is(err, model.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Get returns a document together with its verification ledger.
func (s *DocumentService) Get(ctx context.Context, documentID string) (*model.DocumentDetail, error) {
	doc, err := s.Docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	steps, err := s.Steps.Get(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return &model.DocumentDetail{Document: doc, Steps: steps}, nil
}

// finalize completes the ledger and marks the document verified. Stores that
// hold both in one database do it in a single transaction; otherwise the
// ledger goes first so a verified document never has open steps.
func (s *DocumentService) finalize(ctx context.Context, documentID string, res model.Resolution) (*model.Document, error) {
	if f, ok := s.Docs.(repository.Finalizer); ok {
		return f.FinalizeVerified(ctx, documentID, res)
	}
	if _, err := s.Steps.AdvanceToFinal(ctx, documentID); err != nil {
		return nil, fmt.Errorf("advance ledger: %w", err)
	}
	return s.Docs.Transition(ctx, documentID, res)
}

func (s *DocumentService) publish(t model.EventType, doc *model.Document) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Publish(model.Event{Type: t, Document: doc.Clone()})
}

func (sub Submission) validate() (model.NewDocument, error) {
	in := model.NewDocument{
		OwnerID: strings.TrimSpace(sub.OwnerID),
		Title:   strings.TrimSpace(sub.Title),
		Type:    strings.TrimSpace(sub.Type),
	}
	switch {
	case in.OwnerID == "":
		return in, fmt.Errorf("%w: owner id is required", model.ErrInvalidInput)
	case in.Title == "":
		return in, fmt.Errorf("%w: title is required", model.ErrInvalidInput)
	case in.Type == "":
		return in, fmt.Errorf("%w: document type is required", model.ErrInvalidInput)
	}
	tags, err := NormalizeTags(sub.Tags)
	if err != nil {
		return in, err
	}
	in.Tags = tags
	return in, nil
}

// NormalizeTags turns raw labels into a set: trimmed, lower-cased, without
// empties or repeats. First occurrence order is kept.
func NormalizeTags(raw []string) ([]string, error) {
	tags := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		if len(t) > MaxTagLength {
			return nil, fmt.Errorf("%w: tag %q longer than %d characters", model.ErrInvalidInput, t, MaxTagLength)
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	if len(tags) > MaxTags {
		return nil, fmt.Errorf("%w: at most %d tags allowed", model.ErrInvalidInput, MaxTags)
	}
	return tags, nil
}
