package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docverify/internal/document/model"
	"docverify/pkg/dbx"
	"docverify/pkg/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const documentColumns = `id, title, type, status, fingerprint, size, tags, owner_id, verified_by, verification_date, rejection_reason, created_at`

// DocumentRepository is the Postgres DocumentStore. Fingerprint uniqueness is
// a UNIQUE constraint, so "check and insert" is a single statement, and
// Transition is a conditional UPDATE acting as a compare-and-swap on status.
type DocumentRepository struct {
	DB  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{DB: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		d          model.Document
		status     string
		verifiedBy sql.NullString
		verifiedAt sql.NullTime
		reason     sql.NullString
	)
	err := row.Scan(&d.ID, &d.Title, &d.Type, &status, &d.Fingerprint, &d.Size, pq.Array(&d.Tags),
		&d.OwnerID, &verifiedBy, &verifiedAt, &reason, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if d.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	d.VerifiedBy = verifiedBy.String
	if verifiedAt.Valid {
		ts := verifiedAt.Time
		d.VerificationTimestamp = &ts
	}
	d.RejectionReason = reason.String
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return &d, nil
}

func (r *DocumentRepository) Create(ctx context.Context, in model.NewDocument) (*model.Document, error) {
	doc := &model.Document{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Type:        in.Type,
		Status:      model.StatusPending,
		Fingerprint: in.Fingerprint,
		Size:        in.Size,
		Tags:        append([]string{}, in.Tags...),
		OwnerID:     in.OwnerID,
		CreatedAt:   dbTime(r.now),
	}

	res, err := r.DB.ExecContext(ctx, `INSERT INTO documents (id, title, type, status, fingerprint, size, tags, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (fingerprint) DO NOTHING`,
		doc.ID, doc.Title, doc.Type, string(doc.Status), doc.Fingerprint, doc.Size, pq.Array(doc.Tags), doc.OwnerID, doc.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to create document: %v", err)
		return nil, fmt.Errorf("insert document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		dup := &model.DuplicateFingerprintError{Fingerprint: in.Fingerprint}
		if existing, err := r.GetByFingerprint(ctx, in.Fingerprint); err == nil {
			dup.ExistingID = existing.ID
		}
		return nil, dup
	}
	return doc, nil
}

func (r *DocumentRepository) Get(ctx context.Context, id string) (*model.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("document %q: %w", id, model.ErrNotFound)
	}
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get document %s: %v", id, err)
		return nil, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) GetByFingerprint(ctx context.Context, fp string) (*model.Document, error) {
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE fingerprint = $1`, fp))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get document by fingerprint %s: %v", fp, err)
		return nil, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.Document, error) {
	return r.list(ctx, `SELECT `+documentColumns+` FROM documents WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`, ownerID)
}

func (r *DocumentRepository) ListByStatus(ctx context.Context, status model.Status) ([]*model.Document, error) {
	return r.list(ctx, `SELECT `+documentColumns+` FROM documents WHERE status = $1 ORDER BY created_at DESC, id DESC`, string(status))
}

func (r *DocumentRepository) list(ctx context.Context, query string, arg any) ([]*model.Document, error) {
	rows, err := r.DB.QueryContext(ctx, query, arg)
	if err != nil {
		logger.Sugar.Errorf("Failed to list documents: %v", err)
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []*model.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *DocumentRepository) Transition(ctx context.Context, id string, res model.Resolution) (*model.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("document %q: %w", id, model.ErrNotFound)
	}
	doc, err := r.transition(ctx, r.DB, id, res)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &model.InvalidStateError{DocumentID: id, Current: current.Status}
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to transition document %s: %v", id, err)
		return nil, fmt.Errorf("update document: %w", err)
	}
	return doc, nil
}

// transition is the conditional UPDATE behind Transition. It reports
// sql.ErrNoRows when the document is missing or no longer pending.
func (r *DocumentRepository) transition(ctx context.Context, db dbx.DBTX, id string, res model.Resolution) (*model.Document, error) {
	status := res.Decision.Status()
	reason := sql.NullString{String: res.Reason, Valid: status == model.StatusRejected && res.Reason != ""}
	return scanDocument(db.QueryRowContext(ctx, `UPDATE documents
		SET status = $2, verified_by = $3, verification_date = $4, rejection_reason = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+documentColumns,
		id, string(status), res.ResolverID, dbTime(r.now), reason))
}

// FinalizeVerified locks the document row, completes its ledger and marks it
// verified in one transaction. A document another process resolved first is
// reported as *model.InvalidStateError with its ledger untouched.
func (r *DocumentRepository) FinalizeVerified(ctx context.Context, id string, res model.Resolution) (*model.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("document %q: %w", id, model.ErrNotFound)
	}
	res.Decision = model.DecisionVerified

	var doc *model.Document
	err := dbx.WithTx(ctx, r.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock document: %w", err)
		}
		if current := model.Status(status); current != model.StatusPending {
			return &model.InvalidStateError{DocumentID: id, Current: current}
		}

		steps, err := loadSteps(ctx, tx, id, true)
		if err != nil {
			return fmt.Errorf("advance ledger: %w", err)
		}
		changed, err := model.AdvanceAll(steps, dbTime(r.now))
		if err != nil {
			return fmt.Errorf("advance ledger: %w", err)
		}
		if err := writeSteps(ctx, tx, id, steps, changed); err != nil {
			return fmt.Errorf("advance ledger: %w", err)
		}

		doc, err = r.transition(ctx, tx, id, res)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrInvalidState) && !errors.Is(err, model.ErrOutOfOrder) {
			logger.Sugar.Errorf("Failed to verify document %s: %v", id, err)
		}
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete doc %s: %v", id, err)
		return fmt.Errorf("delete document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return nil
}
