package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"docverify/internal/document/model"
	"docverify/pkg/dbx"
	"docverify/pkg/logger"

	"github.com/google/uuid"
)

// StepRepository is the Postgres StepLedger. Rows are keyed by
// (document_id, position) and cascade away with their document.
type StepRepository struct {
	DB  *sql.DB
	now func() time.Time
}

func NewStepRepository(db *sql.DB) *StepRepository {
	return &StepRepository{DB: db, now: time.Now}
}

func (r *StepRepository) Initialize(ctx context.Context, documentID string) ([]model.VerificationStep, error) {
	if _, err := uuid.Parse(documentID); err != nil {
		return nil, fmt.Errorf("document %q: %w", documentID, model.ErrNotFound)
	}
	steps := model.NewLedger(documentID, dbTime(r.now))

	values := make([]string, 0, len(steps))
	args := []any{documentID}
	for i, s := range steps {
		n := len(args)
		values = append(values, fmt.Sprintf("($1, %d, $%d, $%d, $%d)", i+1, n+1, n+2, n+3))
		args = append(args, string(s.Name), s.Completed, nullTime(s.CompletedAt))
	}

	_, err := r.DB.ExecContext(ctx, `INSERT INTO verification_steps (document_id, position, step_name, completed, completed_at) VALUES `+
		strings.Join(values, ", "), args...)
	switch {
	case dbx.IsCode(err, dbx.CodeUniqueViolation):
		return nil, fmt.Errorf("document %s: %w", documentID, model.ErrAlreadyInitialized)
	case dbx.IsCode(err, dbx.CodeForeignKeyViolation):
		return nil, fmt.Errorf("document %s: %w", documentID, model.ErrNotFound)
	case err != nil:
		logger.Sugar.Errorf("Failed to initialize ledger for doc %s: %v", documentID, err)
		return nil, fmt.Errorf("insert verification steps: %w", err)
	}
	return steps, nil
}

func (r *StepRepository) Get(ctx context.Context, documentID string) ([]model.VerificationStep, error) {
	if _, err := uuid.Parse(documentID); err != nil {
		return nil, fmt.Errorf("ledger %q: %w", documentID, model.ErrNotFound)
	}
	return loadSteps(ctx, r.DB, documentID, false)
}

func (r *StepRepository) AdvanceToFinal(ctx context.Context, documentID string) ([]model.VerificationStep, error) {
	return r.mutate(ctx, documentID, func(steps []model.VerificationStep, now time.Time) ([]int, error) {
		return model.AdvanceAll(steps, now)
	})
}

func (r *StepRepository) Complete(ctx context.Context, documentID string, step model.StepName) ([]model.VerificationStep, error) {
	pos, err := step.Position()
	if err != nil {
		return nil, err
	}
	return r.mutate(ctx, documentID, func(steps []model.VerificationStep, now time.Time) ([]int, error) {
		changed, err := model.CompleteStep(steps, pos-1, now)
		if err != nil || !changed {
			return nil, err
		}
		return []int{pos - 1}, nil
	})
}

// mutate locks the ledger rows, applies fn in memory and writes back the
// steps fn reports as changed, all inside one transaction.
func (r *StepRepository) mutate(ctx context.Context, documentID string, fn func([]model.VerificationStep, time.Time) ([]int, error)) ([]model.VerificationStep, error) {
	if _, err := uuid.Parse(documentID); err != nil {
		return nil, fmt.Errorf("ledger %q: %w", documentID, model.ErrNotFound)
	}
	var steps []model.VerificationStep
	err := dbx.WithTx(ctx, r.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if steps, err = loadSteps(ctx, tx, documentID, true); err != nil {
			return err
		}
		changed, err := fn(steps, dbTime(r.now))
		if err != nil {
			return err
		}
		return writeSteps(ctx, tx, documentID, steps, changed)
	})
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrOutOfOrder) {
			logger.Sugar.Errorf("Failed to update ledger for doc %s: %v", documentID, err)
		}
		return nil, err
	}
	return steps, nil
}

// writeSteps stores the completion of the steps at the given indexes.
func writeSteps(ctx context.Context, tx dbx.DBTX, documentID string, steps []model.VerificationStep, changed []int) error {
	for _, i := range changed {
		_, err := tx.ExecContext(ctx, `UPDATE verification_steps SET completed = TRUE, completed_at = $3
			WHERE document_id = $1 AND position = $2`, documentID, i+1, *steps[i].CompletedAt)
		if err != nil {
			return fmt.Errorf("update step %s: %w", steps[i].Name, err)
		}
	}
	return nil
}

func loadSteps(ctx context.Context, db dbx.DBTX, documentID string, forUpdate bool) ([]model.VerificationStep, error) {
	query := `SELECT step_name, completed, completed_at FROM verification_steps WHERE document_id = $1 ORDER BY position`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("select verification steps: %w", err)
	}
	defer rows.Close()

	var steps []model.VerificationStep
	for rows.Next() {
		var (
			name        string
			completedAt sql.NullTime
			s           = model.VerificationStep{DocumentID: documentID}
		)
		if err := rows.Scan(&name, &s.Completed, &completedAt); err != nil {
			return nil, fmt.Errorf("scan verification step: %w", err)
		}
		s.Name = model.StepName(name)
		if _, err := s.Name.Position(); err != nil {
			return nil, err
		}
		s.Label = s.Name.Label()
		if completedAt.Valid {
			ts := completedAt.Time
			s.CompletedAt = &ts
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("ledger %s: %w", documentID, model.ErrNotFound)
	}
	return steps, nil
}

// dbTime reads the clock at the precision Postgres stores, so what a write
// returns matches what a later read sees.
func dbTime(now func() time.Time) time.Time {
	return now().UTC().Truncate(time.Microsecond)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
