package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/credbuzz/backend/internal/models"
)

const taskColumns = `id, title, description, category, skills, estimated_hours, deadline, credit_amount, status, creator_id, claimant_id, claimed_at, submission, rejection_reason, review, created_at, updated_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var submission, review []byte
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Category, &t.Skills, &t.EstimatedHours, &t.Deadline, &t.CreditAmount, &t.Status, &t.CreatorID, &t.ClaimantID, &t.ClaimedAt, &submission, &t.RejectionReason, &review, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(submission) > 0 {
		t.Submission = &models.Submission{}
		if err := json.Unmarshal(submission, t.Submission); err != nil {
			return nil, fmt.Errorf("decode submission: %w", err)
		}
	}
	if len(review) > 0 {
		t.Review = &models.Review{}
		if err := json.Unmarshal(review, t.Review); err != nil {
			return nil, fmt.Errorf("decode review: %w", err)
		}
	}
	return &t, nil
}

// Create inserts the task inside the caller's transaction so the escrow
// debit and the task row commit together.
func (r *TaskRepo) Create(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return tx.QueryRow(ctx, `
		INSERT INTO tasks (id, title, description, category, skills, estimated_hours, deadline, credit_amount, status, creator_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, t.ID, t.Title, t.Description, t.Category, t.Skills, t.EstimatedHours, t.Deadline, t.CreditAmount, t.Status, t.CreatorID).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status    string
	Category  string
	Skill     string
	Search    string    // free text over title/description
	Involving uuid.UUID // tasks where the account is creator or claimant
}

func (r *TaskRepo) List(ctx context.Context, f ListFilter) ([]*models.Task, error) {
	var conds []string
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Skill != "" {
		args = append(args, f.Skill)
		conds = append(conds, fmt.Sprintf("$%d = ANY(skills)", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if f.Involving != uuid.Nil {
		args = append(args, f.Involving)
		conds = append(conds, fmt.Sprintf("(creator_id = $%d OR claimant_id = $%d)", len(args), len(args)))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// Claim is the atomic check-then-set for claiming: it succeeds only while
// the task is still open and unclaimed, so concurrent claims produce
// exactly one winner.
func (r *TaskRepo) Claim(ctx context.Context, tx pgx.Tx, taskID, claimantID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET claimant_id = $2, status = 'claimed', claimed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'open' AND claimant_id IS NULL
	`, taskID, claimantID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSubmitted stores the submission and moves claimed or rejected tasks
// to submitted. A rejected task keeps its claimant; resubmission clears
// the stored rejection reason.
func (r *TaskRepo) MarkSubmitted(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, sub *models.Submission) (bool, error) {
	payload, err := json.Marshal(sub)
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET submission = $2, status = 'submitted', rejection_reason = '', updated_at = now()
		WHERE id = $1 AND status IN ('claimed', 'rejected')
	`, taskID, payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted records the review and completes the task. Conditional on
// status so a concurrent reject loses.
func (r *TaskRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, review *models.Review) (bool, error) {
	var payload []byte
	if review != nil {
		var err error
		payload, err = json.Marshal(review)
		if err != nil {
			return false, err
		}
	}
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET review = $2, status = 'completed', updated_at = now()
		WHERE id = $1 AND status = 'submitted'
	`, taskID, payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRejected stores the reason and moves the task back to the claimant
// for rework. Mutually exclusive with MarkCompleted.
func (r *TaskRepo) MarkRejected(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, reason string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET rejection_reason = $2, status = 'rejected', updated_at = now()
		WHERE id = $1 AND status = 'submitted'
	`, taskID, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCancelled ends the task from open or claimed.
func (r *TaskRepo) MarkCancelled(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('open', 'claimed')
	`, taskID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteIfOpen removes the task record only while it is open and
// unclaimed.
func (r *TaskRepo) DeleteIfOpen(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		DELETE FROM tasks WHERE id = $1 AND status = 'open' AND claimant_id IS NULL
	`, taskID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetAIReview stores the oracle annotation on the submission. Runs outside
// the lifecycle transactions; the review worker calls it after the fact.
func (r *TaskRepo) SetAIReview(ctx context.Context, taskID uuid.UUID, annotation string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET submission = jsonb_set(submission, '{ai_review}', to_jsonb($2::text)), updated_at = now()
		WHERE id = $1 AND submission IS NOT NULL
	`, taskID, annotation)
	return err
}
