package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/credbuzz/backend/internal/errs"
	"github.com/credbuzz/backend/internal/models"
)

// TxBeginner abstracts transaction creation so tests don't need a
// pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LifecycleTaskRepo is the task store surface the engine needs. The Mark*
// methods are conditional updates: they return false when the task was not
// in the required status, which the engine reports as ErrInvalidState.
type LifecycleTaskRepo interface {
	Create(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	Claim(ctx context.Context, tx pgx.Tx, taskID, claimantID uuid.UUID) (bool, error)
	MarkSubmitted(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, sub *models.Submission) (bool, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, review *models.Review) (bool, error)
	MarkRejected(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, reason string) (bool, error)
	MarkCancelled(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (bool, error)
	DeleteIfOpen(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (bool, error)
}

// LifecycleAccountRepo is the account ledger surface the engine needs.
// DeductCredits must fail with pgx.ErrNoRows when the balance is too low.
type LifecycleAccountRepo interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error)
	IncrementTasksCreated(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	IncrementTasksCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	UpdateRating(ctx context.Context, tx pgx.Tx, id uuid.UUID, rating float64, count int) error
}

// LedgerRepo appends audit entries for every credit movement.
type LedgerRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
}

// EnqueueReviewTxFunc enqueues an AI review job within the submit
// transaction. Provided by main as a closure over river.Client.InsertTx.
type EnqueueReviewTxFunc func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error

// Lifecycle is the task state machine. It is the sole writer of task
// status, claimant, and every account balance change tied to a task.
// Each operation validates all preconditions, then applies its mutations
// in a single transaction: either everything commits or nothing does.
type Lifecycle struct {
	pool          TxBeginner
	tasks         LifecycleTaskRepo
	accounts      LifecycleAccountRepo
	ledger        LedgerRepo
	enqueueReview EnqueueReviewTxFunc
	log           *slog.Logger
}

// NewLifecycle wires the engine. enqueueReview may be nil when no review
// oracle is configured.
func NewLifecycle(pool TxBeginner, tasks LifecycleTaskRepo, accounts LifecycleAccountRepo, ledger LedgerRepo, enqueueReview EnqueueReviewTxFunc, log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{pool: pool, tasks: tasks, accounts: accounts, ledger: ledger, enqueueReview: enqueueReview, log: log}
}

// CreateTaskSpec carries the creator-supplied task fields.
type CreateTaskSpec struct {
	Title          string
	Description    string
	Category       string
	Skills         []string
	EstimatedHours int
	Deadline       time.Time
	CreditAmount   int
}

// CreateTask escrows the credit amount from the creator and opens the
// task. The debit, the task row, the ledger entry, and the counter bump
// commit together.
func (l *Lifecycle) CreateTask(ctx context.Context, actorID uuid.UUID, spec CreateTaskSpec) (*models.Task, error) {
	if spec.Title == "" || spec.Description == "" || spec.Category == "" {
		return nil, fmt.Errorf("%w: title, description and category are required", errs.ErrValidation)
	}
	if spec.CreditAmount < 1 {
		return nil, fmt.Errorf("%w: credit amount must be at least 1", errs.ErrValidation)
	}
	if spec.EstimatedHours < 1 {
		return nil, fmt.Errorf("%w: estimated hours must be at least 1", errs.ErrValidation)
	}
	if spec.Deadline.IsZero() {
		return nil, fmt.Errorf("%w: deadline is required", errs.ErrValidation)
	}

	task := &models.Task{
		ID:             uuid.New(),
		Title:          spec.Title,
		Description:    spec.Description,
		Category:       spec.Category,
		Skills:         spec.Skills,
		EstimatedHours: spec.EstimatedHours,
		Deadline:       spec.Deadline,
		CreditAmount:   spec.CreditAmount,
		Status:         models.TaskStatusOpen,
		CreatorID:      actorID,
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	balance, err := l.accounts.DeductCredits(ctx, tx, actorID, spec.CreditAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: balance below credit amount", errs.ErrInsufficientCredits)
		}
		return nil, err
	}
	if err := l.tasks.Create(ctx, tx, task); err != nil {
		return nil, err
	}
	if err := l.ledger.CreateTx(ctx, tx, &models.Transaction{
		ID: uuid.New(), AccountID: actorID, TaskID: &task.ID,
		EntryType: models.EntryEscrowLock, Amount: spec.CreditAmount, BalanceAfter: balance,
	}); err != nil {
		return nil, err
	}
	if err := l.accounts.IncrementTasksCreated(ctx, tx, actorID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return task, nil
}

// ClaimTask assigns the task to the actor. The conditional update in the
// task repo guarantees exactly one winner under concurrent claims.
func (l *Lifecycle) ClaimTask(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error) {
	task, err := l.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CreatorID == actorID {
		return nil, fmt.Errorf("%w: cannot claim own task", errs.ErrForbidden)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := l.tasks.Claim(ctx, tx, taskID, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: task is not available for claiming", errs.ErrInvalidState)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return l.loadTask(ctx, taskID)
}

// SubmitTask stores the claimant's work and moves the task to submitted.
// Rejected tasks may be resubmitted by the same claimant. When a review
// oracle is configured, an annotation job is enqueued in the same
// transaction; the oracle never blocks or fails the submission.
func (l *Lifecycle) SubmitTask(ctx context.Context, actorID, taskID uuid.UUID, content string, files []string) (*models.Task, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: submission content is required", errs.ErrValidation)
	}
	task, err := l.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ClaimantID == nil || *task.ClaimantID != actorID {
		return nil, fmt.Errorf("%w: only the claimant can submit", errs.ErrForbidden)
	}

	sub := &models.Submission{Content: content, SubmittedAt: time.Now().UTC(), Files: files}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := l.tasks.MarkSubmitted(ctx, tx, taskID, sub)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: task is not ready for submission", errs.ErrInvalidState)
	}
	if l.enqueueReview != nil {
		if err := l.enqueueReview(ctx, tx, taskID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return l.loadTask(ctx, taskID)
}

// ApproveTask releases the escrowed credits to the claimant, bumps their
// completion counter, and folds an optional 1–5 rating into their running
// mean. Mutually exclusive with RejectTask: the conditional status update
// means only the first to commit wins.
func (l *Lifecycle) ApproveTask(ctx context.Context, actorID, taskID uuid.UUID, rating *int, comment string) (*models.Task, error) {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", errs.ErrValidation)
	}
	task, err := l.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CreatorID != actorID {
		return nil, fmt.Errorf("%w: only the creator can approve", errs.ErrForbidden)
	}
	if task.ClaimantID == nil {
		return nil, fmt.Errorf("%w: task is not ready for approval", errs.ErrInvalidState)
	}
	claimantID := *task.ClaimantID

	var review *models.Review
	if rating != nil {
		review = &models.Review{Rating: *rating, Comment: comment, ReviewedAt: time.Now().UTC()}
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := l.tasks.MarkCompleted(ctx, tx, taskID, review)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: task is not ready for approval", errs.ErrInvalidState)
	}
	balance, err := l.accounts.AddCredits(ctx, tx, claimantID, task.CreditAmount)
	if err != nil {
		return nil, err
	}
	if err := l.ledger.CreateTx(ctx, tx, &models.Transaction{
		ID: uuid.New(), AccountID: claimantID, TaskID: &task.ID,
		EntryType: models.EntryTaskEarning, Amount: task.CreditAmount, BalanceAfter: balance,
	}); err != nil {
		return nil, err
	}
	if err := l.accounts.IncrementTasksCompleted(ctx, tx, claimantID); err != nil {
		return nil, err
	}
	if rating != nil {
		claimant, err := l.accounts.GetByIDForUpdate(ctx, tx, claimantID)
		if err != nil {
			return nil, err
		}
		newRating, newCount := foldRating(claimant.Rating, claimant.RatingCount, *rating)
		if err := l.accounts.UpdateRating(ctx, tx, claimantID, newRating, newCount); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return l.loadTask(ctx, taskID)
}

// foldRating folds a new 1–5 rating into the running mean, rounded to
// two decimal places.
func foldRating(oldRating float64, oldCount, rating int) (float64, int) {
	newCount := oldCount + 1
	mean := (oldRating*float64(oldCount) + float64(rating)) / float64(newCount)
	return math.Round(mean*100) / 100, newCount
}

// RejectTask records the creator's reason and hands the task back to the
// claimant for rework. No credit movement; the escrow stays locked until
// a later approve or cancel resolves it.
func (l *Lifecycle) RejectTask(ctx context.Context, actorID, taskID uuid.UUID, reason string) (*models.Task, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", errs.ErrValidation)
	}
	task, err := l.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CreatorID != actorID {
		return nil, fmt.Errorf("%w: only the creator can reject", errs.ErrForbidden)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := l.tasks.MarkRejected(ctx, tx, taskID, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: task is not awaiting review", errs.ErrInvalidState)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return l.loadTask(ctx, taskID)
}

// CancelTask ends an open or claimed task and refunds the escrow to the
// creator.
func (l *Lifecycle) CancelTask(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error) {
	task, err := l.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CreatorID != actorID {
		return nil, fmt.Errorf("%w: only the creator can cancel", errs.ErrForbidden)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := l.tasks.MarkCancelled(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: task cannot be cancelled", errs.ErrInvalidState)
	}
	balance, err := l.accounts.AddCredits(ctx, tx, task.CreatorID, task.CreditAmount)
	if err != nil {
		return nil, err
	}
	if err := l.ledger.CreateTx(ctx, tx, &models.Transaction{
		ID: uuid.New(), AccountID: task.CreatorID, TaskID: &task.ID,
		EntryType: models.EntryEscrowRefund, Amount: task.CreditAmount, BalanceAfter: balance,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return l.loadTask(ctx, taskID)
}

// DeleteTask removes an open, unclaimed task and refunds the escrow.
func (l *Lifecycle) DeleteTask(ctx context.Context, actorID, taskID uuid.UUID) error {
	task, err := l.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.CreatorID != actorID {
		return fmt.Errorf("%w: only the creator can delete", errs.ErrForbidden)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ok, err := l.tasks.DeleteIfOpen(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: only open and unclaimed tasks can be deleted", errs.ErrInvalidState)
	}
	balance, err := l.accounts.AddCredits(ctx, tx, task.CreatorID, task.CreditAmount)
	if err != nil {
		return err
	}
	if err := l.ledger.CreateTx(ctx, tx, &models.Transaction{
		ID: uuid.New(), AccountID: task.CreatorID, TaskID: &task.ID,
		EntryType: models.EntryEscrowRefund, Amount: task.CreditAmount, BalanceAfter: balance,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CompleteOffline records a synthetic submission for work done outside
// the platform. The task still goes through the creator's approval, so
// payout keeps a single path and a single terminal credit movement.
func (l *Lifecycle) CompleteOffline(ctx context.Context, actorID, taskID uuid.UUID, note string) (*models.Task, error) {
	task, err := l.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ClaimantID == nil || *task.ClaimantID != actorID {
		return nil, fmt.Errorf("%w: only the claimant can mark completion", errs.ErrForbidden)
	}
	if task.Status != models.TaskStatusClaimed {
		return nil, fmt.Errorf("%w: task is not in progress", errs.ErrInvalidState)
	}
	if note == "" {
		note = "Completed offline"
	}

	sub := &models.Submission{Content: note, SubmittedAt: time.Now().UTC()}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := l.tasks.MarkSubmitted(ctx, tx, taskID, sub)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: task is not in progress", errs.ErrInvalidState)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return l.loadTask(ctx, taskID)
}

func (l *Lifecycle) loadTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	task, err := l.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %s", errs.ErrNotFound, taskID)
		}
		return nil, err
	}
	return task, nil
}
