package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credbuzz/backend/internal/errs"
	"github.com/credbuzz/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// --- task repo mock with the same conditional-update semantics as SQL ---

type mockTaskRepo struct {
	tasks map[uuid.UUID]*models.Task
}

func newMockTaskRepo() *mockTaskRepo { return &mockTaskRepo{tasks: make(map[uuid.UUID]*models.Task)} }

func (m *mockTaskRepo) Create(_ context.Context, _ pgx.Tx, t *models.Task) error {
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockTaskRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *mockTaskRepo) Claim(_ context.Context, _ pgx.Tx, taskID, claimantID uuid.UUID) (bool, error) {
	t, ok := m.tasks[taskID]
	if !ok || t.Status != models.TaskStatusOpen || t.ClaimantID != nil {
		return false, nil
	}
	now := time.Now()
	t.ClaimantID = &claimantID
	t.ClaimedAt = &now
	t.Status = models.TaskStatusClaimed
	return true, nil
}

func (m *mockTaskRepo) MarkSubmitted(_ context.Context, _ pgx.Tx, taskID uuid.UUID, sub *models.Submission) (bool, error) {
	t, ok := m.tasks[taskID]
	if !ok || (t.Status != models.TaskStatusClaimed && t.Status != models.TaskStatusRejected) {
		return false, nil
	}
	t.Submission = sub
	t.RejectionReason = ""
	t.Status = models.TaskStatusSubmitted
	return true, nil
}

func (m *mockTaskRepo) MarkCompleted(_ context.Context, _ pgx.Tx, taskID uuid.UUID, review *models.Review) (bool, error) {
	t, ok := m.tasks[taskID]
	if !ok || t.Status != models.TaskStatusSubmitted {
		return false, nil
	}
	t.Review = review
	t.Status = models.TaskStatusCompleted
	return true, nil
}

func (m *mockTaskRepo) MarkRejected(_ context.Context, _ pgx.Tx, taskID uuid.UUID, reason string) (bool, error) {
	t, ok := m.tasks[taskID]
	if !ok || t.Status != models.TaskStatusSubmitted {
		return false, nil
	}
	t.RejectionReason = reason
	t.Status = models.TaskStatusRejected
	return true, nil
}

func (m *mockTaskRepo) MarkCancelled(_ context.Context, _ pgx.Tx, taskID uuid.UUID) (bool, error) {
	t, ok := m.tasks[taskID]
	if !ok || (t.Status != models.TaskStatusOpen && t.Status != models.TaskStatusClaimed) {
		return false, nil
	}
	t.Status = models.TaskStatusCancelled
	return true, nil
}

func (m *mockTaskRepo) DeleteIfOpen(_ context.Context, _ pgx.Tx, taskID uuid.UUID) (bool, error) {
	t, ok := m.tasks[taskID]
	if !ok || t.Status != models.TaskStatusOpen || t.ClaimantID != nil {
		return false, nil
	}
	delete(m.tasks, taskID)
	return true, nil
}

// --- account repo mock ---

type mockAccountRepo struct {
	accounts map[uuid.UUID]*models.Account
}

func newMockAccountRepo() *mockAccountRepo {
	return &mockAccountRepo{accounts: make(map[uuid.UUID]*models.Account)}
}

func (m *mockAccountRepo) add(balance int) *models.Account {
	a := &models.Account{ID: uuid.New(), CreditBalance: balance}
	m.accounts[a.ID] = a
	return a
}

func (m *mockAccountRepo) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccountRepo) DeductCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	a, ok := m.accounts[id]
	if !ok || a.CreditBalance < amount {
		return 0, pgx.ErrNoRows
	}
	a.CreditBalance -= amount
	return a.CreditBalance, nil
}

func (m *mockAccountRepo) AddCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	a, ok := m.accounts[id]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	a.CreditBalance += amount
	return a.CreditBalance, nil
}

func (m *mockAccountRepo) IncrementTasksCreated(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	m.accounts[id].TasksCreated++
	return nil
}

func (m *mockAccountRepo) IncrementTasksCompleted(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	m.accounts[id].TasksCompleted++
	return nil
}

func (m *mockAccountRepo) UpdateRating(_ context.Context, _ pgx.Tx, id uuid.UUID, rating float64, count int) error {
	a := m.accounts[id]
	a.Rating = rating
	a.RatingCount = count
	return nil
}

// --- ledger mock ---

type mockLedger struct {
	entries []*models.Transaction
}

func (m *mockLedger) CreateTx(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
	m.entries = append(m.entries, t)
	return nil
}

func (m *mockLedger) byType(entryType string) []*models.Transaction {
	var out []*models.Transaction
	for _, e := range m.entries {
		if e.EntryType == entryType {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type testEnv struct {
	engine   *Lifecycle
	tasks    *mockTaskRepo
	accounts *mockAccountRepo
	ledger   *mockLedger
	enqueued []uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		tasks:    newMockTaskRepo(),
		accounts: newMockAccountRepo(),
		ledger:   &mockLedger{},
	}
	enqueue := func(_ context.Context, _ pgx.Tx, taskID uuid.UUID) error {
		env.enqueued = append(env.enqueued, taskID)
		return nil
	}
	env.engine = NewLifecycle(mockPool{}, env.tasks, env.accounts, env.ledger, enqueue, nil)
	return env
}

func validSpec(credits int) CreateTaskSpec {
	return CreateTaskSpec{
		Title:          "Fix flaky pipeline",
		Description:    "The nightly build fails intermittently",
		Category:       "engineering",
		Skills:         []string{"ci"},
		EstimatedHours: 3,
		Deadline:       time.Now().Add(72 * time.Hour),
		CreditAmount:   credits,
	}
}

// openTask creates a task through the engine so escrow state is realistic.
func (env *testEnv) openTask(t *testing.T, creator *models.Account, credits int) *models.Task {
	t.Helper()
	task, err := env.engine.CreateTask(context.Background(), creator.ID, validSpec(credits))
	require.NoError(t, err)
	return task
}

func (env *testEnv) claimAndSubmit(t *testing.T, task *models.Task, claimant *models.Account) *models.Task {
	t.Helper()
	ctx := context.Background()
	_, err := env.engine.ClaimTask(ctx, claimant.ID, task.ID)
	require.NoError(t, err)
	out, err := env.engine.SubmitTask(ctx, claimant.ID, task.ID, "done, see attached", nil)
	require.NoError(t, err)
	return out
}

// ---------------------------------------------------------------------------
// CreateTask
// ---------------------------------------------------------------------------

func TestCreateTask_EscrowsCredits(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)

	task, err := env.engine.CreateTask(context.Background(), creator.ID, validSpec(30))
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusOpen, task.Status)
	assert.Equal(t, creator.ID, task.CreatorID)
	assert.Nil(t, task.ClaimantID)
	assert.Equal(t, 70, creator.CreditBalance)
	assert.Equal(t, 1, creator.TasksCreated)

	locks := env.ledger.byType(models.EntryEscrowLock)
	require.Len(t, locks, 1)
	assert.Equal(t, 30, locks[0].Amount)
	assert.Equal(t, 70, locks[0].BalanceAfter)
}

func TestCreateTask_InsufficientCredits(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(10)

	_, err := env.engine.CreateTask(context.Background(), creator.ID, validSpec(30))
	assert.ErrorIs(t, err, errs.ErrInsufficientCredits)
	assert.Equal(t, 10, creator.CreditBalance)
	assert.Empty(t, env.ledger.entries)
	assert.Empty(t, env.tasks.tasks)
}

func TestCreateTask_InvalidSpec(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)

	cases := map[string]func(*CreateTaskSpec){
		"zero credits":     func(s *CreateTaskSpec) { s.CreditAmount = 0 },
		"missing title":    func(s *CreateTaskSpec) { s.Title = "" },
		"missing hours":    func(s *CreateTaskSpec) { s.EstimatedHours = 0 },
		"missing deadline": func(s *CreateTaskSpec) { s.Deadline = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			spec := validSpec(20)
			mutate(&spec)
			_, err := env.engine.CreateTask(context.Background(), creator.ID, spec)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}
	assert.Equal(t, 100, creator.CreditBalance)
}

// ---------------------------------------------------------------------------
// ClaimTask
// ---------------------------------------------------------------------------

func TestClaimTask(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)

	out, err := env.engine.ClaimTask(context.Background(), claimant.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusClaimed, out.Status)
	require.NotNil(t, out.ClaimantID)
	assert.Equal(t, claimant.ID, *out.ClaimantID)
	assert.NotNil(t, out.ClaimedAt)
}

func TestClaimTask_OwnTaskForbidden(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	task := env.openTask(t, creator, 30)

	_, err := env.engine.ClaimTask(context.Background(), creator.ID, task.ID)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	stored, _ := env.tasks.GetByID(context.Background(), task.ID)
	assert.Equal(t, models.TaskStatusOpen, stored.Status)
	assert.Nil(t, stored.ClaimantID)
}

func TestClaimTask_AlreadyClaimed(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	first := env.accounts.add(50)
	second := env.accounts.add(50)
	task := env.openTask(t, creator, 30)

	_, err := env.engine.ClaimTask(context.Background(), first.ID, task.ID)
	require.NoError(t, err)

	_, err = env.engine.ClaimTask(context.Background(), second.ID, task.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	stored, _ := env.tasks.GetByID(context.Background(), task.ID)
	assert.Equal(t, first.ID, *stored.ClaimantID)
}

func TestClaimTask_NotFound(t *testing.T) {
	env := newTestEnv(t)
	claimant := env.accounts.add(50)

	_, err := env.engine.ClaimTask(context.Background(), claimant.ID, uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

// ---------------------------------------------------------------------------
// SubmitTask
// ---------------------------------------------------------------------------

func TestSubmitTask(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	_, err := env.engine.ClaimTask(context.Background(), claimant.ID, task.ID)
	require.NoError(t, err)

	out, err := env.engine.SubmitTask(context.Background(), claimant.ID, task.ID, "all done", []string{"ref-1.pdf"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSubmitted, out.Status)
	require.NotNil(t, out.Submission)
	assert.Equal(t, "all done", out.Submission.Content)
	assert.Equal(t, []string{"ref-1.pdf"}, out.Submission.Files)
	assert.Equal(t, []uuid.UUID{task.ID}, env.enqueued)
}

func TestSubmitTask_NotClaimantForbidden(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	stranger := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	_, err := env.engine.ClaimTask(context.Background(), claimant.ID, task.ID)
	require.NoError(t, err)

	_, err = env.engine.SubmitTask(context.Background(), stranger.ID, task.ID, "sneaky", nil)
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestSubmitTask_OpenTaskInvalid(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	task := env.openTask(t, creator, 30)
	claimant := env.accounts.add(50)

	// Never claimed: no claimant, so the check fails on authorization.
	_, err := env.engine.SubmitTask(context.Background(), claimant.ID, task.ID, "work", nil)
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestSubmitTask_ResubmissionAfterReject(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	env.claimAndSubmit(t, task, claimant)

	_, err := env.engine.RejectTask(context.Background(), creator.ID, task.ID, "missing tests")
	require.NoError(t, err)

	out, err := env.engine.SubmitTask(context.Background(), claimant.ID, task.ID, "now with tests", nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSubmitted, out.Status)
	assert.Empty(t, out.RejectionReason)
	assert.Equal(t, "now with tests", out.Submission.Content)
}

// ---------------------------------------------------------------------------
// ApproveTask
// ---------------------------------------------------------------------------

func TestApproveTask_TransfersEscrow(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	env.claimAndSubmit(t, task, claimant)

	rating := 5
	out, err := env.engine.ApproveTask(context.Background(), creator.ID, task.ID, &rating, "great work")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusCompleted, out.Status)
	require.NotNil(t, out.Review)
	assert.Equal(t, 5, out.Review.Rating)
	assert.Equal(t, "great work", out.Review.Comment)

	assert.Equal(t, 70, creator.CreditBalance)
	assert.Equal(t, 80, claimant.CreditBalance)
	assert.Equal(t, 1, claimant.TasksCompleted)

	earnings := env.ledger.byType(models.EntryTaskEarning)
	require.Len(t, earnings, 1)
	assert.Equal(t, claimant.ID, earnings[0].AccountID)
	assert.Equal(t, 30, earnings[0].Amount)
}

func TestApproveTask_RatingRunningMean(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	claimant.Rating = 4.0
	claimant.RatingCount = 2
	task := env.openTask(t, creator, 30)
	env.claimAndSubmit(t, task, claimant)

	rating := 5
	_, err := env.engine.ApproveTask(context.Background(), creator.ID, task.ID, &rating, "")
	require.NoError(t, err)

	assert.InDelta(t, 4.33, claimant.Rating, 0.001)
	assert.Equal(t, 3, claimant.RatingCount)
}

func TestApproveTask_WithoutRating(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	env.claimAndSubmit(t, task, claimant)

	out, err := env.engine.ApproveTask(context.Background(), creator.ID, task.ID, nil, "")
	require.NoError(t, err)
	assert.Nil(t, out.Review)
	assert.Equal(t, 0, claimant.RatingCount)
	assert.Equal(t, 80, claimant.CreditBalance)
}

func TestApproveTask_WrongStatus(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(200)
	claimant := env.accounts.add(50)

	setups := map[string]func(t *testing.T) uuid.UUID{
		"open": func(t *testing.T) uuid.UUID {
			return env.openTask(t, creator, 10).ID
		},
		"claimed": func(t *testing.T) uuid.UUID {
			task := env.openTask(t, creator, 10)
			_, err := env.engine.ClaimTask(context.Background(), claimant.ID, task.ID)
			require.NoError(t, err)
			return task.ID
		},
		"cancelled": func(t *testing.T) uuid.UUID {
			task := env.openTask(t, creator, 10)
			_, err := env.engine.ClaimTask(context.Background(), claimant.ID, task.ID)
			require.NoError(t, err)
			_, err = env.engine.CancelTask(context.Background(), creator.ID, task.ID)
			require.NoError(t, err)
			return task.ID
		},
		"completed": func(t *testing.T) uuid.UUID {
			task := env.openTask(t, creator, 10)
			env.claimAndSubmit(t, task, claimant)
			_, err := env.engine.ApproveTask(context.Background(), creator.ID, task.ID, nil, "")
			require.NoError(t, err)
			return task.ID
		},
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			taskID := setup(t)
			claimantBefore := claimant.CreditBalance
			_, err := env.engine.ApproveTask(context.Background(), creator.ID, taskID, nil, "")
			assert.ErrorIs(t, err, errs.ErrInvalidState)
			assert.Equal(t, claimantBefore, claimant.CreditBalance)
		})
	}
}

func TestApproveTask_NotCreatorForbidden(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	env.claimAndSubmit(t, task, claimant)

	_, err := env.engine.ApproveTask(context.Background(), claimant.ID, task.ID, nil, "")
	assert.ErrorIs(t, err, errs.ErrForbidden)
	assert.Equal(t, 50, claimant.CreditBalance)
}

func TestApproveTask_InvalidRating(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	env.claimAndSubmit(t, task, claimant)

	rating := 6
	_, err := env.engine.ApproveTask(context.Background(), creator.ID, task.ID, &rating, "")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

// ---------------------------------------------------------------------------
// RejectTask
// ---------------------------------------------------------------------------

func TestRejectTask(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	env.claimAndSubmit(t, task, claimant)

	out, err := env.engine.RejectTask(context.Background(), creator.ID, task.ID, "incomplete")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRejected, out.Status)
	assert.Equal(t, "incomplete", out.RejectionReason)

	// No credit movement on reject.
	assert.Equal(t, 70, creator.CreditBalance)
	assert.Equal(t, 50, claimant.CreditBalance)
	assert.Empty(t, env.ledger.byType(models.EntryTaskEarning))
	assert.Empty(t, env.ledger.byType(models.EntryEscrowRefund))
}

func TestRejectTask_RequiresReason(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	env.claimAndSubmit(t, task, claimant)

	_, err := env.engine.RejectTask(context.Background(), creator.ID, task.ID, "")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestRejectThenApproveInvalid(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	env.claimAndSubmit(t, task, claimant)

	_, err := env.engine.RejectTask(context.Background(), creator.ID, task.ID, "redo")
	require.NoError(t, err)

	// The approve/reject race resolves through the conditional update:
	// once rejected, approve re-checks and fails.
	_, err = env.engine.ApproveTask(context.Background(), creator.ID, task.ID, nil, "")
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	assert.Equal(t, 50, claimant.CreditBalance)
}

// ---------------------------------------------------------------------------
// CancelTask / DeleteTask
// ---------------------------------------------------------------------------

func TestCancelTask_RefundsWhileOpen(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(50)
	task := env.openTask(t, creator, 20)
	assert.Equal(t, 30, creator.CreditBalance)

	out, err := env.engine.CancelTask(context.Background(), creator.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, out.Status)
	assert.Equal(t, 50, creator.CreditBalance)

	refunds := env.ledger.byType(models.EntryEscrowRefund)
	require.Len(t, refunds, 1)
	assert.Equal(t, 20, refunds[0].Amount)
}

func TestCancelTask_RefundsWhileClaimed(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	_, err := env.engine.ClaimTask(context.Background(), claimant.ID, task.ID)
	require.NoError(t, err)

	_, err = env.engine.CancelTask(context.Background(), creator.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, creator.CreditBalance)
	assert.Equal(t, 50, claimant.CreditBalance)
}

func TestCancelTask_AfterSubmitInvalid(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	env.claimAndSubmit(t, task, claimant)

	_, err := env.engine.CancelTask(context.Background(), creator.ID, task.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	assert.Equal(t, 70, creator.CreditBalance)
}

func TestCancelTask_NotCreatorForbidden(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	other := env.accounts.add(50)
	task := env.openTask(t, creator, 30)

	_, err := env.engine.CancelTask(context.Background(), other.ID, task.ID)
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestDeleteTask_OpenUnclaimed(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(50)
	task := env.openTask(t, creator, 20)

	err := env.engine.DeleteTask(context.Background(), creator.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, creator.CreditBalance)

	_, err = env.tasks.GetByID(context.Background(), task.ID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestDeleteTask_ClaimedInvalid(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	_, err := env.engine.ClaimTask(context.Background(), claimant.ID, task.ID)
	require.NoError(t, err)

	err = env.engine.DeleteTask(context.Background(), creator.ID, task.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	stored, getErr := env.tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.TaskStatusClaimed, stored.Status)
	assert.Equal(t, 70, creator.CreditBalance)
}

// ---------------------------------------------------------------------------
// CompleteOffline
// ---------------------------------------------------------------------------

func TestCompleteOffline(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	_, err := env.engine.ClaimTask(context.Background(), claimant.ID, task.ID)
	require.NoError(t, err)

	out, err := env.engine.CompleteOffline(context.Background(), claimant.ID, task.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSubmitted, out.Status)
	require.NotNil(t, out.Submission)
	assert.Equal(t, "Completed offline", out.Submission.Content)

	// Payout still flows through approve.
	assert.Equal(t, 50, claimant.CreditBalance)
	_, err = env.engine.ApproveTask(context.Background(), creator.ID, task.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 80, claimant.CreditBalance)
}

func TestCompleteOffline_CreatorForbidden(t *testing.T) {
	env := newTestEnv(t)
	creator := env.accounts.add(100)
	claimant := env.accounts.add(50)
	task := env.openTask(t, creator, 30)
	_, err := env.engine.ClaimTask(context.Background(), claimant.ID, task.ID)
	require.NoError(t, err)

	_, err = env.engine.CompleteOffline(context.Background(), creator.ID, task.ID, "")
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

// ---------------------------------------------------------------------------
// Conservation
// ---------------------------------------------------------------------------

// Every task that reaches open triggers exactly one terminal credit
// movement: the escrow either transfers to the claimant or refunds to the
// creator, never both and never neither.
func TestCreditConservation(t *testing.T) {
	env := newTestEnv(t)
	a := env.accounts.add(100)
	b := env.accounts.add(50)

	// Task 1: approved, escrow transfers to B.
	t1 := env.openTask(t, a, 30)
	env.claimAndSubmit(t, t1, b)
	rating := 5
	_, err := env.engine.ApproveTask(context.Background(), a.ID, t1.ID, &rating, "")
	require.NoError(t, err)

	// Task 2: cancelled while open, escrow refunds to A.
	t2 := env.openTask(t, a, 20)
	_, err = env.engine.CancelTask(context.Background(), a.ID, t2.ID)
	require.NoError(t, err)

	// Task 3: deleted while open, escrow refunds to A.
	t3 := env.openTask(t, a, 10)
	require.NoError(t, env.engine.DeleteTask(context.Background(), a.ID, t3.ID))

	assert.Equal(t, 70, a.CreditBalance)  // only task 1's escrow left A for good
	assert.Equal(t, 80, b.CreditBalance)  // B earned exactly task 1's escrow
	assert.Equal(t, 1, b.TasksCompleted)

	assert.Len(t, env.ledger.byType(models.EntryEscrowLock), 3)
	assert.Len(t, env.ledger.byType(models.EntryTaskEarning), 1)
	assert.Len(t, env.ledger.byType(models.EntryEscrowRefund), 2)
}

func TestFoldRating(t *testing.T) {
	cases := []struct {
		oldRating float64
		oldCount  int
		rating    int
		want      float64
		wantCount int
	}{
		{0, 0, 5, 5, 1},
		{4.0, 2, 5, 4.33, 3},
		{4.33, 3, 1, 3.5, 4},
		{5, 1, 5, 5, 2},
	}
	for _, c := range cases {
		got, count := foldRating(c.oldRating, c.oldCount, c.rating)
		assert.InDelta(t, c.want, got, 0.001)
		assert.Equal(t, c.wantCount, count)
	}
}
