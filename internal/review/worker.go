// Package review runs AI review annotations for submitted tasks as
// background jobs, keeping the oracle call off the submit request path.
package review

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/credbuzz/backend/internal/models"
	"github.com/credbuzz/backend/internal/oracle"
)

// JobArgs identifies the task whose submission needs an annotation.
type JobArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (JobArgs) Kind() string { return "ai_review" }

// TaskStore is the task access the worker needs.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	SetAIReview(ctx context.Context, taskID uuid.UUID, annotation string) error
}

// Worker fetches the submission, asks the oracle for an annotation, and
// stores the result. Oracle failure stores the fallback annotation and
// completes the job: the submission itself already succeeded.
type Worker struct {
	river.WorkerDefaults[JobArgs]
	tasks    TaskStore
	reviewer oracle.Reviewer
	timeout  time.Duration
	log      *slog.Logger
}

func NewWorker(tasks TaskStore, reviewer oracle.Reviewer, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{tasks: tasks, reviewer: reviewer, timeout: 45 * time.Second, log: log}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[JobArgs]) error {
	task, err := w.tasks.GetByID(ctx, job.Args.TaskID)
	if err != nil {
		return err
	}
	if task.Submission == nil || task.Status != models.TaskStatusSubmitted {
		// Resolved (approved/rejected/resubmitted) before we got here.
		w.log.Info("skipping review, task no longer awaiting it", "task_id", task.ID, "status", task.Status)
		return nil
	}

	reviewCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	annotation, err := w.reviewer.Review(reviewCtx, task.Title, task.Description, task.Submission.Content)
	if err != nil {
		w.log.Warn("review oracle failed, storing fallback", "task_id", task.ID, "error", err)
		annotation = models.FallbackReview
	}
	return w.tasks.SetAIReview(ctx, task.ID, annotation)
}
