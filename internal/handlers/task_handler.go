package handlers

import (
	"context"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/credbuzz/backend/internal/middleware"
	"github.com/credbuzz/backend/internal/models"
	"github.com/credbuzz/backend/internal/repository"
	"github.com/credbuzz/backend/internal/services"
	"github.com/credbuzz/backend/internal/storage"
)

const maxUploadBytes = 32 << 20

// LifecycleEngine is the task state machine surface the handler calls.
type LifecycleEngine interface {
	CreateTask(ctx context.Context, actorID uuid.UUID, spec services.CreateTaskSpec) (*models.Task, error)
	ClaimTask(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error)
	SubmitTask(ctx context.Context, actorID, taskID uuid.UUID, content string, files []string) (*models.Task, error)
	ApproveTask(ctx context.Context, actorID, taskID uuid.UUID, rating *int, comment string) (*models.Task, error)
	RejectTask(ctx context.Context, actorID, taskID uuid.UUID, reason string) (*models.Task, error)
	CancelTask(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error)
	DeleteTask(ctx context.Context, actorID, taskID uuid.UUID) error
	CompleteOffline(ctx context.Context, actorID, taskID uuid.UUID, note string) (*models.Task, error)
}

// TaskReader is the read-only task store surface for listing endpoints.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context, f repository.ListFilter) ([]*models.Task, error)
}

// TaskHandler serves /api/tasks.
type TaskHandler struct {
	Engine LifecycleEngine
	Tasks  TaskReader
	Blobs  storage.BlobStore
	Logger *slog.Logger
}

type createTaskRequest struct {
	Title          string    `json:"title" validate:"required,max=100"`
	Description    string    `json:"description" validate:"required,max=1000"`
	Category       string    `json:"category" validate:"required"`
	Skills         []string  `json:"skills"`
	EstimatedHours int       `json:"estimated_hours" validate:"required,min=1"`
	Deadline       time.Time `json:"deadline" validate:"required"`
	CreditAmount   int       `json:"credit_amount" validate:"required,min=1"`
}

// CreateTask handles POST /api/tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := h.Engine.CreateTask(r.Context(), acc.ID, services.CreateTaskSpec{
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		Skills:         req.Skills,
		EstimatedHours: req.EstimatedHours,
		Deadline:       req.Deadline,
		CreditAmount:   req.CreditAmount,
	})
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// ListTasks handles GET /api/tasks with optional filters: status,
// category, skill, q (free text), user (involving as creator or claimant).
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.ListFilter{
		Status:   q.Get("status"),
		Category: q.Get("category"),
		Skill:    q.Get("skill"),
		Search:   q.Get("q"),
	}
	if raw := q.Get("user"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid user id"))
			return
		}
		f.Involving = id
	}
	tasks, err := h.Tasks.List(r.Context(), f)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", "task not found"))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ClaimTask handles PUT /api/tasks/{id}/claim.
func (h *TaskHandler) ClaimTask(w http.ResponseWriter, r *http.Request) {
	h.engineOp(w, r, func(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error) {
		return h.Engine.ClaimTask(ctx, actorID, taskID)
	})
}

// SubmitTask handles PUT /api/tasks/{id}/submit. Multipart bodies carry
// the content field plus any number of "files" parts; plain JSON bodies
// carry content only.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.actor(w, r)
	if !ok {
		return
	}
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}

	var content string
	var files []string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("validation_error", "invalid multipart body"))
			return
		}
		content = r.FormValue("content")
		var err error
		files, err = h.storeUploads(r.Context(), r.MultipartForm.File["files"])
		if err != nil {
			h.Logger.Error("store uploads", "task_id", taskID, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody("internal", "failed to store files"))
			return
		}
	} else {
		var req struct {
			Content string `json:"content" validate:"required"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		content = req.Content
	}

	task, err := h.Engine.SubmitTask(r.Context(), acc.ID, taskID, content, files)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type approveTaskRequest struct {
	Rating  *int   `json:"rating" validate:"omitempty,min=1,max=5"`
	Comment string `json:"comment" validate:"max=1000"`
}

// ApproveTask handles PUT /api/tasks/{id}/approve.
func (h *TaskHandler) ApproveTask(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.actor(w, r)
	if !ok {
		return
	}
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	req := approveTaskRequest{}
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	task, err := h.Engine.ApproveTask(r.Context(), acc.ID, taskID, req.Rating, req.Comment)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type rejectTaskRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// RejectTask handles PUT /api/tasks/{id}/reject.
func (h *TaskHandler) RejectTask(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.actor(w, r)
	if !ok {
		return
	}
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	var req rejectTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := h.Engine.RejectTask(r.Context(), acc.ID, taskID, req.Reason)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// CancelTask handles PUT /api/tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	h.engineOp(w, r, func(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error) {
		return h.Engine.CancelTask(ctx, actorID, taskID)
	})
}

// CompleteOffline handles PUT /api/tasks/{id}/complete-offline.
func (h *TaskHandler) CompleteOffline(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.actor(w, r)
	if !ok {
		return
	}
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	req := struct {
		Note string `json:"note" validate:"max=1000"`
	}{}
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	task, err := h.Engine.CompleteOffline(r.Context(), acc.ID, taskID, req.Note)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.actor(w, r)
	if !ok {
		return
	}
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteTask(r.Context(), acc.ID, taskID); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func (h *TaskHandler) actor(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthenticated", "missing account"))
		return nil, false
	}
	return acc, true
}

func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", "invalid task id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *TaskHandler) engineOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error)) {
	acc, ok := h.actor(w, r)
	if !ok {
		return
	}
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	task, err := op(r.Context(), acc.ID, taskID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) storeUploads(ctx context.Context, headers []*multipart.FileHeader) ([]string, error) {
	var refs []string
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		ref, err := h.Blobs.Save(ctx, fh.Filename, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
