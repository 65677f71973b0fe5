package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/credbuzz/backend/internal/middleware"
	"github.com/credbuzz/backend/internal/models"
)

// AccountReader is the account store surface for the user directory.
type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	UpdateProfile(ctx context.Context, a *models.Account) error
}

// LedgerReader lists an account's credit ledger entries.
type LedgerReader interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error)
}

// UserHandler serves /api/users and /api/transactions.
type UserHandler struct {
	Accounts AccountReader
	Ledger   LedgerReader
	Logger   *slog.Logger
}

// ListUsers handles GET /api/users.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Accounts.List(r.Context())
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if users == nil {
		users = []*models.Account{}
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUser handles GET /api/users/{id}.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", "invalid user id"))
		return
	}
	acc, err := h.Accounts.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", "user not found"))
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

type updateProfileRequest struct {
	Name   *string   `json:"name" validate:"omitempty,min=1"`
	Bio    *string   `json:"bio" validate:"omitempty,max=500"`
	Skills *[]string `json:"skills"`
	Avatar *string   `json:"avatar" validate:"omitempty,max=255"`
}

// UpdateProfile handles PUT /api/users/profile for the authenticated
// account. Only the supplied fields change.
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthenticated", "missing account"))
		return
	}
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name != nil {
		acc.Name = *req.Name
	}
	if req.Bio != nil {
		acc.Bio = *req.Bio
	}
	if req.Skills != nil {
		acc.Skills = *req.Skills
	}
	if req.Avatar != nil {
		acc.Avatar = *req.Avatar
	}
	if err := h.Accounts.UpdateProfile(r.Context(), acc); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// ListTransactions handles GET /api/transactions for the authenticated
// account.
func (h *UserHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthenticated", "missing account"))
		return
	}
	entries, err := h.Ledger.ListByAccount(r.Context(), acc.ID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if entries == nil {
		entries = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}
