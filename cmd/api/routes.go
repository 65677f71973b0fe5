package main

import (
	"net/http"

	"github.com/credbuzz/backend/internal/auth"
	"github.com/credbuzz/backend/internal/handlers"
)

// RegisterRoutes adds the /api endpoints to the mux. Write operations go
// through BearerAuth; task and user reads are public.
func RegisterRoutes(
	mux *http.ServeMux,
	authHandler *auth.Handler,
	taskHandler *handlers.TaskHandler,
	userHandler *handlers.UserHandler,
	requireAuth func(http.Handler) http.Handler,
) {
	protect := func(h http.HandlerFunc) http.Handler {
		return requireAuth(h)
	}

	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.Handle("GET /api/auth/me", protect(authHandler.Me))
	mux.HandleFunc("POST /api/auth/forgot-password", authHandler.ForgotPassword)
	mux.HandleFunc("POST /api/auth/reset-password", authHandler.ResetPassword)

	mux.HandleFunc("GET /api/users", userHandler.ListUsers)
	mux.HandleFunc("GET /api/users/{id}", userHandler.GetUser)
	mux.Handle("PUT /api/users/profile", protect(userHandler.UpdateProfile))
	mux.Handle("GET /api/transactions", protect(userHandler.ListTransactions))

	mux.HandleFunc("GET /api/tasks", taskHandler.ListTasks)
	mux.HandleFunc("GET /api/tasks/{id}", taskHandler.GetTask)
	mux.Handle("POST /api/tasks", protect(taskHandler.CreateTask))
	mux.Handle("PUT /api/tasks/{id}/claim", protect(taskHandler.ClaimTask))
	mux.Handle("PUT /api/tasks/{id}/submit", protect(taskHandler.SubmitTask))
	mux.Handle("PUT /api/tasks/{id}/approve", protect(taskHandler.ApproveTask))
	mux.Handle("PUT /api/tasks/{id}/reject", protect(taskHandler.RejectTask))
	mux.Handle("PUT /api/tasks/{id}/cancel", protect(taskHandler.CancelTask))
	mux.Handle("PUT /api/tasks/{id}/complete-offline", protect(taskHandler.CompleteOffline))
	mux.Handle("DELETE /api/tasks/{id}", protect(taskHandler.DeleteTask))
}
