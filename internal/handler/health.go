package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/settleworks/paygate/internal/logging"
)

type HealthHandler struct {
	db *sql.DB
}

func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Live reports process liveness only; it never touches dependencies.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	RespondSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready pings the database. Provider reachability is deliberately not
// checked: the service keeps accepting payments and webhooks while a
// provider is down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		logging.FromContext(r.Context()).Error("readiness check failed", "error", err)
		RespondAppError(w, &AppError{
			Status:  http.StatusServiceUnavailable,
			Code:    "NOT_READY",
			Message: "Database unreachable",
		}, nil)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}
