package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"airquality-node/internal/utils"
)

type healthchecker struct {
	db        *sql.DB
	connected func() bool
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	var ok int
	if err := h.db.QueryRowContext(r.Context(), `SELECT 1`).Scan(&ok); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}

	body := map[string]any{"status": "ok"}
	if h.connected != nil {
		body["link"] = h.connected()
	}
	utils.WriteJSON(w, http.StatusOK, body)
}

func registerHealthcheck(mux *http.ServeMux, db *sql.DB, connected func() bool) {
	h := &healthchecker{db: db, connected: connected}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}

// Ping is used by startup to fail fast on an unusable database.
func Ping(ctx context.Context, db *sql.DB) error {
	var ok int
	return db.QueryRowContext(ctx, `SELECT 1`).Scan(&ok)
}
