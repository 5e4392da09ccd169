package dashboard

import (
	"bytes"
	"errors"
	"html/template"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"airquality-node/internal/history"
	"airquality-node/internal/maintenance"
	"airquality-node/internal/utils"
)

// Deps are the collaborators behind the dashboard routes.
type Deps struct {
	Hub       *Hub
	History   func() iter.Seq[history.Entry]
	Status    func() Status
	Gate      *maintenance.Gate
	Restart   func()
	StaticDir string
	Page      PageData
}

type Controller struct {
	deps     Deps
	fallback *template.Template
}

func NewController(deps Deps) (*Controller, error) {
	tmpl, err := LoadTemplates()
	if err != nil {
		return nil, err
	}
	return &Controller{deps: deps, fallback: tmpl}, nil
}

func (c *Controller) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", c.deps.Hub.ServeWS)
	mux.HandleFunc("GET /api/status", c.handleStatus)
	mux.HandleFunc("GET /api/history", c.handleHistory)
	mux.HandleFunc("POST /api/reset", c.handleReset)
	mux.HandleFunc("POST /api/maintenance/{action}", c.handleMaintenance)
	mux.HandleFunc("GET /", c.handleStatic)
}

func (c *Controller) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, c.deps.Status())
}

func (c *Controller) handleHistory(w http.ResponseWriter, r *http.Request) {
	body, err := EncodeHistory(c.deps.History())
	if err != nil {
		slog.Error("encode history", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to encode history")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (c *Controller) handleReset(w http.ResponseWriter, r *http.Request) {
	utils.WriteText(w, http.StatusOK, "Device resetting...")
	if c.deps.Restart != nil {
		slog.Warn("device reset requested", "remote", r.RemoteAddr)
		c.deps.Restart()
	}
}

func (c *Controller) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if c.deps.Gate == nil {
		utils.WriteError(w, http.StatusNotFound, "maintenance is not available")
		return
	}

	var err error
	switch action := r.PathValue("action"); action {
	case "begin":
		purpose := r.URL.Query().Get("purpose")
		if purpose == "" {
			purpose = "firmware-update"
		}
		err = c.deps.Gate.Begin(r.Context(), purpose)
	case "end":
		err = c.deps.Gate.End(r.Context())
	case "abort":
		err = c.deps.Gate.Abort(r.Context())
	default:
		utils.WriteError(w, http.StatusBadRequest, "unknown maintenance action "+action)
		return
	}

	switch {
	case errors.Is(err, maintenance.ErrAlreadyInProgress), errors.Is(err, maintenance.ErrNotInProgress):
		utils.WriteError(w, http.StatusConflict, err.Error())
	case err != nil:
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
	default:
		utils.WriteJSON(w, http.StatusOK, map[string]bool{"maintenance": c.deps.Gate.InProgress()})
	}
}

// handleStatic serves STATIC_DIR. "/" maps to index.html, falling back to the
// embedded page when the directory has none.
func (c *Controller) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	if name == "/" {
		name = "/index.html"
	}

	if c.deps.StaticDir != "" {
		full := filepath.Join(c.deps.StaticDir, filepath.FromSlash(name))
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			http.ServeFile(w, r, full)
			return
		}
	}

	if name == "/index.html" {
		var buf bytes.Buffer
		if err := renderIndex(c.fallback, &buf, c.deps.Page); err != nil {
			slog.Error("render fallback dashboard", "error", err)
			utils.WriteError(w, http.StatusInternalServerError, "failed to render dashboard")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
		return
	}

	utils.WriteText(w, http.StatusNotFound, "Not found")
}
