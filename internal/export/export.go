// Package export renders board exports. CSV is always available; the pdf
// and xls formats are feature flags resolved at startup and answer 501
// while no renderer is wired in.
package export

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/planhub/backend/internal/auth"
	"github.com/planhub/backend/internal/board"
	"github.com/planhub/backend/internal/events"
	"github.com/planhub/backend/internal/httputil"
)

// Exporter renders one format of a board snapshot.
type Exporter interface {
	ContentType() string
	Render(w http.ResponseWriter, snapshot *board.Snapshot) error
}

// Handlers provides GET /api/events/{id}/export/{format}.
type Handlers struct {
	boardStore *board.Store
	events     *events.Store
	// exporters maps format names to renderers; missing formats 501.
	exporters map[string]Exporter
}

func NewHandlers(boardStore *board.Store, eventStore *events.Store) *Handlers {
	return &Handlers{
		boardStore: boardStore,
		events:     eventStore,
		exporters: map[string]Exporter{
			"csv": csvExporter{},
		},
	}
}

// RegisterRoutes wires the export endpoints onto an authenticated router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/events/{id}/export/{format}", h.Export).Methods("GET")
}

func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	format := mux.Vars(r)["format"]
	if format != "csv" && format != "pdf" && format != "xls" {
		httputil.WriteError(w, http.StatusNotFound, "unknown export format")
		return
	}

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	isParticipant, err := h.events.IsParticipant(r.Context(), eventID, claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !isParticipant {
		httputil.WriteError(w, http.StatusNotFound, "event not found")
		return
	}

	exporter, ok := h.exporters[format]
	if !ok {
		httputil.WriteError(w, http.StatusNotImplemented, format+" export is not available on this server")
		return
	}

	snapshot, err := h.boardStore.SnapshotForEvent(r.Context(), eventID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to build export")
		return
	}

	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="event-%d-board.%s"`, eventID, format))
	if err := exporter.Render(w, snapshot); err != nil {
		// headers are gone; nothing more to do than log via the caller
		return
	}
}

type csvExporter struct{}

func (csvExporter) ContentType() string { return "text/csv; charset=utf-8" }

func (csvExporter) Render(w http.ResponseWriter, snapshot *board.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"list", "task", "status", "assignee", "start_at", "due_at"}); err != nil {
		return err
	}
	for _, list := range snapshot.Lists {
		for _, t := range list.Tasks {
			assignee := ""
			if t.AssigneeID != nil {
				assignee = strconv.FormatInt(*t.AssigneeID, 10)
			}
			startAt, dueAt := "", ""
			if t.StartAt != nil {
				startAt = t.StartAt.UTC().Format("2006-01-02 15:04")
			}
			if t.DueAt != nil {
				dueAt = t.DueAt.UTC().Format("2006-01-02 15:04")
			}
			if err := cw.Write([]string{list.Title, t.Title, t.Status, assignee, startAt, dueAt}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
