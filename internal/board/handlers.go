package board

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/planhub/backend/internal/auth"
	"github.com/planhub/backend/internal/events"
	"github.com/planhub/backend/internal/httputil"
)

// Handlers provides the board HTTP endpoints.
type Handlers struct {
	svc    *Service
	events *events.Store
}

func NewHandlers(svc *Service, eventStore *events.Store) *Handlers {
	return &Handlers{svc: svc, events: eventStore}
}

// RegisterRoutes wires the authenticated board endpoints.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/events/{id}/board", h.Board).Methods("GET")
	r.HandleFunc("/api/events/{id}/progress", h.Progress).Methods("GET")
	r.HandleFunc("/api/events/{id}/tasklists", h.CreateList).Methods("POST")
	r.HandleFunc("/api/events/{id}/tasklists", h.ListLists).Methods("GET")
	r.HandleFunc("/api/events/{id}/tasklists/reorder", h.ReorderLists).Methods("POST")
	r.HandleFunc("/api/tasklists/{id}", h.UpdateList).Methods("PATCH", "PUT")
	r.HandleFunc("/api/tasklists/{id}", h.DeleteList).Methods("DELETE")
	r.HandleFunc("/api/tasklists/{id}/tasks", h.CreateTask).Methods("POST")
	r.HandleFunc("/api/tasklists/{id}/tasks", h.ListTasks).Methods("GET")
	r.HandleFunc("/api/tasklists/{id}/tasks/reorder", h.ReorderTasks).Methods("POST")
	r.HandleFunc("/api/tasks/{id}", h.UpdateTask).Methods("PATCH", "PUT")
	r.HandleFunc("/api/tasks/{id}", h.DeleteTask).Methods("DELETE")
	r.HandleFunc("/api/tasks/{id}/status", h.SetStatus).Methods("POST")
	r.HandleFunc("/api/tasks/{id}/assign", h.Assign).Methods("POST")
	r.HandleFunc("/api/tasks/{id}/take", h.Take).Methods("POST")
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

// requireRole checks the caller's role in the event against the action.
func (h *Handlers) requireRole(w http.ResponseWriter, r *http.Request, eventID int64, action events.Action) (*auth.Claims, events.Role, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return nil, events.RoleNone, false
	}
	role, err := h.events.RoleOf(r.Context(), eventID, claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return nil, events.RoleNone, false
	}
	d := events.Authorize(events.Principal{UserID: claims.UserID, Role: role}, nil, action)
	if !d.Allow {
		if d.Code == "not_found" {
			httputil.WriteError(w, http.StatusNotFound, "event not found")
		} else {
			httputil.WriteCode(w, http.StatusForbidden, d.Code, "insufficient role")
		}
		return nil, role, false
	}
	return claims, role, true
}

func writeBoardError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.WriteCode(w, http.StatusBadRequest, verr.Code, verr.Message)
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrAlreadyAssigned):
		httputil.WriteCode(w, http.StatusConflict, "already_assigned", "task is already assigned")
	default:
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// Board returns the full refresh payload: the event, its participants and
// the ordered lists with their ordered tasks.
func (h *Handlers) Board(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	_, role, ok := h.requireRole(w, r, eventID, events.ActionView)
	if !ok {
		return
	}

	event, err := h.events.Get(r.Context(), eventID)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	event.MyRole = role
	participants, _, err := h.events.ListParticipants(r.Context(), eventID, events.ParticipantListParams{PageSize: 100})
	if err != nil {
		writeBoardError(w, err)
		return
	}
	snapshot, err := h.svc.Store().SnapshotForEvent(r.Context(), eventID)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"event":        event,
		"participants": participants,
		"lists":        snapshot.Lists,
	})
}

func (h *Handlers) Progress(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, _, ok := h.requireRole(w, r, eventID, events.ActionView); !ok {
		return
	}
	progress, err := h.svc.Progress(r.Context(), eventID)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, progress)
}

type listInput struct {
	Title string `json:"title"`
}

func (h *Handlers) CreateList(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, _, ok := h.requireRole(w, r, eventID, events.ActionManage); !ok {
		return
	}
	var in listInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Title == "" {
		httputil.WriteFieldErrors(w, map[string][]string{"title": {"title is required"}})
		return
	}
	list, err := h.svc.CreateList(r.Context(), eventID, in.Title)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, list)
}

func (h *Handlers) ListLists(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, _, ok := h.requireRole(w, r, eventID, events.ActionView); !ok {
		return
	}
	lists, err := h.svc.Store().ListsForEvent(r.Context(), eventID)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, lists)
}

// resolveList loads the list and checks the caller against its event.
func (h *Handlers) resolveList(w http.ResponseWriter, r *http.Request, action events.Action) (*TaskList, *auth.Claims, bool) {
	listID, ok := pathID(w, r, "id")
	if !ok {
		return nil, nil, false
	}
	list, err := h.svc.Store().GetList(r.Context(), listID)
	if err != nil {
		writeBoardError(w, err)
		return nil, nil, false
	}
	claims, _, ok := h.requireRole(w, r, list.EventID, action)
	if !ok {
		return nil, nil, false
	}
	return list, claims, true
}

func (h *Handlers) UpdateList(w http.ResponseWriter, r *http.Request) {
	list, _, ok := h.resolveList(w, r, events.ActionManage)
	if !ok {
		return
	}
	var in listInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Title == "" {
		httputil.WriteFieldErrors(w, map[string][]string{"title": {"title is required"}})
		return
	}
	updated, err := h.svc.UpdateList(r.Context(), list.EventID, list.ID, in.Title)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handlers) DeleteList(w http.ResponseWriter, r *http.Request) {
	list, _, ok := h.resolveList(w, r, events.ActionManage)
	if !ok {
		return
	}
	if err := h.svc.DeleteList(r.Context(), list.EventID, list.ID); err != nil {
		writeBoardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reorderInput struct {
	OrderedIDs []int64 `json:"ordered_ids"`
}

func (h *Handlers) ReorderLists(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, _, ok := h.requireRole(w, r, eventID, events.ActionManage); !ok {
		return
	}
	var in reorderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.OrderedIDs == nil {
		httputil.WriteFieldErrors(w, map[string][]string{"ordered_ids": {"ordered_ids is required"}})
		return
	}
	if err := h.svc.ReorderLists(r.Context(), eventID, in.OrderedIDs); err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"ordered_ids": in.OrderedIDs})
}

type taskInputJSON struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	StartAt     *time.Time `json:"start_at"`
	DueAt       *time.Time `json:"due_at"`
	DependsOn   []int64    `json:"depends_on"`
}

func validateDates(startAt, dueAt *time.Time) map[string][]string {
	if startAt != nil && dueAt != nil && dueAt.Before(*startAt) {
		return map[string][]string{"due_at": {"due_at must not be before start_at"}}
	}
	return nil
}

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	list, _, ok := h.resolveList(w, r, events.ActionView)
	if !ok {
		return
	}
	var in taskInputJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.Title == nil || *in.Title == "" {
		httputil.WriteFieldErrors(w, map[string][]string{"title": {"title is required"}})
		return
	}
	if fields := validateDates(in.StartAt, in.DueAt); fields != nil {
		httputil.WriteFieldErrors(w, fields)
		return
	}

	input := TaskInput{Title: *in.Title, StartAt: in.StartAt, DueAt: in.DueAt, DependsOn: in.DependsOn}
	if in.Description != nil {
		input.Description = *in.Description
	}
	task, err := h.svc.CreateTask(r.Context(), list.EventID, list.ID, input)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, task)
}

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	list, _, ok := h.resolveList(w, r, events.ActionView)
	if !ok {
		return
	}
	tasks, err := h.svc.Store().TasksForList(r.Context(), list.ID)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) ReorderTasks(w http.ResponseWriter, r *http.Request) {
	list, _, ok := h.resolveList(w, r, events.ActionManage)
	if !ok {
		return
	}
	var in reorderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.OrderedIDs == nil {
		httputil.WriteFieldErrors(w, map[string][]string{"ordered_ids": {"ordered_ids is required"}})
		return
	}
	if err := h.svc.ReorderTasks(r.Context(), list.EventID, list.ID, in.OrderedIDs); err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"ordered_ids": in.OrderedIDs})
}

// resolveTask loads the task, its event and checks the caller's role.
func (h *Handlers) resolveTask(w http.ResponseWriter, r *http.Request, action events.Action) (*Task, int64, *auth.Claims, bool) {
	taskID, ok := pathID(w, r, "id")
	if !ok {
		return nil, 0, nil, false
	}
	eventID, _, err := h.svc.Store().EventIDForTask(r.Context(), taskID)
	if err != nil {
		writeBoardError(w, err)
		return nil, 0, nil, false
	}
	claims, _, ok := h.requireRole(w, r, eventID, action)
	if !ok {
		return nil, 0, nil, false
	}
	task, err := h.svc.Store().GetTask(r.Context(), taskID)
	if err != nil {
		writeBoardError(w, err)
		return nil, 0, nil, false
	}
	return task, eventID, claims, true
}

func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	task, eventID, _, ok := h.resolveTask(w, r, events.ActionView)
	if !ok {
		return
	}
	var in taskInputJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	input := TaskInput{
		Title:       task.Title,
		Description: task.Description,
		StartAt:     task.StartAt,
		DueAt:       task.DueAt,
		DependsOn:   task.DependsOn,
	}
	if in.Title != nil {
		if *in.Title == "" {
			httputil.WriteFieldErrors(w, map[string][]string{"title": {"title must not be empty"}})
			return
		}
		input.Title = *in.Title
	}
	if in.Description != nil {
		input.Description = *in.Description
	}
	if in.StartAt != nil {
		input.StartAt = in.StartAt
	}
	if in.DueAt != nil {
		input.DueAt = in.DueAt
	}
	if in.DependsOn != nil {
		input.DependsOn = in.DependsOn
	}
	if fields := validateDates(input.StartAt, input.DueAt); fields != nil {
		httputil.WriteFieldErrors(w, fields)
		return
	}

	updated, err := h.svc.UpdateTask(r.Context(), eventID, task.ID, input)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	task, eventID, _, ok := h.resolveTask(w, r, events.ActionView)
	if !ok {
		return
	}
	if err := h.svc.DeleteTask(r.Context(), eventID, task.ListID, task.ID); err != nil {
		writeBoardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetStatus is allowed for organizers and for the task's assignee.
func (h *Handlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	task, eventID, claims, ok := h.resolveTask(w, r, events.ActionView)
	if !ok {
		return
	}

	role, err := h.events.RoleOf(r.Context(), eventID, claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if role != events.RoleOrganizer {
		pid, err := h.events.ParticipantID(r.Context(), eventID, claims.UserID)
		if err != nil || task.AssigneeID == nil || *task.AssigneeID != pid {
			httputil.WriteCode(w, http.StatusForbidden, "forbidden", "only organizers or the assignee can change status")
			return
		}
	}

	var in struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.Status != StatusTodo && in.Status != StatusDoing && in.Status != StatusDone {
		httputil.WriteFieldErrors(w, map[string][]string{"status": {"status must be todo, doing or done"}})
		return
	}

	updated, err := h.svc.SetStatus(r.Context(), eventID, task.ID, in.Status)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handlers) Assign(w http.ResponseWriter, r *http.Request) {
	task, eventID, _, ok := h.resolveTask(w, r, events.ActionManage)
	if !ok {
		return
	}
	var in struct {
		Participant *int64 `json:"participant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := h.svc.Assign(r.Context(), eventID, task.ID, in.Participant)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handlers) Take(w http.ResponseWriter, r *http.Request) {
	task, eventID, claims, ok := h.resolveTask(w, r, events.ActionView)
	if !ok {
		return
	}
	pid, err := h.events.ParticipantID(r.Context(), eventID, claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	updated, err := h.svc.Take(r.Context(), eventID, task.ID, pid)
	if err != nil {
		writeBoardError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}
