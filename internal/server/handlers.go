package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/selection"
	"github.com/leapstack-labs/datamanager/internal/state"
	"github.com/leapstack-labs/datamanager/internal/views"
)

// ActionDeleteTasks removes the selected tasks.
const ActionDeleteTasks = "delete_tasks"

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, state.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Detail: err.Error()})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return n, nil
}

// projectID reads the project from the path or the query string, falling
// back to the server default.
func (s *Server) projectID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "project")
	if raw == "" {
		raw = r.URL.Query().Get("project")
	}
	if raw == "" {
		return s.Project(), nil
	}
	return parseID(raw, "project")
}

type projectResponse struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	TaskNumber  int    `json:"task_number"`
	LabelConfig string `json:"label_config,omitempty"`
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := s.projectID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.store.QueryRecords(r.Context(), columns.TargetTasks, state.Query{Project: id, PageSize: 1})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse{ID: p.ID, Title: p.Title, TaskNumber: page.Total, LabelConfig: p.LabelConfig})
}

func (s *Server) listColumns(w http.ResponseWriter, r *http.Request) {
	project, err := s.projectID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cols, err := s.store.ListColumns(r.Context(), project)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": nonNilRaw(cols)})
}

// viewRecord renders a stored view in the configured payload shape.
func (s *Server) viewRecord(v state.View) (any, error) {
	var snap views.Snapshot
	if err := json.Unmarshal(v.Data, &snap); err != nil {
		return nil, fmt.Errorf("stored view %d: %w", v.ID, err)
	}
	return views.Payload(s.version, v.ID, v.Project, snap), nil
}

func (s *Server) listViews(w http.ResponseWriter, r *http.Request) {
	project, err := s.projectID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stored, err := s.store.ListViews(r.Context(), project)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tabs := make([]any, 0, len(stored))
	for _, v := range stored {
		rec, err := s.viewRecord(v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		tabs = append(tabs, rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabs": tabs})
}

func (s *Server) writeView(w http.ResponseWriter, r *http.Request, status int, v state.View) {
	rec, err := s.viewRecord(v)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, rec)
}

func (s *Server) getView(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), "view id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.store.GetView(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeView(w, r, http.StatusOK, v)
}

// decodeView reads a view record of either payload shape.
func decodeView(r *http.Request) (views.ServerView, json.RawMessage, error) {
	var sv views.ServerView
	if err := json.NewDecoder(r.Body).Decode(&sv); err != nil {
		return views.ServerView{}, nil, badRequest("%v", err)
	}
	data, err := json.Marshal(sv.Snapshot)
	if err != nil {
		return views.ServerView{}, nil, err
	}
	return sv, data, nil
}

func (s *Server) createView(w http.ResponseWriter, r *http.Request) {
	sv, data, err := decodeView(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	project := sv.Project
	if project == 0 {
		if project, err = s.projectID(r); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	v, err := s.store.CreateView(r.Context(), project, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeView(w, r, http.StatusCreated, v)
}

func (s *Server) updateView(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), "view id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_, data, err := decodeView(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.store.UpdateView(r.Context(), id, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeView(w, r, http.StatusOK, v)
}

func (s *Server) deleteView(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), "view id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteView(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type orderRequest struct {
	Project int64   `json:"project"`
	IDs     []int64 `json:"ids"`
}

func (s *Server) orderViews(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	if req.Project == 0 {
		var err error
		if req.Project, err = s.projectID(r); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := s.store.OrderViews(r.Context(), req.Project, req.IDs); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": req.IDs})
}

// recordQuery builds a store query from the request. Rows are narrowed by a
// stored view ("view") or by an inline virtual view query ("query").
func (s *Server) recordQuery(r *http.Request) (state.Query, error) {
	project, err := s.projectID(r)
	if err != nil {
		return state.Query{}, err
	}
	q := state.Query{Project: project}
	if q.Page, err = intParam(r, "page", 1); err != nil {
		return state.Query{}, err
	}
	if q.PageSize, err = intParam(r, "page_size", 0); err != nil {
		return state.Query{}, err
	}

	params := r.URL.Query()
	switch {
	case params.Get("query") != "":
		var vq views.Query
		if err := json.Unmarshal([]byte(params.Get("query")), &vq); err != nil {
			return state.Query{}, badRequest("invalid query: %v", err)
		}
		applyFilters(&q, vq.Filters, vq.Ordering)
	case params.Get("view") != "":
		id, err := parseID(params.Get("view"), "view")
		if err != nil {
			return state.Query{}, err
		}
		if err := s.applyView(r, &q, id); err != nil {
			return state.Query{}, err
		}
	}
	return q, nil
}

func (s *Server) applyView(r *http.Request, q *state.Query, id int64) error {
	v, err := s.store.GetView(r.Context(), id)
	if err != nil {
		return err
	}
	var snap views.Snapshot
	if err := json.Unmarshal(v.Data, &snap); err != nil {
		return fmt.Errorf("stored view %d: %w", id, err)
	}
	applyFilters(q, snap.Filters, snap.Ordering)
	return nil
}

func applyFilters(q *state.Query, fs views.FilterSet, ordering []string) {
	q.Conjunction = string(fs.Conjunction)
	q.Filters = fs.Items
	q.Ordering = ordering
}

func (s *Server) listRecords(target columns.Target) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := s.recordQuery(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		page, err := s.store.QueryRecords(r.Context(), target, q)
		if err != nil {
			s.writeError(w, r, badRequest("%v", err))
			return
		}
		if interaction := r.URL.Query().Get("interaction"); interaction != "" {
			s.logger.Debug("records fetched", "target", target, "interaction", interaction, "total", page.Total)
		}
		rows := make([]json.RawMessage, 0, len(page.Records))
		for _, rec := range page.Records {
			rows = append(rows, rec.Data)
		}
		writeJSON(w, http.StatusOK, map[string]any{string(target): rows, "total": page.Total})
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "taskID"), "task id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.store.GetRecord(r.Context(), columns.TargetTasks, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Data)
}

func (s *Server) nextTask(w http.ResponseWriter, r *http.Request) {
	q, err := s.recordQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.store.NextTask(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Data)
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	project, err := s.projectID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	actions, err := s.store.ListActions(r.Context(), project)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilRaw(actions))
}

type actionRequest struct {
	SelectedItems selection.Payload `json:"selectedItems"`
	Filters       *views.FilterSet  `json:"filters"`
	Ordering      []string          `json:"ordering"`
}

type actionResponse struct {
	Action         string `json:"action"`
	ProcessedItems int64  `json:"processed_items"`
}

func (s *Server) invokeAction(w http.ResponseWriter, r *http.Request) {
	actionID := r.URL.Query().Get("id")
	if actionID == "" {
		s.writeError(w, r, badRequest("missing action id"))
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}

	project, err := s.projectID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.checkAction(r, project, actionID); err != nil {
		s.writeError(w, r, err)
		return
	}

	ids, err := s.resolveSelection(r, project, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	processed := int64(len(ids))
	if actionID == ActionDeleteTasks {
		if processed, err = s.store.DeleteRecords(r.Context(), columns.TargetTasks, project, ids); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.logger.Info("action invoked", "action", actionID, "project", project, "items", processed)
	writeJSON(w, http.StatusOK, actionResponse{Action: actionID, ProcessedItems: processed})
}

// checkAction reports ErrNotFound for actions the project does not offer.
func (s *Server) checkAction(r *http.Request, project int64, actionID string) error {
	actions, err := s.store.ListActions(r.Context(), project)
	if err != nil {
		return err
	}
	for _, raw := range actions {
		var a struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &a) == nil && a.ID == actionID {
			return nil
		}
	}
	return fmt.Errorf("action %q: %w", actionID, state.ErrNotFound)
}

// resolveSelection expands the selection payload to task ids. "All" means
// every task the request's filters match, minus the excluded ids.
func (s *Server) resolveSelection(r *http.Request, project int64, req actionRequest) ([]int64, error) {
	sel := req.SelectedItems
	if !sel.All {
		return slices.Clone(sel.Included), nil
	}

	q := state.Query{Project: project}
	switch {
	case req.Filters != nil:
		applyFilters(&q, *req.Filters, req.Ordering)
	case r.URL.Query().Get("tabID") != "":
		id, err := parseID(r.URL.Query().Get("tabID"), "tabID")
		if err != nil {
			return nil, err
		}
		if err := s.applyView(r, &q, id); err != nil {
			return nil, err
		}
	}
	page, err := s.store.QueryRecords(r.Context(), columns.TargetTasks, q)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	ids := make([]int64, 0, len(page.Records))
	for _, rec := range page.Records {
		if !slices.Contains(sel.Excluded, rec.ID) {
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

func nonNilRaw(list []json.RawMessage) []json.RawMessage {
	if list == nil {
		return []json.RawMessage{}
	}
	return list
}
