package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/datamanager/internal/columns"
)

// routes registers the Data Manager API. Paths match api.Endpoints.
func (s *Server) routes(router chi.Router) {
	router.Route("/api/projects/{project}", func(r chi.Router) {
		r.Get("/", s.getProject)
		r.Get("/next", s.nextTask)
	})

	router.Route("/api/dm", func(r chi.Router) {
		r.Get("/columns", s.listColumns)

		r.Route("/views", func(r chi.Router) {
			r.Get("/", s.listViews)
			r.Post("/", s.createView)
			r.Post("/order", s.orderViews)
			r.Get("/{id}", s.getView)
			r.Patch("/{id}", s.updateView)
			r.Delete("/{id}", s.deleteView)
		})

		r.Get("/tasks", s.listRecords(columns.TargetTasks))
		r.Get("/tasks/{taskID}", s.getTask)
		r.Get("/annotations", s.listRecords(columns.TargetAnnotations))

		r.Get("/actions", s.listActions)
		r.Post("/actions", s.invokeAction)
	})
}

// authenticate enforces the configured API token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Token "+s.token {
			writeJSON(w, http.StatusUnauthorized, errorBody{Detail: "authentication credentials were not provided"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
