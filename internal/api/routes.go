package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jobboard/jobboard/internal/apply"
	"github.com/jobboard/jobboard/internal/board"
	"github.com/jobboard/jobboard/internal/config"
	"github.com/jobboard/jobboard/internal/portal"
	"github.com/jobboard/jobboard/internal/refresh"
	"github.com/jobboard/jobboard/internal/ws"
)

// Deps are the components the router serves. Journal, Catalog and Recorder
// are optional.
type Deps struct {
	Config  *config.Config
	Board   *board.Board
	Tracker *apply.Tracker
	Portal  portal.Portal
	Poller  *refresh.Poller
	Feed    *ws.Server
	Logger  *slog.Logger

	Journal  HistoryReader
	Catalog  CatalogEditor
	Recorder portal.StatusRecorder
}

func NewRouter(d Deps) (http.Handler, error) {
	h, err := NewHandlers(d)
	if err != nil {
		return nil, err
	}
	auth := authenticator{secret: []byte(d.Config.JWTSecret)}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/info", h.Info)
	r.Get("/stats", h.Stats)

	r.Route("/api", func(r chi.Router) {
		// Jobs
		r.With(auth.optional).Get("/jobs", h.ListJobs)
		r.With(auth.optional).Get("/jobs/{id}", h.GetJob)
		r.With(auth.require).Post("/jobs/{id}/apply", h.Apply)
		r.With(auth.requireAdmin).Post("/jobs/{id}/applications/{applicant}/status", h.UpdateStatus)

		// Shared board view; every feed subscriber sees it, so only
		// admins change it.
		r.Get("/view", h.GetView)
		r.Get("/view/tags", h.ListTags)
		r.Post("/view/preview", h.Preview)
		r.Group(func(r chi.Router) {
			r.Use(auth.requireAdmin)
			r.Put("/view/spec", h.SetSpec)
			r.Patch("/view/spec", h.PatchSpec)
			r.Post("/view/search", h.CommitSearch)
			r.Delete("/view/search", h.ClearSearch)
			r.Post("/view/tags/{tag}", h.ApplyTag)
		})

		// Snapshot
		r.With(auth.requireAdmin).Put("/snapshot", h.ReplaceSnapshot)
		r.With(auth.require).Delete("/snapshot", h.ResetBoard)
		r.Get("/refresh", h.RefreshStatus)
		r.With(auth.requireAdmin).Post("/refresh", h.Refresh)

		// Applicant
		r.Group(func(r chi.Router) {
			r.Use(auth.require)
			r.Get("/me/applications", h.MyApplications)
			r.Get("/me/history", h.MyHistory)
		})

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(auth.requireAdmin)
			r.Get("/admin/jobs", h.AdminJobs)
			r.Post("/admin/jobs", h.AdminPutJob)
			r.Delete("/admin/jobs/{id}", h.AdminDeleteJob)
			r.Get("/admin/jobs/{id}/history", h.AdminJobHistory)
			r.Get("/admin/jobs/{id}/applications/{applicant}/cv", h.AdminCV)
		})
	})

	// WebSocket
	if d.Feed != nil {
		r.Get("/ws/jobs", d.Feed.HandleFeed)
	}

	return r, nil
}
