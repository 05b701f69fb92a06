package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Extras are optional endpoints mounted next to the API.
type Extras struct {
	WebSocket http.HandlerFunc
	Metrics   http.Handler
	A2A       func(chi.Router)
	// Submit wraps the task and composite submission routes (rate
	// limiting, idempotency).
	Submit []func(http.Handler) http.Handler
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, x Extras) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if x.Metrics != nil {
		r.Handle("/metrics", x.Metrics)
	}
	if x.WebSocket != nil {
		r.Get("/ws", x.WebSocket)
	}
	if x.A2A != nil {
		x.A2A(r)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{id}/tasks/{taskId}", h.GetTask)

		r.Group(func(r chi.Router) {
			r.Use(x.Submit...)
			r.Post("/tasks", h.RunTask)
			r.Post("/tasks/async", h.SubmitTask)
			r.Post("/composite-tasks", h.RunCompositeTask)
			r.Post("/composite-tasks/async", h.SubmitCompositeTask)
		})
		r.Get("/composite-tasks/{id}", h.GetCompositeTask)

		if h.Events != nil {
			r.Get("/tasks/{taskId}/events", h.TaskEvents)
			r.Get("/composite-tasks/{id}/events", h.CompositeEvents)
		}
	})
}
