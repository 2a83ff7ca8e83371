package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/threads", apiHandler.CreateThreadHandler)
			r.Get("/threads", apiHandler.ListThreadsHandler)
			r.Get("/threads/{threadID}", apiHandler.GetThreadDetailsHandler)
			r.Post("/threads/{threadID}/messages", apiHandler.PostTurnHandler)

			r.Post("/messages/{messageID}/feedback", apiHandler.MessageFeedbackHandler)
			r.Get("/balance", apiHandler.GetBalanceHandler)

			// Operational hooks
			r.Post("/admin/reindex", apiHandler.ReindexHandler)
			r.Get("/admin/index", apiHandler.IndexStatsHandler)
		})
	})

	return r
}
