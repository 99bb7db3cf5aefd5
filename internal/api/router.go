package api

import (
	"net/http"

	"github.com/dom/studybuddy/internal/api/handlers"
	"github.com/dom/studybuddy/internal/api/middleware"
	"github.com/dom/studybuddy/internal/service"
	"github.com/dom/studybuddy/internal/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP surface. metricsHandler is mounted at /metrics
// when non-nil.
func NewRouter(services *service.Services, hub *websocket.Hub, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	authHandler := handlers.NewAuthHandler(services.Auth)
	userHandler := handlers.NewUserHandler(services.Users)
	buddyHandler := handlers.NewBuddyHandler(services.Pairing)
	studyHandler := handlers.NewStudyHandler(services.Study)
	sessionHandler := handlers.NewBuddySessionHandler(services.Buddy)
	pokeHandler := handlers.NewPokeHandler(services.Pokes)
	taskHandler := handlers.NewTaskHandler(services.Tasks)
	wsHandler := handlers.NewWebSocketHandler(hub, services.Auth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(services.Auth))
				r.Get("/me", authHandler.Me)
				r.Post("/logout", authHandler.Logout)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(services.Auth))

			r.Route("/users", func(r chi.Router) {
				r.Get("/available", userHandler.Available)
				r.Get("/{id}", userHandler.Get)
			})

			r.Route("/buddy", func(r chi.Router) {
				r.Get("/", buddyHandler.Status)
				r.Post("/invite", buddyHandler.Invite)
				r.Post("/pairs/{key}/accept", buddyHandler.Accept)
				r.Post("/pairs/{key}/reject", buddyHandler.Reject)
				r.Post("/pairs/{key}/cancel", buddyHandler.Cancel)
				r.Delete("/pairs/{key}", buddyHandler.Remove)
			})

			r.Route("/study", func(r chi.Router) {
				r.Post("/sessions", studyHandler.Start)
				r.Get("/sessions/active", studyHandler.Active)
				r.Post("/sessions/{id}/stop", studyHandler.Stop)
				r.Get("/daily", studyHandler.Daily)
				r.Get("/history", studyHandler.History)
				r.Get("/stats", studyHandler.Stats)
			})

			r.Route("/buddy-sessions", func(r chi.Router) {
				r.Post("/", sessionHandler.Propose)
				r.Get("/active", sessionHandler.Active)
				r.Get("/incoming", sessionHandler.Incoming)
				r.Get("/history", sessionHandler.History)
				r.Post("/cancel-pending", sessionHandler.CancelPending)
				r.Get("/{id}", sessionHandler.Get)
				r.Post("/{id}/accept", sessionHandler.Accept)
				r.Post("/{id}/reject", sessionHandler.Reject)
				r.Post("/{id}/cancel", sessionHandler.Cancel)
				r.Post("/{id}/end", sessionHandler.End)
				r.Post("/{id}/expire", sessionHandler.Expire)
			})

			r.Route("/pokes", func(r chi.Router) {
				r.Post("/", pokeHandler.Send)
				r.Get("/unread", pokeHandler.Unread)
				r.Get("/latest", pokeHandler.Latest)
				r.Post("/read-all", pokeHandler.MarkAllRead)
				r.Post("/{id}/read", pokeHandler.MarkRead)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/", taskHandler.Create)
				r.Get("/", taskHandler.List)
				r.Post("/{id}/toggle", taskHandler.Toggle)
				r.Put("/{id}/poke", taskHandler.SetPoke)
				r.Get("/{id}/poke", taskHandler.GetPoke)
				r.Delete("/{id}", taskHandler.Delete)
			})
		})

		r.Get("/ws", wsHandler.Handle)
	})

	return r
}
