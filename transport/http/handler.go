// Package http exposes the REST surface and the websocket realtime
// transport. Everything here is thin: parse, authenticate, delegate to
// a service, map errors to status codes.
package http

import (
	"log/slog"
	"net/http"

	"chatwire/presence"
	"chatwire/repositories"
	"chatwire/search"
	"chatwire/services"
	"chatwire/session"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

// Handler holds the application dependencies of the HTTP surface.
type Handler struct {
	Log      *slog.Logger
	Auth     services.IAuthService
	Chat     services.IChatService
	Users    repositories.IUserRepository
	Index    search.IUserIndex
	Sessions *session.Manager
	Tracker  presence.ITracker

	searchLimit    int
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewHandler(log *slog.Logger, authService services.IAuthService,
	chatService services.IChatService, users repositories.IUserRepository,
	index search.IUserIndex, sessions *session.Manager, tracker presence.ITracker,
	searchLimit int, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &Handler{
		Log:            log,
		Auth:           authService,
		Chat:           chatService,
		Users:          users,
		Index:          index,
		Sessions:       sessions,
		Tracker:        tracker,
		searchLimit:    searchLimit,
		allowedOrigins: allowedOrigins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// No Origin header means a non-browser client.
				if origin == "" || len(allowed) == 0 {
					return true
				}
				return allowed[origin]
			},
		},
	}
}

// SetupRouter configures the REST routes and the websocket endpoint.
func (h *Handler) SetupRouter() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/auth/signup", h.HandleSignup).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", h.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", h.HandleLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/me", h.HandleMe).Methods(http.MethodGet)
	r.HandleFunc("/api/users/avatar", h.HandleAvatar).Methods(http.MethodPost)
	r.HandleFunc("/api/users/search", h.HandleSearch).Methods(http.MethodGet)

	r.HandleFunc("/api/conversations", h.HandleListConversations).Methods(http.MethodGet)
	r.HandleFunc("/api/conversations", h.HandleOpenConversation).Methods(http.MethodPost)
	r.HandleFunc("/api/conversations/group", h.HandleCreateGroup).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{conversationId}", h.HandleGetMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/messages/{conversationId}", h.HandlePostMessage).Methods(http.MethodPost)

	r.HandleFunc("/api/ws", h.HandleWebSocket).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   h.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
