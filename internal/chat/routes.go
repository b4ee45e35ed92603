// internal/chat/routes.go

package chat

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes registers the realtime and REST chat routes
func RegisterRoutes(router *mux.Router, handler *Handler, authenticate func(http.Handler) http.Handler) {
	// WebSocket endpoint - requires authentication
	router.Handle("/ws", authenticate(http.HandlerFunc(handler.HandleWebSocket))).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authenticate)

	// Message endpoints
	api.HandleFunc("/messages/{room}", handler.GetMessages).Methods("GET")
	api.HandleFunc("/messages/{id}", handler.EditMessage).Methods("PUT")
	api.HandleFunc("/messages/{id}", handler.HideMessage).Methods("DELETE")
	api.HandleFunc("/messages/{id}/force", handler.ForceDeleteMessage).Methods("DELETE")

	// Conversation endpoints
	api.HandleFunc("/conversations", handler.GetConversations).Methods("GET")
	api.HandleFunc("/conversations", handler.CreateConversation).Methods("POST")
	api.HandleFunc("/conversations/{id}/read", handler.MarkConversationRead).Methods("POST")
	api.HandleFunc("/conversations/{id}", handler.DeleteConversation).Methods("DELETE")
	api.HandleFunc("/conversations/{id}/messages", handler.ClearConversationMessages).Methods("DELETE")

	// Presence snapshot
	api.HandleFunc("/presence", handler.GetPresence).Methods("GET")
}

// RegisterHealthCheck exposes hub liveness without authentication
func RegisterHealthCheck(router *mux.Router, handler *Handler) {
	router.HandleFunc("/health/chat", handler.HealthCheck).Methods("GET")
}
