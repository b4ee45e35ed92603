// internal/chat/handlers.go

package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/teakonn/teakonn-backend/internal/auth"
	"github.com/teakonn/teakonn-backend/internal/common/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Configure CORS as needed
		return true
	},
}

type Handler struct {
	service Service
	hub     *Hub

	defaultPageSize int
	sendBuffer      int
	eventRate       float64
	eventBurst      int
}

type HandlerConfig struct {
	DefaultPageSize int
	SendBuffer      int
	EventRate       float64
	EventBurst      int
}

func NewHandler(service Service, hub *Hub, cfg HandlerConfig) *Handler {
	return &Handler{
		service:         service,
		hub:             hub,
		defaultPageSize: cfg.DefaultPageSize,
		sendBuffer:      cfg.SendBuffer,
		eventRate:       cfg.EventRate,
		eventBurst:      cfg.EventBurst,
	}
}

// HandleWebSocket upgrades an authenticated request to a socket connection
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := NewClient(h.hub, conn, userID, h.sendBuffer, h.eventRate, h.eventBurst)
	h.hub.Register(client)
	client.Start()
}

// GetMessages returns a page of room history, hidden messages omitted
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	room := mux.Vars(r)["room"]

	limit, offset := h.pagination(r)
	messages, err := h.service.GetRoomMessages(r.Context(), room, userID, limit, offset)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), httpStatus(err))
		return
	}

	utils.SuccessResponse(w, messages, http.StatusOK)
}

// EditMessage edits a message over REST and broadcasts the update
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}

	req := &EditMessageRequest{MessageID: mux.Vars(r)["id"], Text: body.Text}
	message, err := h.service.EditMessage(r.Context(), userID, req)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), httpStatus(err))
		return
	}

	h.hub.NotifyEdited(message)
	utils.SuccessResponse(w, message, http.StatusOK)
}

// HideMessage soft-deletes "for me"; only the caller's other connections hear
// about it
func (h *Handler) HideMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	messageID := mux.Vars(r)["id"]

	if err := h.service.HideMessage(r.Context(), messageID, userID); err != nil {
		utils.ErrorResponse(w, err.Error(), httpStatus(err))
		return
	}

	h.hub.NotifyHidden(userID, messageID)
	utils.MessageResponse(w, "hidden", http.StatusOK)
}

// ForceDeleteMessage removes a message for everyone; sender only
func (h *Handler) ForceDeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	messageID := mux.Vars(r)["id"]

	message, err := h.service.ForceDeleteMessage(r.Context(), messageID, userID)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			// already gone, treat as done
			utils.MessageResponse(w, "already deleted", http.StatusOK)
			return
		}
		utils.ErrorResponse(w, err.Error(), httpStatus(err))
		return
	}

	h.hub.NotifyDeleted(message.Room, messageID)
	utils.MessageResponse(w, "deleted", http.StatusOK)
}

// GetConversations lists the caller's conversation index with read-repaired
// unread counts
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())

	limit, offset := h.pagination(r)
	conversations, err := h.service.ListConversations(r.Context(), userID, limit, offset)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), httpStatus(err))
		return
	}

	utils.SuccessResponse(w, conversations, http.StatusOK)
}

// CreateConversation is the idempotent get-or-create for a user pair
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	conversation, err := h.service.GetOrCreateConversation(r.Context(), userID, req.UserID)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), httpStatus(err))
		return
	}

	utils.SuccessResponse(w, conversation, http.StatusCreated)
}

// MarkConversationRead zeroes the caller's unread counter and bulk-reads the
// room; receipt changes are broadcast afterwards
func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	conversationID := mux.Vars(r)["id"]

	changed, err := h.service.MarkConversationRead(r.Context(), conversationID, userID)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), httpStatus(err))
		return
	}

	if len(changed) > 0 {
		h.hub.NotifyStatusUpdates(changed[0].Room, changed)
	}
	utils.SuccessResponse(w, map[string]int{"read": len(changed)}, http.StatusOK)
}

// DeleteConversation removes a conversation and its messages
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())

	if err := h.service.DeleteConversation(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		utils.ErrorResponse(w, err.Error(), httpStatus(err))
		return
	}

	utils.MessageResponse(w, "deleted", http.StatusOK)
}

// ClearConversationMessages removes the messages but keeps the conversation
func (h *Handler) ClearConversationMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())

	if err := h.service.ClearConversationMessages(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		utils.ErrorResponse(w, err.Error(), httpStatus(err))
		return
	}

	utils.MessageResponse(w, "cleared", http.StatusOK)
}

// GetPresence returns the current online snapshot
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	utils.SuccessResponse(w, OnlineUsersPayload{UserIDs: h.hub.OnlineUsers()}, http.StatusOK)
}

// HealthCheck reports hub liveness
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.SuccessResponse(w, map[string]interface{}{
		"status":      "ok",
		"connections": h.hub.ActiveConnections(),
	}, http.StatusOK)
}

func (h *Handler) pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	// the configured page size is also the ceiling; a query parameter can
	// shrink a page but never page the whole history in one request
	if limit <= 0 || limit > h.defaultPageSize {
		limit = h.defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// httpStatus maps service errors onto HTTP status codes
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
