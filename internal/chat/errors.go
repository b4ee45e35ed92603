// internal/chat/errors.go

package chat

import (
	"errors"
	"log"
)

var errTooManyEvents = errors.New("too many events, slow down")

// errorCode maps service errors to the stable codes clients branch on
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrNotParticipant):
		return "FORBIDDEN"
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrConversationNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrEmptyMessage):
		return "VALIDATION"
	case errors.Is(err, errTooManyEvents):
		return "RATE_LIMITED"
	default:
		return "ERROR"
	}
}

func logServiceError(op string, err error) {
	log.Printf("chat: %s failed: %v", op, err)
}
