package rest

import (
	"fmt"

	"github.com/vovakirdan/roomsync-go/roomsync"
)

// MessagesResponse contains the newest page of a room, newest first.
type MessagesResponse struct {
	Messages []roomsync.MessageRow `json:"messages"`
	HasMore  bool                  `json:"has_more"`
}

// PostMessageRequest is the request body for inserting a message.
type PostMessageRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for every response with status >= 400.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}
