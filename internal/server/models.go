package server

import "github.com/mohammad-safakhou/seshat/models"

// HTTPError is the error envelope returned by every route.
type HTTPError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SyncResponse is returned by the schedule sync route.
type SyncResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Results models.SyncResult `json:"results"`
}

// QueuedResponse is returned when a generation was handed to the queue.
type QueuedResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	MessageID string `json:"messageId,omitempty"`
}

// GenerateResponse is returned by the worker on success.
type GenerateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	PostID  string `json:"postId,omitempty"`
	Title   string `json:"title,omitempty"`
	Slug    string `json:"slug,omitempty"`
}
