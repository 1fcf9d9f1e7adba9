// Package httpx holds the JSON response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// RespondError writes err as an error response. Server-side failures are
// logged; client errors are not.
func RespondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Printf("Request failed with %d: %v", status, err)
	}
	RespondErrorString(w, status, err.Error())
}

// RespondErrorString writes an error response with a plain message.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}
