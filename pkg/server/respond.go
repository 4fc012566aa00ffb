package server

import (
	"encoding/json"
	"log"
	"net/http"
)

// envelope wraps successful API payloads.
type envelope struct {
	Data    interface{} `json:"data"`
	Message string      `json:"message,omitempty"`
}

// errorResponse is the body of every failed API request.
type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes data as JSON with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("❌ Failed to encode JSON response: %v", err)
	}
}

func respondData(w http.ResponseWriter, data interface{}) {
	respondJSON(w, http.StatusOK, envelope{Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
