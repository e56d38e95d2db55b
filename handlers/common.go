package handlers

import (
	"encoding/json"
	"net/http"
)

// writeCommonHeaders sets the CORS headers shared by all player-facing routes.
func writeCommonHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")
}

// HandleOptions answers CORS preflight requests.
func HandleOptions(w http.ResponseWriter, r *http.Request) {
	writeCommonHeaders(w)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	writeCommonHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
