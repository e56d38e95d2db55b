package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"telecine/handlers"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Register mounts every route onto the provided router. Player-facing stream
// routes live at the root; application routes live under /api.
func Register(
	r *mux.Router,
	videoHandler *handlers.VideoHandler,
	playbackHandler *handlers.PlaybackHandler,
	libraryHandler *handlers.LibraryHandler,
) {
	// Player-facing stream routes. The embedded player addresses these by
	// fixed path, so they stay at the root.
	r.HandleFunc("/video", videoHandler.StreamVideo).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	r.HandleFunc("/stream", videoHandler.StreamTranscode).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	r.HandleFunc("/switch-audio", playbackHandler.SwitchAudio).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/subtitle", videoHandler.ExtractSubtitle).Methods(http.MethodGet, http.MethodOptions)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	api.HandleFunc("/library", libraryHandler.GetLibrary).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/library/scan", libraryHandler.TriggerScan).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/progress", libraryHandler.Progress).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)

	api.HandleFunc("/metadata", playbackHandler.Metadata).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/playback/start", playbackHandler.StartPlayback).Methods(http.MethodPost, http.MethodOptions)
}
