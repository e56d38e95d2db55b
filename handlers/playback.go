package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"telecine/services/probe"
)

// DurationSink receives durations learned at probe time so the library can
// backfill entries the scanner could not time.
type DurationSink interface {
	RecordDuration(path string, seconds float64) error
}

// PlaybackHandler serves playback setup and metadata routes: selecting the
// session target, switching audio tracks, and exposing probe results.
type PlaybackHandler struct {
	prober    MediaProber
	session   SessionManager
	durations DurationSink // optional
}

// NewPlaybackHandler wires the playback routes to their collaborators.
// durations may be nil when no store is configured.
func NewPlaybackHandler(prober MediaProber, session SessionManager, durations DurationSink) *PlaybackHandler {
	return &PlaybackHandler{prober: prober, session: session, durations: durations}
}

// SwitchAudio records a new audio track selection on the session. It has no
// process side effect: the player tears down its stream and re-requests it,
// and the next transcode picks the selection up. Out-of-range selections are
// accepted but the ack message reports the fallback so callers can detect it.
func (h *PlaybackHandler) SwitchAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		HandleOptions(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	track, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("track")))
	if err != nil || track < 0 {
		http.Error(w, "invalid track parameter", http.StatusBadRequest)
		return
	}

	path, _ := h.session.Target()
	if path == "" {
		http.Error(w, "no playback target selected", http.StatusNotFound)
		return
	}

	h.session.SetAudioTrack(track)
	log.Printf("[playback] audio track selection set to %d path=%q", track, path)

	msg := fmt.Sprintf("audio track set to %d", track)
	if info, err := h.prober.Probe(r.Context(), path); err == nil {
		if audio, ok := info.AudioTrackOrFallback(track); ok && audio.Index != track {
			msg = fmt.Sprintf("audio track %d out of range, playback will use track %d", track, audio.Index)
		}
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true, Message: msg})
}

// Metadata returns the probe result for an arbitrary library file. Durations
// discovered here are written back to the store when one is configured.
func (h *PlaybackHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		HandleOptions(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		http.Error(w, "missing path parameter", http.StatusBadRequest)
		return
	}

	info, err := h.prober.Probe(r.Context(), path)
	if err != nil {
		if errors.Is(err, probe.ErrFileNotFound) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		log.Printf("[playback] metadata probe failed path=%q err=%v", path, err)
		http.Error(w, "failed to read media metadata", http.StatusInternalServerError)
		return
	}

	if h.durations != nil && info.Duration > 0 {
		if err := h.durations.RecordDuration(path, info.Duration); err != nil {
			log.Printf("[playback] duration write-back failed path=%q err=%v", path, err)
		}
	}

	writeJSON(w, http.StatusOK, info)
}

type startPlaybackRequest struct {
	Path       string `json:"path"`
	AudioTrack int    `json:"audioTrack"`
}

type startPlaybackResponse struct {
	URL              string `json:"url"`
	NeedsTranscoding bool   `json:"needsTranscoding"`
	Format           string `json:"format"`
}

// StartPlayback selects a file as the session target and tells the player
// where to fetch it from. The previous transcode, if any, is terminated so a
// new session never competes with a stale one.
func (h *PlaybackHandler) StartPlayback(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		HandleOptions(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startPlaybackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		http.Error(w, "missing path", http.StatusBadRequest)
		return
	}
	if req.AudioTrack < 0 {
		req.AudioTrack = 0
	}

	if _, err := os.Stat(req.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		log.Printf("[playback] stat failed path=%q err=%v", req.Path, err)
		http.Error(w, "failed to access media file", http.StatusInternalServerError)
		return
	}

	h.session.TerminateActive()
	h.session.SetTarget(req.Path, req.AudioTrack)
	log.Printf("[playback] session target set path=%q audioTrack=%d", req.Path, req.AudioTrack)

	writeJSON(w, http.StatusOK, startPlaybackResponse{
		URL:              "/video",
		NeedsTranscoding: NeedsTranscoding(req.Path),
		Format:           strings.TrimPrefix(strings.ToLower(filepath.Ext(req.Path)), "."),
	})
}
