package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"telecine/models"
)

// LibraryScanner walks the configured roots and returns the show tree.
type LibraryScanner interface {
	Scan(ctx context.Context) ([]models.Show, error)
}

// ShowCatalog enriches a scanned show with remote metadata. Failures are
// non-fatal; a show without artwork is still playable.
type ShowCatalog interface {
	Enrich(ctx context.Context, show *models.Show) error
}

// LibraryStore persists the show tree and playback progress.
type LibraryStore interface {
	Shows(ctx context.Context) ([]models.Show, error)
	SaveShows(ctx context.Context, shows []models.Show) error
	Progress(ctx context.Context, episodeID string) (models.PlaybackProgress, bool, error)
	SaveProgress(ctx context.Context, p models.PlaybackProgress) error
}

// LibraryHandler serves the library tree, scan trigger, and playback
// progress routes.
type LibraryHandler struct {
	scanner LibraryScanner
	catalog ShowCatalog // optional
	store   LibraryStore
}

// NewLibraryHandler wires the library routes. catalog may be nil when remote
// enrichment is disabled.
func NewLibraryHandler(scanner LibraryScanner, catalog ShowCatalog, store LibraryStore) *LibraryHandler {
	return &LibraryHandler{scanner: scanner, catalog: catalog, store: store}
}

// GetLibrary returns the persisted show tree.
func (h *LibraryHandler) GetLibrary(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		HandleOptions(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	shows, err := h.store.Shows(r.Context())
	if err != nil {
		log.Printf("[library] load failed err=%v", err)
		http.Error(w, "failed to load library", http.StatusInternalServerError)
		return
	}
	if shows == nil {
		shows = []models.Show{}
	}
	writeJSON(w, http.StatusOK, shows)
}

type scanResponse struct {
	Shows    int           `json:"shows"`
	Episodes int           `json:"episodes"`
	Elapsed  string        `json:"elapsed"`
	Tree     []models.Show `json:"tree"`
}

// TriggerScan rescans the configured roots, enriches new shows from the
// remote catalog, and persists the result.
func (h *LibraryHandler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		HandleOptions(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	shows, err := h.scanner.Scan(r.Context())
	if err != nil {
		log.Printf("[library] scan failed err=%v", err)
		http.Error(w, "library scan failed", http.StatusInternalServerError)
		return
	}

	if h.catalog != nil {
		for i := range shows {
			if err := h.catalog.Enrich(r.Context(), &shows[i]); err != nil {
				log.Printf("[library] catalog enrichment failed show=%q err=%v", shows[i].Name, err)
			}
		}
	}

	if err := h.store.SaveShows(r.Context(), shows); err != nil {
		log.Printf("[library] save failed err=%v", err)
		http.Error(w, "failed to persist library", http.StatusInternalServerError)
		return
	}

	episodes := 0
	for _, show := range shows {
		for _, season := range show.Seasons {
			episodes += len(season.Episodes)
		}
	}
	log.Printf("[library] scan complete shows=%d episodes=%d elapsed=%s",
		len(shows), episodes, time.Since(start).Round(time.Millisecond))

	writeJSON(w, http.StatusOK, scanResponse{
		Shows:    len(shows),
		Episodes: episodes,
		Elapsed:  time.Since(start).Round(time.Millisecond).String(),
		Tree:     shows,
	})
}

// Progress reads (GET) or updates (POST) playback progress for an episode.
func (h *LibraryHandler) Progress(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		HandleOptions(w, r)
	case http.MethodGet:
		h.getProgress(w, r)
	case http.MethodPost:
		h.saveProgress(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *LibraryHandler) getProgress(w http.ResponseWriter, r *http.Request) {
	episodeID := strings.TrimSpace(r.URL.Query().Get("episodeId"))
	if episodeID == "" {
		http.Error(w, "missing episodeId parameter", http.StatusBadRequest)
		return
	}

	progress, found, err := h.store.Progress(r.Context(), episodeID)
	if err != nil {
		log.Printf("[library] progress load failed episode=%q err=%v", episodeID, err)
		http.Error(w, "failed to load progress", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "no progress recorded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *LibraryHandler) saveProgress(w http.ResponseWriter, r *http.Request) {
	var p models.PlaybackProgress
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(p.EpisodeID) == "" {
		http.Error(w, "missing episodeId", http.StatusBadRequest)
		return
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	if err := h.store.SaveProgress(r.Context(), p); err != nil {
		log.Printf("[library] progress save failed episode=%q err=%v", p.EpisodeID, err)
		http.Error(w, "failed to save progress", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true, Message: "progress saved"})
}
