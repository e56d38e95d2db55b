package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telecine/models"
)

type fakeScanner struct {
	shows []models.Show
	err   error
	scans int
}

func (f *fakeScanner) Scan(context.Context) ([]models.Show, error) {
	f.scans++
	return f.shows, f.err
}

type fakeCatalog struct {
	enriched []string
	err      error
}

func (f *fakeCatalog) Enrich(_ context.Context, show *models.Show) error {
	f.enriched = append(f.enriched, show.Name)
	if f.err != nil {
		return f.err
	}
	show.Overview = "enriched"
	return nil
}

type fakeStore struct {
	shows    []models.Show
	saved    [][]models.Show
	progress map[string]models.PlaybackProgress
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{progress: make(map[string]models.PlaybackProgress)}
}

func (f *fakeStore) Shows(context.Context) ([]models.Show, error) {
	return f.shows, f.err
}

func (f *fakeStore) SaveShows(_ context.Context, shows []models.Show) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, shows)
	f.shows = shows
	return nil
}

func (f *fakeStore) Progress(_ context.Context, episodeID string) (models.PlaybackProgress, bool, error) {
	p, ok := f.progress[episodeID]
	return p, ok, f.err
}

func (f *fakeStore) SaveProgress(_ context.Context, p models.PlaybackProgress) error {
	if f.err != nil {
		return f.err
	}
	f.progress[p.EpisodeID] = p
	return nil
}

func sampleShows() []models.Show {
	return []models.Show{
		{
			ID:   "show-1",
			Name: "Deep Space Diner",
			Path: "/media/Deep Space Diner",
			Seasons: []models.Season{
				{Number: 1, Episodes: []models.Episode{
					{ID: "ep-1", ShowID: "show-1", Season: 1, Episode: 1, Title: "Pilot",
						File: models.MediaFile{Path: "/media/Deep Space Diner/S01E01.mkv", Container: ".mkv"}},
					{ID: "ep-2", ShowID: "show-1", Season: 1, Episode: 2, Title: "Leftovers",
						File: models.MediaFile{Path: "/media/Deep Space Diner/S01E02.mkv", Container: ".mkv"}},
				}},
			},
		},
	}
}

func TestGetLibrary(t *testing.T) {
	store := newFakeStore()
	store.shows = sampleShows()
	h := NewLibraryHandler(&fakeScanner{}, nil, store)

	rec := httptest.NewRecorder()
	h.GetLibrary(rec, httptest.NewRequest(http.MethodGet, "/api/library", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var shows []models.Show
	if err := json.NewDecoder(rec.Body).Decode(&shows); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(shows) != 1 || shows[0].Name != "Deep Space Diner" {
		t.Errorf("unexpected library tree: %+v", shows)
	}
}

func TestGetLibraryEmpty(t *testing.T) {
	h := NewLibraryHandler(&fakeScanner{}, nil, newFakeStore())
	rec := httptest.NewRecorder()
	h.GetLibrary(rec, httptest.NewRequest(http.MethodGet, "/api/library", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestTriggerScanEnrichesAndPersists(t *testing.T) {
	scanner := &fakeScanner{shows: sampleShows()}
	catalog := &fakeCatalog{}
	store := newFakeStore()
	h := NewLibraryHandler(scanner, catalog, store)

	rec := httptest.NewRecorder()
	h.TriggerScan(rec, httptest.NewRequest(http.MethodPost, "/api/library/scan", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp scanResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Shows != 1 || resp.Episodes != 2 {
		t.Errorf("scan counts = (%d shows, %d episodes), want (1, 2)", resp.Shows, resp.Episodes)
	}
	if scanner.scans != 1 {
		t.Errorf("scans = %d, want 1", scanner.scans)
	}
	if len(catalog.enriched) != 1 || catalog.enriched[0] != "Deep Space Diner" {
		t.Errorf("enriched = %v, want [Deep Space Diner]", catalog.enriched)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved = %d times, want 1", len(store.saved))
	}
	if store.saved[0][0].Overview != "enriched" {
		t.Error("enrichment result was not persisted")
	}
}

func TestTriggerScanSurvivesCatalogFailure(t *testing.T) {
	scanner := &fakeScanner{shows: sampleShows()}
	catalog := &fakeCatalog{err: context.DeadlineExceeded}
	store := newFakeStore()
	h := NewLibraryHandler(scanner, catalog, store)

	rec := httptest.NewRecorder()
	h.TriggerScan(rec, httptest.NewRequest(http.MethodPost, "/api/library/scan", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(store.saved) != 1 {
		t.Errorf("scan results must persist even when enrichment fails")
	}
}

func TestProgressRoundTrip(t *testing.T) {
	store := newFakeStore()
	h := NewLibraryHandler(&fakeScanner{}, nil, store)

	body := strings.NewReader(`{"episodeId":"ep-1","position":421.5,"duration":1325.5,"watched":false}`)
	rec := httptest.NewRecorder()
	h.Progress(rec, httptest.NewRequest(http.MethodPost, "/api/progress", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	h.Progress(rec, httptest.NewRequest(http.MethodGet, "/api/progress?episodeId=ep-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %d, want %d", rec.Code, http.StatusOK)
	}
	var p models.PlaybackProgress
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if p.Position != 421.5 || p.Duration != 1325.5 {
		t.Errorf("progress = %+v, want position 421.5 duration 1325.5", p)
	}
	if p.UpdatedAt.IsZero() || time.Since(p.UpdatedAt) > time.Minute {
		t.Errorf("UpdatedAt was not defaulted: %v", p.UpdatedAt)
	}
}

func TestProgressNotFound(t *testing.T) {
	h := NewLibraryHandler(&fakeScanner{}, nil, newFakeStore())
	rec := httptest.NewRecorder()
	h.Progress(rec, httptest.NewRequest(http.MethodGet, "/api/progress?episodeId=ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
