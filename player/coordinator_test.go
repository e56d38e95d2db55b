package player

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/metadata", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"path":     r.URL.Query().Get("path"),
			"duration": 1325.5,
			"videoStreams": []map[string]any{
				{"index": 0, "codec": "hevc"},
			},
			"audioTracks": []map[string]any{
				{"index": 0, "streamIndex": 2, "codec": "dts"},
				{"index": 1, "streamIndex": 4, "codec": "aac"},
			},
		})
	})
	mux.HandleFunc("/api/playback/start", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"url": "/video", "needsTranscoding": true, "format": "mkv",
		})
	})
	mux.HandleFunc("/switch-audio", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "audio track set to 1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func startedCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	srv := testServer(t)
	c := NewCoordinator(srv.URL, srv.Client())
	ctx := context.Background()

	if _, err := c.GetMediaMetadata(ctx, "/media/show/s01e01.mkv"); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if _, err := c.StartPlayback(ctx, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	return c
}

func TestLifecycleHappyPath(t *testing.T) {
	srv := testServer(t)
	c := NewCoordinator(srv.URL, srv.Client())
	ctx := context.Background()

	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}

	info, err := c.GetMediaMetadata(ctx, "/media/show/s01e01.mkv")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if len(info.AudioTracks) != 2 {
		t.Errorf("audio tracks = %d, want 2", len(info.AudioTracks))
	}
	if got := c.State(); got != StateMetadataReady {
		t.Fatalf("state = %v, want metadata-ready", got)
	}
	if c.Duration() != 1325.5 {
		t.Errorf("duration = %v, want 1325.5", c.Duration())
	}

	playback, err := c.StartPlayback(ctx, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if playback.URL != "/video" || !playback.NeedsTranscoding || playback.Format != "mkv" {
		t.Errorf("playback = %+v", playback)
	}
	if got := c.State(); got != StateStreamRequested {
		t.Fatalf("state = %v, want stream-requested", got)
	}

	if err := c.NotifyPlaying(); err != nil {
		t.Fatalf("playing: %v", err)
	}
	if err := c.NotifyPaused(); err != nil {
		t.Fatalf("paused: %v", err)
	}
	if err := c.NotifyPlaying(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := c.NotifyEnded(); err != nil {
		t.Fatalf("ended: %v", err)
	}
	if got := c.State(); got != StateEnded {
		t.Fatalf("state = %v, want ended", got)
	}
}

func TestStartPlaybackRequiresMetadata(t *testing.T) {
	srv := testServer(t)
	c := NewCoordinator(srv.URL, srv.Client())
	if _, err := c.StartPlayback(context.Background(), 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestSwitchAudioTrack(t *testing.T) {
	c := startedCoordinator(t)
	if err := c.NotifyPlaying(); err != nil {
		t.Fatal(err)
	}

	playback, err := c.SwitchAudioTrack(context.Background(), 1)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if playback.URL != "/video" {
		t.Errorf("url = %q, want /video for stream re-request", playback.URL)
	}
	if got := c.State(); got != StateStreamRequested {
		t.Fatalf("state = %v, want stream-requested after switch", got)
	}
	if err := c.NotifyPlaying(); err != nil {
		t.Fatalf("resume after switch: %v", err)
	}
}

func TestSwitchAudioTrackRequiresActivePlayback(t *testing.T) {
	c := startedCoordinator(t)
	// Still stream-requested, nothing rendering yet.
	if _, err := c.SwitchAudioTrack(context.Background(), 1); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	srv := testServer(t)
	c := NewCoordinator(srv.URL, srv.Client())

	if err := c.NotifyPaused(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pause from idle: err = %v, want ErrInvalidTransition", err)
	}
	if err := c.NotifyEnded(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("end from idle: err = %v, want ErrInvalidTransition", err)
	}
}

func TestCloseRefusesFurtherWork(t *testing.T) {
	c := startedCoordinator(t)
	c.Close()
	c.Close() // idempotent

	if got := c.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
	if _, err := c.GetMediaMetadata(context.Background(), "/x.mkv"); !errors.Is(err, ErrClosed) {
		t.Errorf("metadata after close: err = %v, want ErrClosed", err)
	}
	if _, err := c.StartPlayback(context.Background(), 0); !errors.Is(err, ErrClosed) {
		t.Errorf("start after close: err = %v, want ErrClosed", err)
	}
	if err := c.NotifyPlaying(); !errors.Is(err, ErrClosed) {
		t.Errorf("notify after close: err = %v, want ErrClosed", err)
	}
}

func TestReconcileDuration(t *testing.T) {
	c := startedCoordinator(t)

	tests := []struct {
		name     string
		reported float64
		want     float64
	}{
		{"nan", math.NaN(), 1325.5},
		{"posInf", math.Inf(1), 1325.5},
		{"negInf", math.Inf(-1), 1325.5},
		{"zero", 0, 1325.5},
		{"negative", -3, 1325.5},
		{"valid", 1324.9, 1324.9},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.ReconcileDuration(tc.reported); got != tc.want {
				t.Errorf("ReconcileDuration(%v) = %v, want %v", tc.reported, got, tc.want)
			}
		})
	}
	// The adopted value becomes authoritative for later invalid reports.
	if got := c.ReconcileDuration(math.NaN()); got != 1324.9 {
		t.Errorf("after adoption: got %v, want 1324.9", got)
	}
}

func TestMetadataFailureRestoresState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := NewCoordinator(srv.URL, srv.Client())
	if _, err := c.GetMediaMetadata(context.Background(), "/x.mkv"); err == nil {
		t.Fatal("expected error")
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle after failed metadata", got)
	}
}
