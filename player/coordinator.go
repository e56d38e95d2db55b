package player

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"telecine/models"
)

// State is the coordinator's position in the playback lifecycle.
type State int

const (
	StateIdle State = iota
	StateMetadataRequested
	StateMetadataReady
	StateStreamRequested
	StatePlaying
	StatePaused
	StateSeeking
	StateSwitching
	StateEnded
	StateClosed
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StateMetadataRequested: "metadata-requested",
	StateMetadataReady:     "metadata-ready",
	StateStreamRequested:   "stream-requested",
	StatePlaying:           "playing",
	StatePaused:            "paused",
	StateSeeking:           "seeking",
	StateSwitching:         "switching",
	StateEnded:             "ended",
	StateClosed:            "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("player: coordinator closed")

// ErrInvalidTransition is returned when an operation does not apply to the
// current state, for example pausing before any stream was requested.
var ErrInvalidTransition = errors.New("player: invalid state transition")

// PlaybackInfo is what StartPlayback hands to the embedding player.
type PlaybackInfo struct {
	URL              string `json:"url"`
	NeedsTranscoding bool   `json:"needsTranscoding"`
	Format           string `json:"format"`
}

// Coordinator is the client-side playback session: it drives the server's
// metadata, playback, and track-switch routes and tracks where the embedded
// player is in its lifecycle. It also owns the authoritative duration, since
// players reading a live transcode report NaN, Inf, or 0 until enough of the
// stream has arrived.
type Coordinator struct {
	baseURL string
	httpc   *http.Client

	mu         sync.Mutex
	state      State
	path       string
	audioTrack int
	info       *models.MediaInfo
	duration   float64
	playback   PlaybackInfo
}

// NewCoordinator builds a coordinator against the server's base URL.
func NewCoordinator(baseURL string, httpc *http.Client) *Coordinator {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Coordinator{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Duration returns the authoritative duration in seconds, 0 if unknown.
func (c *Coordinator) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// GetMediaMetadata fetches the probe result for a file and makes it the
// pending playback candidate. The probed duration becomes authoritative.
func (c *Coordinator) GetMediaMetadata(ctx context.Context, path string) (*models.MediaInfo, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	prev := c.state
	c.state = StateMetadataRequested
	c.mu.Unlock()

	endpoint := fmt.Sprintf("%s/api/metadata?path=%s", c.baseURL, url.QueryEscape(path))
	var info models.MediaInfo
	if err := c.getJSON(ctx, endpoint, &info); err != nil {
		c.mu.Lock()
		c.state = prev
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.state = StateMetadataReady
	c.path = path
	c.info = &info
	c.duration = info.Duration
	c.mu.Unlock()
	return &info, nil
}

// StartPlayback selects the candidate file on the server and returns the URL
// the embedded player should load. Any previous session is superseded on the
// server side, so starting again is the teardown.
func (c *Coordinator) StartPlayback(ctx context.Context, audioTrack int) (PlaybackInfo, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return PlaybackInfo{}, ErrClosed
	}
	if c.info == nil {
		c.mu.Unlock()
		return PlaybackInfo{}, fmt.Errorf("%w: no metadata loaded", ErrInvalidTransition)
	}
	path := c.path
	c.state = StateStreamRequested
	c.audioTrack = audioTrack
	c.mu.Unlock()

	body, _ := json.Marshal(map[string]any{"path": path, "audioTrack": audioTrack})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/playback/start", bytes.NewReader(body))
	if err != nil {
		return PlaybackInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var info PlaybackInfo
	if err := c.doJSON(req, &info); err != nil {
		c.mu.Lock()
		c.state = StateMetadataReady
		c.mu.Unlock()
		return PlaybackInfo{}, err
	}

	c.mu.Lock()
	c.playback = info
	c.mu.Unlock()
	log.Printf("[player] playback started path=%q url=%s transcoding=%v", path, info.URL, info.NeedsTranscoding)
	return info, nil
}

// SwitchAudioTrack records the new selection on the server, then hands back
// the playback info so the caller can tear down its stream and reload it.
// The server applies the new track to the next transcode it starts.
func (c *Coordinator) SwitchAudioTrack(ctx context.Context, track int) (PlaybackInfo, error) {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return PlaybackInfo{}, ErrClosed
	case StatePlaying, StatePaused, StateSeeking:
	default:
		state := c.state
		c.mu.Unlock()
		return PlaybackInfo{}, fmt.Errorf("%w: cannot switch audio while %s", ErrInvalidTransition, state)
	}
	c.state = StateSwitching
	c.mu.Unlock()

	endpoint := fmt.Sprintf("%s/switch-audio?track=%d", c.baseURL, track)
	var ack struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.getJSON(ctx, endpoint, &ack); err != nil {
		c.mu.Lock()
		c.state = StatePlaying
		c.mu.Unlock()
		return PlaybackInfo{}, err
	}
	if !ack.Success {
		c.mu.Lock()
		c.state = StatePlaying
		c.mu.Unlock()
		return PlaybackInfo{}, fmt.Errorf("player: switch audio refused: %s", ack.Message)
	}
	log.Printf("[player] audio switch acknowledged: %s", ack.Message)

	c.mu.Lock()
	c.audioTrack = track
	c.state = StateStreamRequested
	playback := c.playback
	c.mu.Unlock()
	return playback, nil
}

// ReconcileDuration resolves the duration the embedded player reports against
// the probed value. Live fragmented streams make players report NaN, Inf, or
// 0; in those cases the probed duration stands. A finite positive report is
// adopted as the new authoritative value.
func (c *Coordinator) ReconcileDuration(reported float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if math.IsNaN(reported) || math.IsInf(reported, 0) || reported <= 0 {
		return c.duration
	}
	c.duration = reported
	return reported
}

// NotifyPlaying marks the stream as actually rendering frames.
func (c *Coordinator) NotifyPlaying() error {
	return c.transition("playing", StatePlaying,
		StateStreamRequested, StatePaused, StateSeeking, StateSwitching, StatePlaying)
}

// NotifyPaused marks the player paused.
func (c *Coordinator) NotifyPaused() error {
	return c.transition("paused", StatePaused, StatePlaying, StateSeeking)
}

// NotifySeeking marks an in-progress seek.
func (c *Coordinator) NotifySeeking() error {
	return c.transition("seeking", StateSeeking, StatePlaying, StatePaused)
}

// NotifyEnded marks the stream finished.
func (c *Coordinator) NotifyEnded() error {
	return c.transition("ended", StateEnded, StatePlaying, StatePaused, StateSeeking)
}

func (c *Coordinator) transition(name string, to State, from ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	for _, s := range from {
		if c.state == s {
			c.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: cannot enter %s from %s", ErrInvalidTransition, name, c.state)
}

// Close ends the session for good. The embedded player dropping its stream
// connection is what terminates the server-side transcode; Close only makes
// the coordinator refuse further work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.info = nil
	log.Printf("[player] session closed path=%q", c.path)
}

func (c *Coordinator) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Coordinator) doJSON(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("player: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
