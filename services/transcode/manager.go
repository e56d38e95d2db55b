package transcode

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSuperseded is returned when a concurrent Start or TerminateActive claimed
// the session while this process was still launching. The freshly launched
// process has already been stopped; the caller should not pipe from it.
var ErrSuperseded = errors.New("transcode superseded by a newer session request")

const terminateGrace = 3 * time.Second

// Manager owns the playback session state: the target file, the selected
// audio track, and the at-most-one live transcoding process. All process
// start paths terminate the predecessor first, so "last writer wins" is the
// resolution policy for racing session requests. Every started process is
// tagged with a generation; stale generations can never register themselves
// or clear a successor's handle.
type Manager struct {
	ffmpegPath string
	launcher   Launcher

	mu         sync.Mutex
	targetPath string
	audioTrack int
	active     *Handle
	generation uint64
}

// NewManager creates a manager bound to the given ffmpeg binary.
func NewManager(ffmpegPath string) *Manager {
	resolved := strings.TrimSpace(ffmpegPath)
	if resolved == "" {
		resolved = "ffmpeg"
	}
	return &Manager{
		ffmpegPath: resolved,
		launcher:   execLauncher{},
	}
}

// SetTarget records the file and audio track for subsequent streaming
// requests. Pure state write, no process side effect.
func (m *Manager) SetTarget(path string, audioTrack int) {
	m.mu.Lock()
	m.targetPath = path
	m.audioTrack = audioTrack
	m.mu.Unlock()
	log.Printf("[transcode] session target set path=%q audioTrack=%d", path, audioTrack)
}

// Target returns the current session target. Handlers that suspend (probe,
// process start) must re-read this rather than trusting a value captured
// before suspending.
func (m *Manager) Target() (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetPath, m.audioTrack
}

// SetAudioTrack updates only the selected audio track.
func (m *Manager) SetAudioTrack(track int) {
	m.mu.Lock()
	m.audioTrack = track
	m.mu.Unlock()
	log.Printf("[transcode] audio track selection = %d", track)
}

// Active returns the currently registered process, or nil.
func (m *Manager) Active() Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	return m.active
}

// Start launches a new transcoding process with the given ffmpeg arguments.
// Any previously active process is terminated (gracefully, with a bounded
// wait before a hard kill) before the new one is registered.
func (m *Manager) Start(args []string) (Process, error) {
	m.mu.Lock()
	prev := m.active
	m.active = nil
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	if prev != nil {
		m.stopAndReap(prev)
	}

	proc, err := m.launcher.Launch(m.ffmpegPath, args)
	if err != nil {
		return nil, err
	}

	handle := &Handle{
		ID:         uuid.New().String(),
		Generation: gen,
		proc:       proc,
		done:       make(chan struct{}),
	}
	go handle.collectStderr()
	go func() {
		err := proc.Wait()
		handle.mu.Lock()
		handle.waitErr = err
		handle.mu.Unlock()
		close(handle.done)
	}()

	m.mu.Lock()
	if m.generation != gen {
		// A newer Start or TerminateActive won the race while we were
		// launching. This process must not become the active one.
		m.mu.Unlock()
		handle.Terminate()
		go reap(handle)
		return nil, ErrSuperseded
	}
	m.active = handle
	m.mu.Unlock()

	log.Printf("[transcode] started process id=%s generation=%d args=%q", handle.ID[:8], gen, strings.Join(args, " "))
	return handle, nil
}

// StartDetached launches a process outside the single-active session slot.
// Subtitle extraction uses this: it must not displace the live video
// transcode, and it is bounded by its own request lifetime instead of the
// session's.
func (m *Manager) StartDetached(args []string) (Process, error) {
	proc, err := m.launcher.Launch(m.ffmpegPath, args)
	if err != nil {
		return nil, err
	}

	handle := &Handle{
		ID:   uuid.New().String(),
		proc: proc,
		done: make(chan struct{}),
	}
	go handle.collectStderr()
	go func() {
		err := proc.Wait()
		handle.mu.Lock()
		handle.waitErr = err
		handle.mu.Unlock()
		close(handle.done)
	}()

	log.Printf("[transcode] started detached process id=%s args=%q", handle.ID[:8], strings.Join(args, " "))
	return handle, nil
}

// TerminateActive gracefully stops the active process, if any. Idempotent:
// calling with no active process is a no-op, and termination of an
// already-exited process is treated as success.
func (m *Manager) TerminateActive() {
	m.mu.Lock()
	handle := m.active
	m.active = nil
	m.generation++
	m.mu.Unlock()

	if handle == nil {
		return
	}
	log.Printf("[transcode] terminating active process id=%s", handle.ID[:8])
	m.stopAndReap(handle)
}

// Release clears the active handle only if it still belongs to the given
// process. Called when a pipe finishes on its own; a superseded process must
// not clear a successor's registration.
func (m *Manager) Release(p Process) {
	handle, ok := p.(*Handle)
	if !ok || handle == nil {
		return
	}
	m.mu.Lock()
	if m.active == handle {
		m.active = nil
	}
	m.mu.Unlock()
}

// Shutdown terminates any live process; called on application exit.
func (m *Manager) Shutdown() {
	m.TerminateActive()
}

func (m *Manager) stopAndReap(handle *Handle) {
	handle.Terminate()
	select {
	case <-handle.Done():
	case <-time.After(terminateGrace):
		log.Printf("[transcode] process id=%s ignored SIGTERM, killing", handle.ID[:8])
		handle.Kill()
		<-handle.Done()
	}
}

func reap(handle *Handle) {
	select {
	case <-handle.Done():
	case <-time.After(terminateGrace):
		handle.Kill()
	}
}
