package handlers

import (
	"bytes"
	"context"
	"io"
	"sync"

	"telecine/models"
	"telecine/services/transcode"
)

type fakeProber struct {
	info *models.MediaInfo
	err  error

	mu     sync.Mutex
	probed []string
}

func (f *fakeProber) Probe(_ context.Context, path string) (*models.MediaInfo, error) {
	f.mu.Lock()
	f.probed = append(f.probed, path)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

type fakeProc struct {
	stdout io.ReadCloser
	done   chan struct{}
	err    error
	stderr string

	mu         sync.Mutex
	terminated int
	killed     int
}

func newFakeProc(payload []byte) *fakeProc {
	done := make(chan struct{})
	close(done)
	return &fakeProc{
		stdout: io.NopCloser(bytes.NewReader(payload)),
		done:   done,
	}
}

func (p *fakeProc) Stdout() io.ReadCloser { return p.stdout }
func (p *fakeProc) Done() <-chan struct{} { return p.done }
func (p *fakeProc) Err() error            { return p.err }
func (p *fakeProc) StderrTail() string    { return p.stderr }

func (p *fakeProc) Terminate() {
	p.mu.Lock()
	p.terminated++
	p.mu.Unlock()
}

func (p *fakeProc) Kill() {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
}

func (p *fakeProc) terminateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

type fakeSession struct {
	mu           sync.Mutex
	path         string
	track        int
	startProc    transcode.Process
	startErr     error
	detachedProc transcode.Process
	detachedErr  error

	startArgs    [][]string
	detachedArgs [][]string
	released     []transcode.Process
	terminations int
}

func (s *fakeSession) Target() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.track
}

func (s *fakeSession) SetTarget(path string, track int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path, s.track = path, track
}

func (s *fakeSession) SetAudioTrack(track int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
}

func (s *fakeSession) Start(args []string) (transcode.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startArgs = append(s.startArgs, args)
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.startProc, nil
}

func (s *fakeSession) StartDetached(args []string) (transcode.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachedArgs = append(s.detachedArgs, args)
	if s.detachedErr != nil {
		return nil, s.detachedErr
	}
	return s.detachedProc, nil
}

func (s *fakeSession) TerminateActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminations++
}

func (s *fakeSession) Release(p transcode.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, p)
}

func (s *fakeSession) Active() transcode.Process { return nil }

func (s *fakeSession) lastStartArgs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.startArgs) == 0 {
		return nil
	}
	return s.startArgs[len(s.startArgs)-1]
}

func (s *fakeSession) lastDetachedArgs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.detachedArgs) == 0 {
		return nil
	}
	return s.detachedArgs[len(s.detachedArgs)-1]
}

func (s *fakeSession) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.released)
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func hasArgPair(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func twoAudioInfo(path string) *models.MediaInfo {
	return &models.MediaInfo{
		Path:     path,
		Duration: 1325.5,
		VideoStreams: []models.VideoStream{
			{Index: 0, Codec: "hevc", Width: 1920, Height: 1080},
		},
		AudioTracks: []models.AudioTrack{
			{Index: 0, StreamIndex: 2, Codec: "dts", Channels: 6, Language: "English"},
			{Index: 1, StreamIndex: 4, Codec: "aac", Channels: 2, Language: "Japanese"},
		},
		SubtitleTracks: []models.SubtitleTrack{
			{Index: 0, StreamIndex: 5, Codec: "subrip", Language: "English", Default: true},
			{Index: 1, StreamIndex: 7, Codec: "ass", Language: "Japanese", Forced: true},
		},
	}
}
