package models

// VideoStream describes one video stream inside a container.
type VideoStream struct {
	Index  int    `json:"index"` // container stream index
	Codec  string `json:"codec"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// AudioTrack describes one audio stream. Index is the dense 0-based position
// among audio streams only; StreamIndex is the sparse container index that
// ffmpeg -map expects when addressing the stream directly.
type AudioTrack struct {
	Index       int    `json:"index"`
	StreamIndex int    `json:"streamIndex"`
	Codec       string `json:"codec"`
	Channels    int    `json:"channels"`
	SampleRate  int    `json:"sampleRate"`
	Language    string `json:"language"`
	Title       string `json:"title"`
}

// SubtitleTrack describes one subtitle stream, with the same dense/container
// index split as AudioTrack.
type SubtitleTrack struct {
	Index       int    `json:"index"`
	StreamIndex int    `json:"streamIndex"`
	Codec       string `json:"codec"`
	Language    string `json:"language"`
	Title       string `json:"title"`
	Forced      bool   `json:"forced"`
	Default     bool   `json:"default"`
}

// MediaInfo is the probe result for a single file. It is computed fresh on
// every metadata request; callers that want caching keep it themselves.
type MediaInfo struct {
	Path           string          `json:"path"`
	Duration       float64         `json:"duration"`
	VideoStreams   []VideoStream   `json:"videoStreams"`
	AudioTracks    []AudioTrack    `json:"audioTracks"`
	SubtitleTracks []SubtitleTrack `json:"subtitleTracks"`
}

// HasVideo reports whether at least one video stream was found.
func (m *MediaInfo) HasVideo() bool { return len(m.VideoStreams) > 0 }

// AudioTrackOrFallback returns the audio track at the dense index, clamped to
// track 0 when the index is out of range. ok is false when the file has no
// audio at all.
func (m *MediaInfo) AudioTrackOrFallback(index int) (AudioTrack, bool) {
	if len(m.AudioTracks) == 0 {
		return AudioTrack{}, false
	}
	if index < 0 || index >= len(m.AudioTracks) {
		return m.AudioTracks[0], true
	}
	return m.AudioTracks[index], true
}

// SubtitleTrackAt returns the subtitle track at the dense index. Unlike audio
// there is no fallback: an out-of-range subtitle request is an error.
func (m *MediaInfo) SubtitleTrackAt(index int) (SubtitleTrack, bool) {
	if index < 0 || index >= len(m.SubtitleTracks) {
		return SubtitleTrack{}, false
	}
	return m.SubtitleTracks[index], true
}
