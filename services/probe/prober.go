package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"telecine/models"
)

const probeTimeout = 15 * time.Second

var (
	// ErrFileNotFound indicates the target path is missing on disk.
	ErrFileNotFound = errors.New("media file not found")
	// ErrNoVideoStream indicates the probe succeeded but the file carries no
	// video stream; transcoding is refused for such files.
	ErrNoVideoStream = errors.New("no video stream in file")
)

// ProbeError wraps the diagnostic output of a failed ffprobe run.
type ProbeError struct {
	Path    string
	Message string
	Err     error
}

func (e *ProbeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("probe %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ffprobeOutput mirrors the JSON emitted by ffprobe -of json.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		Index       int               `json:"index"`
		CodecType   string            `json:"codec_type"`
		CodecName   string            `json:"codec_name"`
		Width       int               `json:"width"`
		Height      int               `json:"height"`
		Channels    int               `json:"channels"`
		SampleRate  string            `json:"sample_rate"`
		Tags        map[string]string `json:"tags"`
		Disposition map[string]int    `json:"disposition"`
	} `json:"streams"`
}

// runner abstracts the ffprobe invocation so tests can feed canned output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Prober extracts per-file stream metadata via ffprobe.
type Prober struct {
	ffprobePath string
	run         runner
	statFile    func(string) (os.FileInfo, error)
}

// NewProber creates a prober bound to the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	resolved := strings.TrimSpace(ffprobePath)
	if resolved == "" {
		resolved = "ffprobe"
	}
	if path, err := exec.LookPath(resolved); err == nil {
		resolved = path
	} else {
		log.Printf("[probe] warning: ffprobe unavailable at %q: %v", resolved, err)
	}
	return &Prober{ffprobePath: resolved, run: execRunner, statFile: os.Stat}
}

// Probe inspects the file and returns its stream layout. The result is
// computed fresh on every call; no retries are attempted.
func (p *Prober) Probe(ctx context.Context, path string) (*models.MediaInfo, error) {
	if _, err := p.statFile(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, &ProbeError{Path: path, Err: err}
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-of", "json",
		"-i", path,
	}

	stdout, stderr, err := p.run(probeCtx, p.ffprobePath, args...)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		log.Printf("[probe] ffprobe failed path=%q err=%v stderr=%q", path, err, msg)
		return nil, &ProbeError{Path: path, Message: msg, Err: err}
	}

	var raw ffprobeOutput
	if err := json.Unmarshal(stdout, &raw); err != nil {
		return nil, &ProbeError{Path: path, Message: "unparseable ffprobe output", Err: err}
	}

	return buildMediaInfo(path, &raw), nil
}

// buildMediaInfo assigns dense per-type indices by stable iteration order over
// the tool's stream list. Container stream indices may be sparse; the dense
// index is what the HTTP surface exposes, the container index is what -map
// commands consume.
func buildMediaInfo(path string, raw *ffprobeOutput) *models.MediaInfo {
	info := &models.MediaInfo{
		Path:     path,
		Duration: parseFloat(raw.Format.Duration),
	}

	for _, stream := range raw.Streams {
		switch strings.ToLower(stream.CodecType) {
		case "video":
			info.VideoStreams = append(info.VideoStreams, models.VideoStream{
				Index:  stream.Index,
				Codec:  strings.ToLower(strings.TrimSpace(stream.CodecName)),
				Width:  stream.Width,
				Height: stream.Height,
			})
		case "audio":
			sampleRate, _ := strconv.Atoi(stream.SampleRate)
			info.AudioTracks = append(info.AudioTracks, models.AudioTrack{
				Index:       len(info.AudioTracks),
				StreamIndex: stream.Index,
				Codec:       strings.ToLower(strings.TrimSpace(stream.CodecName)),
				Channels:    stream.Channels,
				SampleRate:  sampleRate,
				Language:    streamLanguage(stream.Tags),
				Title:       stream.Tags["title"],
			})
		case "subtitle":
			info.SubtitleTracks = append(info.SubtitleTracks, models.SubtitleTrack{
				Index:       len(info.SubtitleTracks),
				StreamIndex: stream.Index,
				Codec:       strings.ToLower(strings.TrimSpace(stream.CodecName)),
				Language:    streamLanguage(stream.Tags),
				Title:       stream.Tags["title"],
				Forced:      stream.Disposition["forced"] == 1,
				Default:     stream.Disposition["default"] == 1,
			})
		}
	}

	return info
}

// streamLanguage resolves the tag to a human-readable language name, falling
// back to the raw tag when it is not a recognizable ISO code.
func streamLanguage(tags map[string]string) string {
	raw := strings.TrimSpace(tags["language"])
	if raw == "" || raw == "und" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return raw
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return raw
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
