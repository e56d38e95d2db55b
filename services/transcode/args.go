package transcode

import (
	"fmt"

	"telecine/models"
)

// StreamArgs builds the ffmpeg invocation for live fragmented-MP4 delivery:
// exactly one mapped video stream (the first), h264 at a constant frame rate
// with a web-friendly pixel format, and movflags that let the player begin
// playback and learn duration before the whole output exists.
//
// audio is the track to map, addressed by its sparse container stream index;
// nil means the file has no audio streams and the output carries no audio.
func StreamArgs(path string, audio *models.AudioTrack) []string {
	args := []string{
		"-v", "error",
		"-i", path,
		"-map", "0:v:0",
	}

	if audio != nil {
		args = append(args,
			"-map", fmt.Sprintf("0:%d", audio.StreamIndex),
			"-c:a", "aac",
			"-b:a", "192k",
			"-ac", "2",
		)
	} else {
		args = append(args, "-an")
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-r", "30",
		"-vsync", "cfr",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"pipe:1",
	)
	return args
}

// SubtitleArgs builds the ffmpeg invocation that extracts a single subtitle
// stream as WebVTT. streamIndex is the sparse container index, not the dense
// subtitle index.
func SubtitleArgs(path string, streamIndex int) []string {
	return []string{
		"-v", "error",
		"-i", path,
		"-map", fmt.Sprintf("0:%d", streamIndex),
		"-f", "webvtt",
		"pipe:1",
	}
}
