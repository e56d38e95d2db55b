package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"telecine/models"
	"telecine/services/transcode"
)

// directPlayableExtensions are containers the in-app player handles natively;
// everything else on the direct path is redirected to the transcoding route.
var directPlayableExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
}

// transcodeRequiredExtensions are containers known to need conversion.
var transcodeRequiredExtensions = map[string]struct{}{
	".mkv":  {},
	".avi":  {},
	".mov":  {},
	".flv":  {},
	".ts":   {},
	".m2ts": {},
	".mpg":  {},
	".mpeg": {},
	".wmv":  {},
}

// MediaProber extracts stream metadata for a file.
type MediaProber interface {
	Probe(ctx context.Context, path string) (*models.MediaInfo, error)
}

// SessionManager is the handler-facing surface of the transcode process
// manager and its session state.
type SessionManager interface {
	Target() (string, int)
	SetTarget(path string, audioTrack int)
	SetAudioTrack(track int)
	Start(args []string) (transcode.Process, error)
	StartDetached(args []string) (transcode.Process, error)
	TerminateActive()
	Release(p transcode.Process)
	Active() transcode.Process
}

var _ SessionManager = (*transcode.Manager)(nil)

// VideoHandler serves the player-facing stream routes: direct byte-range
// delivery, live transcoded delivery, audio track switching, and subtitle
// extraction.
type VideoHandler struct {
	prober  MediaProber
	session SessionManager

	streamPath  string // route the direct path redirects to for transcoding
	idleTimeout int    // seconds; 0 disables the stall guard
}

// NewVideoHandler wires the stream routes to their collaborators.
func NewVideoHandler(prober MediaProber, session SessionManager, idleTimeoutSeconds int) *VideoHandler {
	return &VideoHandler{
		prober:      prober,
		session:     session,
		streamPath:  "/stream",
		idleTimeout: idleTimeoutSeconds,
	}
}

// NeedsTranscoding reports whether the container extension requires the
// transcoding path for browser playback.
func NeedsTranscoding(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := directPlayableExtensions[ext]; ok {
		return false
	}
	if _, ok := transcodeRequiredExtensions[ext]; ok {
		return true
	}
	// Unknown container: the transcoding path is the safe default.
	return true
}

// StreamVideo serves the session target directly with byte-range support.
// Formats that require transcoding are redirected to the transcoding route.
func (h *VideoHandler) StreamVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		HandleOptions(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path, _ := h.session.Target()
	if path == "" {
		http.Error(w, "no playback target selected", http.StatusNotFound)
		return
	}

	if NeedsTranscoding(path) {
		log.Printf("[video] container of %q needs transcoding, redirecting to %s", path, h.streamPath)
		writeCommonHeaders(w)
		http.Redirect(w, r, h.streamPath, http.StatusFound)
		return
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		log.Printf("[video] open failed path=%q err=%v", path, err)
		http.Error(w, "failed to open media file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		log.Printf("[video] stat failed path=%q err=%v", path, err)
		http.Error(w, "failed to stat media file", http.StatusInternalServerError)
		return
	}
	size := stat.Size()

	writeCommonHeaders(w)
	w.Header().Set("Content-Type", contentTypeForFile(path))
	w.Header().Set("Accept-Ranges", "bytes")

	rangeHeader := strings.TrimSpace(r.Header.Get("Range"))
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, file); err != nil {
			log.Printf("[video] full stream interrupted path=%q err=%v", path, err)
		}
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}

	chunk := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(chunk, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		log.Printf("[video] seek failed path=%q offset=%d err=%v", path, start, err)
		return
	}
	if _, err := io.CopyN(w, file, chunk); err != nil {
		log.Printf("[video] range stream interrupted path=%q range=%d-%d err=%v", path, start, end, err)
	}
}

// parseByteRange interprets a "bytes=" range header against the file size.
// Only single ranges are supported; multipart ranges are not produced by the
// in-app player.
func parseByteRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range unit in %q", header)
	}
	if idx := strings.Index(spec, ","); idx >= 0 {
		spec = spec[:idx]
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}

	if startStr == "" {
		// Suffix range: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed suffix range %q", header)
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range start %q", header)
	}
	if start >= size {
		return 0, 0, fmt.Errorf("range start %d beyond size %d", start, size)
	}

	if endStr == "" {
		return start, size - 1, nil
	}
	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("malformed range end %q", header)
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

// contentTypeForFile maps known container extensions to their media type and
// falls back to content sniffing for anything unrecognized.
func contentTypeForFile(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := directPlayableExtensions[ext]; ok {
		return ct
	}
	if mtype, err := mimetype.DetectFile(path); err == nil {
		return mtype.String()
	}
	return "application/octet-stream"
}
