package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"telecine/services/probe"
	"telecine/services/transcode"
)

// ExtractSubtitle serves one subtitle track of the session target as a live
// WebVTT stream. The track query parameter is the dense subtitle index; it is
// mapped to the sparse container stream index before the extraction command
// is issued. Out-of-range indices are a 404, unlike the audio fallback.
func (h *VideoHandler) ExtractSubtitle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		HandleOptions(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	trackParam := strings.TrimSpace(r.URL.Query().Get("track"))
	track, err := strconv.Atoi(trackParam)
	if err != nil || track < 0 {
		http.Error(w, "invalid track parameter", http.StatusBadRequest)
		return
	}

	path, _ := h.session.Target()
	if path == "" {
		http.Error(w, "no playback target selected", http.StatusNotFound)
		return
	}

	info, err := h.prober.Probe(r.Context(), path)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to read media metadata"
		if errors.Is(err, probe.ErrFileNotFound) {
			status = http.StatusNotFound
			msg = "file not found"
		}
		log.Printf("[subtitle] probe failed path=%q err=%v", path, err)
		http.Error(w, msg, status)
		return
	}

	sub, ok := info.SubtitleTrackAt(track)
	if !ok {
		log.Printf("[subtitle] track %d out of range (%d available) path=%q", track, len(info.SubtitleTracks), path)
		http.Error(w, "subtitle track not found", http.StatusNotFound)
		return
	}

	// Extraction runs detached from the playback session: it must not
	// displace the live video transcode.
	proc, err := h.session.StartDetached(transcode.SubtitleArgs(path, sub.StreamIndex))
	if err != nil {
		log.Printf("[subtitle] extraction start failed path=%q track=%d err=%v", path, track, err)
		http.Error(w, "failed to start subtitle extraction", http.StatusInternalServerError)
		return
	}

	writeCommonHeaders(w)
	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	h.pipeSubtitle(w, r, proc, path, track)
}

func (h *VideoHandler) pipeSubtitle(w http.ResponseWriter, r *http.Request, proc transcode.Process, path string, track int) {
	ctx := r.Context()
	stdout := proc.Stdout()
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			proc.Terminate()
			log.Printf("[subtitle] client disconnected path=%q track=%d", path, track)
			return
		default:
		}

		n, readErr := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				proc.Terminate()
				log.Printf("[subtitle] write failed path=%q track=%d err=%v", path, track, writeErr)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				proc.Terminate()
				log.Printf("[subtitle] read failed path=%q track=%d err=%v", path, track, readErr)
			}
			break
		}
	}

	<-proc.Done()
	if err := proc.Err(); err != nil && !isSignalExit(err) {
		log.Printf("[subtitle] extraction exited with error path=%q track=%d err=%v stderr=%q",
			path, track, err, strings.TrimSpace(proc.StderrTail()))
	}
}
