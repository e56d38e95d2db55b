package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"telecine/services/probe"
	"telecine/services/transcode"
)

// StreamTranscode serves the session target as a live fragmented-MP4
// transcode. The request context's cancellation (client disconnect, player
// closed, page navigated away) is the primary cleanup signal: it terminates
// the transcoding process so encoding never continues with no consumer.
func (h *VideoHandler) StreamTranscode(w http.ResponseWriter, r *http.Request) {
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

	ctx := r.Context()
	info, err := h.prober.Probe(ctx, path)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to read media metadata"
		if errors.Is(err, probe.ErrFileNotFound) {
			status = http.StatusNotFound
			msg = "file not found"
		}
		log.Printf("[stream] probe failed path=%q err=%v", path, err)
		http.Error(w, msg, status)
		return
	}
	if !info.HasVideo() {
		log.Printf("[stream] refusing transcode, no video stream path=%q", path)
		http.Error(w, "no video stream in file", http.StatusInternalServerError)
		return
	}

	// The probe suspended us; another request may have switched the session
	// target or track in the meantime. Re-read instead of trusting the
	// values captured before the suspension.
	currentPath, track := h.session.Target()
	if currentPath != path {
		log.Printf("[stream] session target changed during probe (%q -> %q), restarting", path, currentPath)
		writeCommonHeaders(w)
		http.Redirect(w, r, h.streamPath, http.StatusFound)
		return
	}

	var args []string
	if audio, ok := info.AudioTrackOrFallback(track); ok {
		if track != audio.Index {
			log.Printf("[stream] audio track %d out of range, falling back to %d", track, audio.Index)
		}
		args = transcode.StreamArgs(path, &audio)
	} else {
		args = transcode.StreamArgs(path, nil)
	}

	proc, err := h.session.Start(args)
	if err != nil {
		if errors.Is(err, transcode.ErrSuperseded) {
			log.Printf("[stream] start superseded path=%q", path)
			http.Error(w, "playback superseded by a newer request", http.StatusConflict)
			return
		}
		log.Printf("[stream] transcode start failed path=%q err=%v", path, err)
		http.Error(w, "failed to start transcoding", http.StatusInternalServerError)
		return
	}

	writeCommonHeaders(w)
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "none")
	if info.Duration > 0 {
		dur := strconv.FormatFloat(info.Duration, 'f', 3, 64)
		w.Header().Set("X-Content-Duration", dur)
		w.Header().Set("Content-Duration", dur)
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		proc.Terminate()
		h.session.Release(proc)
		return
	}

	h.pipeProcess(w, r, proc, path)
}

// pipeProcess pumps live tool output into the response until the stream
// ends, the client disconnects, or the output stalls past the idle timeout.
// Headers are already written; failures past this point can only end the
// stream, not change the status.
func (h *VideoHandler) pipeProcess(w http.ResponseWriter, r *http.Request, proc transcode.Process, path string) {
	ctx := r.Context()
	stdout := proc.Stdout()
	flusher, _ := w.(http.Flusher)

	var lastProgress atomic.Int64
	lastProgress.Store(time.Now().UnixNano())

	stallGuard := make(chan struct{})
	defer close(stallGuard)
	if h.idleTimeout > 0 {
		timeout := time.Duration(h.idleTimeout) * time.Second
		go func() {
			ticker := time.NewTicker(timeout / 2)
			defer ticker.Stop()
			for {
				select {
				case <-stallGuard:
					return
				case <-ticker.C:
					idle := time.Since(time.Unix(0, lastProgress.Load()))
					if idle > timeout {
						log.Printf("[stream] output stalled for %s, terminating path=%q", idle.Round(time.Second), path)
						proc.Terminate()
						return
					}
				}
			}
		}()
	}

	defer h.session.Release(proc)

	buf := make([]byte, 256*1024)
	var total int64
	flushCounter := 0
	const flushInterval = 2

	for {
		select {
		case <-ctx.Done():
			// Client disconnected: the sole cancellation signal for an
			// in-flight transcode.
			proc.Terminate()
			log.Printf("[stream] client disconnected path=%q total=%d", path, total)
			return
		default:
		}

		n, readErr := stdout.Read(buf)
		if n > 0 {
			lastProgress.Store(time.Now().UnixNano())
			written, writeErr := w.Write(buf[:n])
			if writeErr != nil {
				proc.Terminate()
				log.Printf("[stream] write failed path=%q total=%d err=%v", path, total, writeErr)
				return
			}
			total += int64(written)
			flushCounter++
			if flusher != nil && flushCounter >= flushInterval {
				flusher.Flush()
				flushCounter = 0
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if flusher != nil {
					flusher.Flush()
				}
				break
			}
			proc.Terminate()
			log.Printf("[stream] read failed path=%q total=%d err=%v", path, total, readErr)
			return
		}
	}

	<-proc.Done()
	if err := proc.Err(); err != nil && !isSignalExit(err) {
		tail := strings.TrimSpace(proc.StderrTail())
		log.Printf("[stream] transcode exited with error path=%q err=%v stderr=%q", path, err, tail)
		return
	}
	log.Printf("[stream] transcode complete path=%q bytes=%d", path, total)
}

// isSignalExit reports whether a process exit error came from our own
// termination signal rather than a tool failure.
func isSignalExit(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "signal") || strings.Contains(msg, "broken pipe")
}
