package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// startSSE writes the event-stream headers. It reports false when the
// writer cannot flush, before anything is written.
func startSSE(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, true
}

// event writes one event. The id is the progress percentage so a
// reconnecting client can tell how far it got.
func (s *sseWriter) event(name string, id int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("sse encode error", "event", name, "error", err)
		return
	}
	fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", id, name, data)
	s.flusher.Flush()
}
