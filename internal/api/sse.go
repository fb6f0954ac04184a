package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"paydash/internal/telemetry"
)

type streamError struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// stream pushes produce's result as an SSE data frame immediately and then
// every interval until the client goes away. Each tick gets its own store
// timeout; a failed tick is reported in-band and retried on the next one.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, name string, interval time.Duration, connected any, produce func(ctx context.Context) any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, "Streaming unsupported", fmt.Errorf("response writer for %s is not a flusher", name))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "retry: %d\n\n", s.cfg.SSERetry.Milliseconds())
	flusher.Flush()

	clients := telemetry.SSEClients.WithLabelValues(name)
	clients.Inc()
	defer clients.Dec()
	log := s.log.WithField("stream", name)
	log.Debug("stream client connected")

	ctx := r.Context()
	if connected != nil && !writeEvent(w, flusher, connected) {
		return
	}

	tick := func() bool {
		tickCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		defer cancel()
		return writeEvent(w, flusher, produce(tickCtx))
	}
	if !tick() {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug("stream client disconnected")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if !tick() {
				log.Debug("stream write failed, closing")
				return
			}
		}
	}
}

// writeEvent frames payload as `data: <json>\n\n`. It reports false once the peer is gone.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(streamError{Success: false, Error: "encode failed", Timestamp: time.Now().UTC()})
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
