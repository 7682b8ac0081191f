package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lucasnoah/cashout/internal/pipeline"
)

// handleStream serves a Server-Sent Events stream of pipeline state. The
// current state is sent on connect and again on every change. A slow client
// only ever sees the latest state; intermediate updates are dropped.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present

	updates := make(chan pipeline.PipelineState, 1)
	push := func(ps pipeline.PipelineState) {
		// Runs under the controller lock: never block.
		select {
		case updates <- ps:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- ps:
			default:
			}
		}
	}
	unsubscribe := s.ctrl.Subscribe(push)
	defer unsubscribe()

	send := func(ps pipeline.PipelineState) bool {
		data, err := json.Marshal(stateResponse(ps))
		if err != nil {
			s.logger.Error("encode state event", "error", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(s.ctrl.Snapshot()) {
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ps := <-updates:
			if !send(ps) {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
