package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lucasnoah/cashout/internal/pipeline"
)

// stateView is the state plus the values a UI derives from it.
type stateView struct {
	pipeline.PipelineState
	Active    bool `json:"active"`
	CanRetry  bool `json:"can_retry"`
	CanCancel bool `json:"can_cancel"`
}

func stateResponse(ps pipeline.PipelineState) stateView {
	return stateView{
		PipelineState: ps,
		Active:        pipeline.IsActive(ps),
		CanRetry:      pipeline.CanRetry(ps),
		CanCancel:     pipeline.CanCancel(ps),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"request_id": middleware.GetReqID(r.Context()),
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
