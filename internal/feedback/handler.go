package feedback

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"jobmate/applier-service/internal/model"
)

// Handler exposes feedback recording over HTTP. The Gateway forwards outcome
// signals here as they are observed.
//
// Routes:
//
//	POST /feedback → record a signal for an application
type Handler struct {
	tracker *Tracker
	logger  *zap.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(tracker *Tracker, logger *zap.Logger) *Handler {
	return &Handler{tracker: tracker, logger: logger}
}

// RegisterRoutes mounts the feedback routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/feedback", h.handleFeedback)
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		ApplicationID string `json:"applicationId"`
		Signal        string `json:"signal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ApplicationID == "" || body.Signal == "" {
		jsonError(w, "body must contain applicationId and signal", http.StatusBadRequest)
		return
	}

	ev, err := h.tracker.Record(r.Context(), body.ApplicationID, model.FeedbackSignal(body.Signal))
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownSignal):
			jsonError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrApplicationNotFound):
			jsonError(w, err.Error(), http.StatusNotFound)
		default:
			h.logger.Error("recording feedback failed",
				zap.String("application_id", body.ApplicationID),
				zap.Error(err),
			)
			jsonError(w, "database error", http.StatusInternalServerError)
		}
		return
	}

	jsonOK(w, ev)
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
