package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/domain"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"

	"github.com/gorilla/mux"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SuccessResponse acknowledges a lifecycle request
type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse reports the supervisor itself
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type httpServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *httpServerHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Errorf("Error encoding JSON response: %v", err)
	}
}

func (h *httpServerHandler) writeError(w http.ResponseWriter, err error, message string) {
	status := statusFromError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorf("%s: %v", message, err)
	} else {
		h.logger.Debugf("%s: %v", message, err)
	}

	h.writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Type:    string(errors.TypeOf(err)),
		Message: message,
	})
}

// statusFromError maps a domain error type to an HTTP status
func statusFromError(err error) int {
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsValidationError(err):
		return http.StatusBadRequest
	case errors.IsConflictError(err):
		return http.StatusConflict
	case errors.IsTimeoutError(err), errors.IsCancelledError(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *httpServerHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, err := h.handler.Status(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to get status")
		return
	}
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (h *httpServerHandler) ListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.handler.ListApps(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to list apps")
		return
	}
	if apps == nil {
		apps = []domain.AppStatus{}
	}
	h.writeJSON(w, http.StatusOK, apps)
}

func (h *httpServerHandler) GetApp(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	app, err := h.handler.GetApp(r.Context(), name)
	if err != nil {
		h.writeError(w, err, "Failed to get app "+name)
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

func (h *httpServerHandler) StartApp(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.handler.StartApp(r.Context(), name); err != nil {
		h.writeError(w, err, "Failed to start app "+name)
		return
	}
	h.writeJSON(w, http.StatusOK, SuccessResponse{
		Status:  "started",
		Message: "App " + name + " started",
	})
}

func (h *httpServerHandler) StopApp(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.handler.StopApp(r.Context(), name); err != nil {
		h.writeError(w, err, "Failed to stop app "+name)
		return
	}
	h.writeJSON(w, http.StatusOK, SuccessResponse{
		Status:  "stopped",
		Message: "App " + name + " stopped",
	})
}

func (h *httpServerHandler) RestartApp(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	force := r.URL.Query().Get("force") == "true"

	if err := h.handler.RestartApp(r.Context(), name, force); err != nil {
		h.writeError(w, err, "Failed to restart app "+name)
		return
	}
	h.writeJSON(w, http.StatusOK, SuccessResponse{
		Status:  "restarted",
		Message: "App " + name + " restarted",
	})
}
