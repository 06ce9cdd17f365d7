package control

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/domain"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"

	"github.com/gorilla/mux"
)

// NewRouter exposes contract over HTTP
func NewRouter(contract domain.Contract, logger logging.Logger) *mux.Router {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	h := &httpServerHandler{handler: contract, logger: logger}
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/apps", h.ListApps).Methods(http.MethodGet)
	api.HandleFunc("/apps/{name}", h.GetApp).Methods(http.MethodGet)
	api.HandleFunc("/apps/{name}/start", h.StartApp).Methods(http.MethodPost)
	api.HandleFunc("/apps/{name}/stop", h.StopApp).Methods(http.MethodPost)
	api.HandleFunc("/apps/{name}/restart", h.RestartApp).Methods(http.MethodPost)

	r.Use(recoveryMiddleware(h))
	r.Use(loggingMiddleware(logger))

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			logger.Debugf("%s %s %d %v", r.Method, r.URL.Path, recorder.status, time.Since(start))
		})
	}
}

func recoveryMiddleware(h *httpServerHandler) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					h.logger.Errorf("Panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
					h.writeError(w, errors.NewInternalError("internal server error", nil), "Request failed")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
