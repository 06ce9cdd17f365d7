package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/domain"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
)

const clientTimeout = 90 * time.Second

// NewHTTPClientGateway returns a Contract that talks to a control API at baseURL
func NewHTTPClientGateway(baseURL string, logger logging.Logger) domain.Contract {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &httpClientGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: clientTimeout},
		logger:  logger,
	}
}

type httpClientGateway struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

func (gw *httpClientGateway) Status(ctx context.Context) (string, error) {
	var response HealthResponse
	if err := gw.do(ctx, http.MethodGet, "/health", &response); err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return "", err
	}
	gw.logger.Debugf("Status client gateway done")
	return response.Status, nil
}

func (gw *httpClientGateway) ListApps(ctx context.Context) ([]domain.AppStatus, error) {
	var apps []domain.AppStatus
	if err := gw.do(ctx, http.MethodGet, "/api/apps", &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

func (gw *httpClientGateway) GetApp(ctx context.Context, name string) (*domain.AppStatus, error) {
	var app domain.AppStatus
	if err := gw.do(ctx, http.MethodGet, "/api/apps/"+url.PathEscape(name), &app); err != nil {
		return nil, err
	}
	return &app, nil
}

func (gw *httpClientGateway) StartApp(ctx context.Context, name string) error {
	return gw.do(ctx, http.MethodPost, "/api/apps/"+url.PathEscape(name)+"/start", nil)
}

func (gw *httpClientGateway) StopApp(ctx context.Context, name string) error {
	return gw.do(ctx, http.MethodPost, "/api/apps/"+url.PathEscape(name)+"/stop", nil)
}

func (gw *httpClientGateway) RestartApp(ctx context.Context, name string, force bool) error {
	path := "/api/apps/" + url.PathEscape(name) + "/restart"
	if force {
		path += "?force=true"
	}
	return gw.do(ctx, http.MethodPost, path, nil)
}

// do sends the request and decodes a 2xx body into out. Error replies come
// back as domain errors of the type the server reported.
func (gw *httpClientGateway) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, gw.baseURL+path, nil)
	if err != nil {
		return errors.NewValidationError("invalid request", err).WithContext("url", gw.baseURL+path)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := gw.client.Do(req)
	if err != nil {
		return errors.NewNetworkError("control API request failed", err).WithContext("url", gw.baseURL+path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewNetworkError("failed to read control API response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr != nil || errResp.Type == "" {
			return errors.NewNetworkError(fmt.Sprintf("control API returned %s", resp.Status), nil).
				WithContext("body", strings.TrimSpace(string(body)))
		}
		return errors.NewDomainError(errors.ErrorType(errResp.Type), errResp.Message, fmt.Errorf("%s", errResp.Error))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.NewInternalError("failed to decode control API response", err)
	}
	return nil
}
