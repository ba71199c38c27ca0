package shelltune

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrTrackerAuth is returned when the experiment tracker rejects the API key.
var ErrTrackerAuth = errors.New("tracker authentication failed")

// Tracker receives training metrics. Implementations must be safe to call
// once per logging interval from the training loop.
type Tracker interface {
	LogMetrics(ctx context.Context, step int, metrics map[string]float64) error
	Close(ctx context.Context) error
}

// NewNoopTracker returns a tracker that drops everything. Used when no API
// key is configured so offline runs still work.
func NewNoopTracker() Tracker {
	return noopTracker{}
}

type noopTracker struct{}

func (noopTracker) LogMetrics(context.Context, int, map[string]float64) error { return nil }
func (noopTracker) Close(context.Context) error                              { return nil }

// TrackerConfig points at the remote experiment tracker.
type TrackerConfig struct {
	BaseURL string `yaml:"base_url"`
	Project string `yaml:"project"`
	RunName string `yaml:"run_name"`
}

// httpTracker talks to the remote experiment tracker: one login with a static
// API key up front, then metric posts for the rest of the run.
type httpTracker struct {
	client  *http.Client
	baseURL string
	token   string
	runID   string
	log     zerolog.Logger
}

type loginRequest struct {
	APIKey string `json:"api_key"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type createRunRequest struct {
	Project string `json:"project"`
	RunName string `json:"run_name"`
}

type createRunResponse struct {
	RunID string `json:"run_id"`
}

type metricsRequest struct {
	RunID   string             `json:"run_id"`
	Step    int                `json:"step"`
	Metrics map[string]float64 `json:"metrics"`
}

// NewTracker logs in to the experiment tracker and opens a run. An empty API
// key yields the no-op tracker.
func NewTracker(ctx context.Context, cfg TrackerConfig, apiKey string, log zerolog.Logger) (Tracker, error) {
	if apiKey == "" {
		log.Debug().Msg("no tracker api key, metrics disabled")
		return NewNoopTracker(), nil
	}
	t := &httpTracker{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: cfg.BaseURL,
		log:     log,
	}
	var login loginResponse
	if err := t.post(ctx, "/api/login", loginRequest{APIKey: apiKey}, &login); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrackerAuth, err)
	}
	t.token = login.Token
	var run createRunResponse
	if err := t.post(ctx, "/api/runs", createRunRequest{Project: cfg.Project, RunName: cfg.RunName}, &run); err != nil {
		return nil, fmt.Errorf("creating tracker run: %w", err)
	}
	t.runID = run.RunID
	log.Info().Str("run_id", t.runID).Msg("tracker run opened")
	return t, nil
}

// LogMetrics posts one step's metrics to the run.
func (t *httpTracker) LogMetrics(ctx context.Context, step int, metrics map[string]float64) error {
	return t.post(ctx, "/api/runs/metrics", metricsRequest{RunID: t.runID, Step: step, Metrics: metrics}, nil)
}

// Close marks the run finished.
func (t *httpTracker) Close(ctx context.Context) error {
	return t.post(ctx, "/api/runs/"+t.runID+"/finish", struct{}{}, nil)
}

func (t *httpTracker) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tracker returned status %d for %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
