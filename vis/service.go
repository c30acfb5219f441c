package vis

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Service forwards metric series to a sidecar plotting dashboard. An
// empty base URL leaves it disabled, so callers can post without
// checking configuration first.
type Service struct {
	baseURL string
	client  *http.Client
}

// NewService creates a client for the dashboard at baseURL.
func NewService(baseURL string) *Service {
	return &Service{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether the service has somewhere to post.
func (s *Service) Enabled() bool {
	return s != nil && s.baseURL != ""
}

// SeriesPoint is one (epoch, value) sample of a metric curve.
type SeriesPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type seriesPayload struct {
	PlotType  string        `json:"plot_type"`
	Title     string        `json:"title"`
	Timestamp time.Time     `json:"timestamp"`
	Points    []SeriesPoint `json:"points"`
}

// PostSeries sends one named curve, indexed by epoch starting at 1.
// Disabled services accept silently; the dashboard is optional.
func (s *Service) PostSeries(title string, values []float64) error {
	if !s.Enabled() {
		return nil
	}

	points := make([]SeriesPoint, len(values))
	for i, v := range values {
		points[i] = SeriesPoint{X: float64(i + 1), Y: v}
	}
	body, err := json.Marshal(seriesPayload{
		PlotType:  "line",
		Title:     title,
		Timestamp: time.Now(),
		Points:    points,
	})
	if err != nil {
		return errors.Wrapf(err, "marshal series %q", title)
	}

	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/api/plot", bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "build plot request for %q", title)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post series %q", title)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("plot service returned status %d for %q", resp.StatusCode, title)
	}
	return nil
}

// Health probes the dashboard's health endpoint.
func (s *Service) Health() error {
	if !s.Enabled() {
		return errors.New("plot service not configured")
	}
	resp, err := s.client.Get(s.baseURL + "/health")
	if err != nil {
		return errors.Wrap(err, "plot service health")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("plot service health returned status %d", resp.StatusCode)
	}
	return nil
}
