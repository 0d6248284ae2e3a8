package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fgeck/mackup/internal/models"
)

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed talks to a dweet-style relay: things are written with
// POST /dweet/for/{thing} and read with GET /get/latest/dweet/for/{thing}.
type HTTPFeed struct {
	httpClient HTTPClient
	baseURL    string
}

// NewHTTPFeed creates an HTTP feed channel rooted at baseURL.
func NewHTTPFeed(httpClient HTTPClient, baseURL string) *HTTPFeed {
	return &HTTPFeed{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// feedResponse is the envelope returned by the relay. With is a list of
// dweets on success and a status code on failure.
type feedResponse struct {
	This    string          `json:"this"`
	With    json.RawMessage `json:"with"`
	Because string          `json:"because,omitempty"`
}

type dweet struct {
	Thing   string              `json:"thing"`
	Created time.Time           `json:"created"`
	Content models.StatusSignal `json:"content"`
}

// Publish posts signal as the newest value of topic.
func (f *HTTPFeed) Publish(ctx context.Context, topic string, signal models.StatusSignal) error {
	body, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	endpoint := fmt.Sprintf("%s/dweet/for/%s", f.baseURL, url.PathEscape(topic))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var envelope feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.This == "failed" {
		return fmt.Errorf("feed rejected signal: %s", envelope.Because)
	}

	return nil
}

// Latest returns the most recent signal for topic.
func (f *HTTPFeed) Latest(ctx context.Context, topic string) (*models.StatusSignal, error) {
	endpoint := fmt.Sprintf("%s/get/latest/dweet/for/%s", f.baseURL, url.PathEscape(topic))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoSignal
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var envelope feedResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse feed response: %w", err)
	}
	if envelope.This != "succeeded" {
		return nil, ErrNoSignal
	}

	var dweets []dweet
	if err := json.Unmarshal(envelope.With, &dweets); err != nil {
		return nil, fmt.Errorf("failed to parse dweets: %w", err)
	}
	if len(dweets) == 0 {
		return nil, ErrNoSignal
	}

	signal := dweets[0].Content
	if err := checkSignal(&signal); err != nil {
		return nil, err
	}
	if signal.Time.IsZero() {
		signal.Time = dweets[0].Created
	}
	return &signal, nil
}

// Close is a no-op; the HTTP client holds no per-feed resources.
func (f *HTTPFeed) Close() error { return nil }
