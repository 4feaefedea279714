// Package llm wraps a local Ollama instance behind the explanation
// service. Generation is capacity-limited so a slow model cannot pile
// up goroutines behind it; callers past the cap queue briefly for a
// slot, then get ErrExplainerBusy and fall back to a deterministic
// explanation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a1betting/propcore/internal/domain"
)

// DefaultGenerateTimeout bounds a single generation round-trip.
const DefaultGenerateTimeout = 60 * time.Second

// maxInFlight is the number of concurrent generations allowed against
// the local model before callers start queueing.
const maxInFlight = 2

// slotWait bounds how long a generation waits for a free slot before
// load is shed to the fallback path.
const slotWait = 2 * time.Second

// Client talks to an Ollama server.
type Client struct {
	endpoint string
	http     *http.Client
	slots    chan struct{}
}

// NewClient creates an Ollama client for the given endpoint,
// e.g. http://127.0.0.1:11434.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:11434"
	}
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		slots:    make(chan struct{}, maxInFlight),
	}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of models the server has pulled.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama tags API returned %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Reachable reports whether the Ollama server answers at all.
func (c *Client) Reachable(ctx context.Context) bool {
	_, err := c.ListModels(ctx)
	return err == nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate runs a single non-streaming completion. When maxInFlight
// generations are already running it queues up to slotWait for a slot,
// then returns ErrExplainerBusy.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	select {
	case c.slots <- struct{}{}:
	default:
		timer := time.NewTimer(slotWait)
		defer timer.Stop()
		select {
		case c.slots <- struct{}{}:
		case <-timer.C:
			return "", domain.ErrExplainerBusy
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	defer func() { <-c.slots }()

	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama generate API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return out.Response, nil
}
