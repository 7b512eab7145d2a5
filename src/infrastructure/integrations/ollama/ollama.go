package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"docchat/src/core/failure"
	"docchat/src/log"
)

const (
	DefaultURL = "http://ollama:11434"
)

// ErrTruncated is returned when generation stopped at the model's length limit
type ErrTruncated struct {
	Model string
}

func (e *ErrTruncated) Error() string {
	return fmt.Sprintf("response from %s was truncated by the model", e.Model)
}

// Client generates completions with a fixed model
type Client struct {
	api   *api.Client
	model string
}

// NewClient creates a client for the Ollama server at baseURL (without the /api suffix)
func NewClient(baseURL, model string, c *http.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	u, err := url.Parse(strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/api"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	if c == nil {
		c = http.DefaultClient
	}

	return &Client{
		api:   api.NewClient(u, c),
		model: model,
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

// Generate runs one non-streaming completion. All failures wrap failure.ErrLLM.
func (c *Client) Generate(ctx context.Context, system, prompt string, temperature float64) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:  c.model,
		System: system,
		Prompt: prompt,
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": temperature,
		},
	}

	var (
		answer     strings.Builder
		doneReason string
	)
	err := c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		answer.WriteString(resp.Response)
		if resp.Done {
			doneReason = resp.DoneReason
		}
		return nil
	})
	if err != nil {
		log.Error(err, "failed to make request to ollama", "model", c.model)
		return "", fmt.Errorf("%w: model %s: %w", failure.ErrLLM, c.model, err)
	}

	if doneReason == "length" {
		return "", fmt.Errorf("%w: %w", failure.ErrLLM, &ErrTruncated{Model: c.model})
	}
	if strings.TrimSpace(answer.String()) == "" {
		return "", fmt.Errorf("%w: no response received from model %s", failure.ErrLLM, c.model)
	}

	log.Debug("received response from ollama", "model", c.model, "length", answer.Len())
	return answer.String(), nil
}

// Heartbeat checks the server is reachable
func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.api.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama heartbeat failed: %w", err)
	}
	return nil
}
