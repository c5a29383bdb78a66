package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/illustra-ai/illustra/internal/config"
)

// Client talks to the Replicate predictions API. Predictions are asynchronous:
// a task is created, then polled until it reaches a terminal state.
type Client struct {
	apiToken   string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

type GenerateOptions struct {
	Prompt       string
	Size         string
	Style        string
	OutputFormat string
}

type Image struct {
	URL   string
	Bytes []byte
	Mime  string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		apiToken: cfg.ReplicateAPIToken,
		baseURL:  strings.TrimRight(cfg.ReplicateBaseURL, "/"),
		model:    cfg.ReplicateModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Generate creates a prediction for the configured model, waits for it to
// finish, and downloads the resulting asset.
func (c *Client) Generate(ctx context.Context, opts GenerateOptions) (*Image, error) {
	if opts.Size == "" {
		opts.Size = "1024x2048"
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = "svg"
	}

	input := map[string]any{
		"prompt":        opts.Prompt,
		"size":          opts.Size,
		"output_format": strings.ToLower(opts.OutputFormat),
	}
	if opts.Style != "" {
		input["style"] = opts.Style
	}

	prediction, err := c.createPrediction(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create prediction: %w", err)
	}

	prediction, err = c.pollPrediction(ctx, prediction.ID)
	if err != nil {
		return nil, err
	}

	outputURL, err := prediction.outputURL()
	if err != nil {
		return nil, err
	}

	data, mime, err := c.download(ctx, outputURL)
	if err != nil {
		return nil, fmt.Errorf("download output: %w", err)
	}

	return &Image{URL: outputURL, Bytes: data, Mime: mime}, nil
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// outputURL handles both output shapes Replicate models produce: a single
// URL string or a list of URLs.
func (p *prediction) outputURL() (string, error) {
	if len(p.Output) == 0 {
		return "", fmt.Errorf("prediction %s finished without output", p.ID)
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil && len(list) > 0 {
		return list[0], nil
	}
	return "", fmt.Errorf("prediction %s: unsupported output shape", p.ID)
}

func (c *Client) createPrediction(ctx context.Context, input map[string]any) (*prediction, error) {
	fullURL := fmt.Sprintf("%s/v1/models/%s/predictions", c.baseURL, c.model)

	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post replicate: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		c.log.Error("replicate create prediction failed", "status", resp.StatusCode, "model", c.model, "body", truncateBody(rawBody))
		return nil, fmt.Errorf("replicate error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var p prediction
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return nil, fmt.Errorf("decode prediction: %w (body=%s)", err, truncateBody(rawBody))
	}
	if p.ID == "" {
		return nil, fmt.Errorf("empty prediction id in response")
	}

	c.log.Info("replicate prediction created", "prediction_id", p.ID, "model", c.model)
	return &p, nil
}

func (c *Client) pollPrediction(ctx context.Context, id string) (*prediction, error) {
	fullURL := fmt.Sprintf("%s/v1/predictions/%s", c.baseURL, id)

	maxAttempts := 60
	pollInterval := 2 * time.Second

	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("get prediction: %w", err)
		}

		rawBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode >= 300 {
			c.log.Error("replicate poll failed", "status", resp.StatusCode, "prediction_id", id, "body", truncateBody(rawBody))
			return nil, fmt.Errorf("replicate error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
		}

		var p prediction
		if err := json.Unmarshal(rawBody, &p); err != nil {
			return nil, fmt.Errorf("decode prediction: %w (body=%s)", err, truncateBody(rawBody))
		}

		switch p.Status {
		case "succeeded":
			c.log.Info("replicate prediction completed", "prediction_id", id, "attempt", attempt+1)
			return &p, nil

		case "failed", "canceled":
			msg := p.Error
			if msg == "" {
				msg = "unknown error"
			}
			c.log.Error("replicate prediction failed", "prediction_id", id, "status", p.Status, "error", msg)
			return nil, fmt.Errorf("prediction %s: %s", p.Status, msg)

		case "starting", "processing":
			if attempt%10 == 0 {
				c.log.Info("replicate prediction pending", "prediction_id", id, "attempt", attempt+1, "max_attempts", maxAttempts)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pollInterval):
			}

		default:
			return nil, fmt.Errorf("unknown prediction status: %s", p.Status)
		}
	}

	return nil, fmt.Errorf("prediction timeout after %d attempts", maxAttempts)
}

func (c *Client) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch asset: status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read asset body: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/svg+xml"
	}
	return data, mime, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
