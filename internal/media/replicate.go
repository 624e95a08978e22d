package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/pixora-labs/pixora/internal/config"
	"github.com/pixora-labs/pixora/internal/metrics"
)

// Prediction statuses reported by Replicate.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusCanceled  = "canceled"
)

// User-facing provider failure messages.
const (
	MsgGenerateFailed = "Error generating images"
	MsgUpscaleFailed  = "Error upscaling image"
)

// ReplicateClient runs predictions against the Replicate HTTP API. Calls are
// throttled by a token bucket and guarded by a circuit breaker.
type ReplicateClient struct {
	cfg     config.ProviderConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
}

// NewReplicateClient creates a new Replicate gateway.
func NewReplicateClient(cfg config.ProviderConfig) *ReplicateClient {
	rps := rate.Limit(cfg.RequestsPerSec)
	if cfg.RequestsPerSec <= 0 {
		rps = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	settings := gobreaker.Settings{
		Name:        "replicate",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Bad input and caller cancellation say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || IsValidation(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("media: circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			metrics.ProviderBreakerState.Set(float64(to))
		},
	}

	return &ReplicateClient{
		cfg: cfg,
		// The overall ceiling is applied per call through the context.
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rps, burst),
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// BreakerState reports the circuit breaker state for readiness checks.
func (c *ReplicateClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

type predictionRequest struct {
	Input map[string]any `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

// Generate runs the text-to-image model and returns the produced image URLs.
func (c *ReplicateClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) ([]string, error) {
	if err := ValidatePrompt(prompt); err != nil {
		return nil, err
	}

	input := map[string]any{
		"prompt":      ApplyStyle(opts.Style, prompt),
		"num_outputs": ClampCount(opts.Count),
		"quality":     string(ParseQuality(string(opts.Quality))),
	}

	out, err := c.run(ctx, "generate", c.cfg.GenerateModel, input, MsgGenerateFailed)
	if err != nil {
		return nil, err
	}

	images, err := decodeOutputList(out)
	if err != nil || len(images) == 0 {
		return nil, &Error{Kind: KindProvider, Op: "generate", Message: MsgGenerateFailed,
			Err: fmt.Errorf("unexpected output %s: %w", truncate(out), errOrEmpty(err))}
	}
	return images, nil
}

// Upscale runs the super-resolution model on imageURL.
func (c *ReplicateClient) Upscale(ctx context.Context, imageURL string) (string, error) {
	if err := ValidateImageURL(imageURL); err != nil {
		return "", err
	}

	scale := c.cfg.UpscaleScale
	if scale == 0 {
		scale = 4
	}
	input := map[string]any{
		"image":        imageURL,
		"scale":        scale,
		"face_enhance": c.cfg.FaceEnhance,
	}

	out, err := c.run(ctx, "upscale", c.cfg.UpscaleModel, input, MsgUpscaleFailed)
	if err != nil {
		return "", err
	}

	var single string
	if err := json.Unmarshal(out, &single); err == nil && single != "" {
		return single, nil
	}
	// Some model versions answer with a one-element list.
	if list, err := decodeOutputList(out); err == nil && len(list) == 1 {
		return list[0], nil
	}
	return "", &Error{Kind: KindProvider, Op: "upscale", Message: MsgUpscaleFailed,
		Err: fmt.Errorf("unexpected output %s", truncate(out))}
}

// run creates a prediction and polls it to a terminal status.
func (c *ReplicateClient) run(ctx context.Context, op, model string, input map[string]any, failMsg string) (json.RawMessage, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, classify(op, failMsg, ctx.Err())
			}
			// The wait alone would outlast the deadline.
			return nil, &Error{Kind: KindTimeout, Op: op, Message: failMsg, Err: err}
		}
		return c.predict(ctx, op, model, input, failMsg)
	})

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "cancelled"
		}
	}
	metrics.ProviderRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Kind: KindProvider, Op: op, Message: failMsg, Status: http.StatusServiceUnavailable, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (c *ReplicateClient) predict(ctx context.Context, op, model string, input map[string]any, failMsg string) (json.RawMessage, error) {
	body, err := json.Marshal(predictionRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshaling prediction input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/models/%s/predictions", strings.TrimRight(c.cfg.BaseURL, "/"), model)
	p, err := c.do(ctx, op, failMsg, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	poll := c.cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		switch p.Status {
		case statusSucceeded:
			return p.Output, nil
		case statusFailed, statusCanceled:
			return nil, &Error{Kind: KindProvider, Op: op, Message: failMsg,
				Err: fmt.Errorf("prediction %s %s: %v", p.ID, p.Status, p.Error)}
		}

		select {
		case <-ctx.Done():
			c.cancelPrediction(p)
			return nil, classify(op, failMsg, ctx.Err())
		case <-ticker.C:
		}

		getURL := p.URLs.Get
		if getURL == "" {
			getURL = fmt.Sprintf("%s/v1/predictions/%s", strings.TrimRight(c.cfg.BaseURL, "/"), p.ID)
		}
		next, err := c.do(ctx, op, failMsg, http.MethodGet, getURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				c.cancelPrediction(p)
			}
			return nil, err
		}
		p = next
	}
}

// cancelPrediction asks Replicate to stop work the caller abandoned. It runs
// on its own short deadline since the job context is already done.
func (c *ReplicateClient) cancelPrediction(p *prediction) {
	cancelURL := p.URLs.Cancel
	if cancelURL == "" {
		if p.ID == "" {
			return
		}
		cancelURL = fmt.Sprintf("%s/v1/predictions/%s/cancel", strings.TrimRight(c.cfg.BaseURL, "/"), p.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.do(ctx, "cancel", "cancel failed", http.MethodPost, cancelURL, nil); err != nil {
		slog.Warn("media: cancelling prediction failed", "prediction_id", p.ID, "error", err)
		return
	}
	slog.Debug("media: prediction cancelled", "prediction_id", p.ID)
}

func (c *ReplicateClient) do(ctx context.Context, op, failMsg, method, url string, body []byte) (*prediction, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(op, failMsg, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classify(op, failMsg, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Kind: KindProvider, Op: op, Message: failMsg, Status: resp.StatusCode,
			Err: fmt.Errorf("replicate returned %d: %s", resp.StatusCode, truncate(respBody))}
	}

	var p prediction
	if err := json.Unmarshal(respBody, &p); err != nil {
		return nil, &Error{Kind: KindProvider, Op: op, Message: failMsg, Status: resp.StatusCode,
			Err: fmt.Errorf("decoding prediction: %w", err)}
	}
	return &p, nil
}

func decodeOutputList(out json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, err
	}
	images := list[:0]
	for _, u := range list {
		if u != "" {
			images = append(images, u)
		}
	}
	return images, nil
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return errors.New("empty output")
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
