// Package mock provides a deterministic media.Gateway for tests and local
// development without a provider token.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pixora-labs/pixora/internal/media"
)

// Gateway implements media.Gateway with canned responses. All fields may be
// set before first use; Delay makes every call block until it elapses or the
// context ends.
type Gateway struct {
	// Images is returned by Generate. When nil, Count placeholder URLs are
	// produced.
	Images []string
	// Upscaled is returned by Upscale. When empty, the input URL with a
	// suffix is returned.
	Upscaled string

	GenerateErr error
	UpscaleErr  error
	Delay       time.Duration

	// Release, when non-nil, blocks every call until it is closed.
	Release chan struct{}

	GenerateCalls atomic.Int32
	UpscaleCalls  atomic.Int32

	mu          sync.Mutex
	lastPrompt  string
	lastOptions media.GenerateOptions
	lastImage   string
}

var _ media.Gateway = (*Gateway)(nil)

// Generate returns the configured images or error.
func (g *Gateway) Generate(ctx context.Context, prompt string, opts media.GenerateOptions) ([]string, error) {
	g.GenerateCalls.Add(1)
	g.mu.Lock()
	g.lastPrompt = prompt
	g.lastOptions = opts
	g.mu.Unlock()

	if err := media.ValidatePrompt(prompt); err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	if g.GenerateErr != nil {
		return nil, g.GenerateErr
	}
	if g.Images != nil {
		return append([]string(nil), g.Images...), nil
	}

	n := media.ClampCount(opts.Count)
	images := make([]string, n)
	for i := range images {
		images[i] = fmt.Sprintf("https://mock.pixora.local/generated/%d.png", i+1)
	}
	return images, nil
}

// Upscale returns the configured image or error.
func (g *Gateway) Upscale(ctx context.Context, imageURL string) (string, error) {
	g.UpscaleCalls.Add(1)
	g.mu.Lock()
	g.lastImage = imageURL
	g.mu.Unlock()

	if err := media.ValidateImageURL(imageURL); err != nil {
		return "", err
	}
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	if g.UpscaleErr != nil {
		return "", g.UpscaleErr
	}
	if g.Upscaled != "" {
		return g.Upscaled, nil
	}
	return imageURL + "?upscaled=4x", nil
}

// LastPrompt returns the most recent prompt passed to Generate.
func (g *Gateway) LastPrompt() (string, media.GenerateOptions) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPrompt, g.lastOptions
}

// LastImage returns the most recent URL passed to Upscale.
func (g *Gateway) LastImage() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastImage
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.Release != nil {
		select {
		case <-g.Release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if g.Delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(g.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
