// Package media is the boundary to the external image provider.
//
// The Gateway contract is pure with respect to quota and history: callers
// do all bookkeeping around it.
package media

import (
	"context"
	"strings"
)

// Gateway performs the two provider capabilities. Both calls block until the
// provider settles or ctx is done; cancelling ctx aborts the remote work.
type Gateway interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) ([]string, error)
	Upscale(ctx context.Context, imageURL string) (string, error)
}

// Quality of a generation request.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// ParseQuality maps anything other than "high" to standard.
func ParseQuality(s string) Quality {
	if Quality(s) == QualityHigh {
		return QualityHigh
	}
	return QualityStandard
}

// Style is the visual style prepended to a prompt.
type Style string

const (
	StyleRealistic  Style = "realistic"
	StyleArtistic   Style = "artistic"
	StyleAnime      Style = "anime"
	StyleDigitalArt Style = "digital-art"
)

// Styles lists every supported style in display order.
var Styles = []Style{StyleRealistic, StyleArtistic, StyleAnime, StyleDigitalArt}

// ParseStyle returns the named style, or realistic for an empty name.
func ParseStyle(s string) (Style, bool) {
	if s == "" {
		return StyleRealistic, true
	}
	for _, st := range Styles {
		if string(st) == s {
			return st, true
		}
	}
	return StyleRealistic, false
}

// Count bounds for a single generation.
const (
	MinCount     = 1
	MaxCount     = 4
	DefaultCount = 2
)

// ClampCount applies the default for zero and clamps to [MinCount, MaxCount].
func ClampCount(n int) int {
	switch {
	case n == 0:
		return DefaultCount
	case n < MinCount:
		return MinCount
	case n > MaxCount:
		return MaxCount
	}
	return n
}

// GenerateOptions tunes a generation.
type GenerateOptions struct {
	Style   Style
	Quality Quality
	Count   int
}

// ApplyStyle builds the prompt actually sent to the provider.
func ApplyStyle(style Style, prompt string) string {
	if style == "" {
		style = StyleRealistic
	}
	return string(style) + " style: " + strings.TrimSpace(prompt)
}
