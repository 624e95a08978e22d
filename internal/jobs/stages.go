package jobs

import (
	"time"

	"github.com/pixora-labs/pixora/internal/quota"
)

// Stage is a cosmetic progress step shown while a job runs. Stages never
// gate completion.
type Stage struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration,omitempty"`
	Percent  int           `json:"percent,omitempty"`
}

const (
	progressStep = 10
	progressCap  = 90
)

var generateStages = []Stage{
	{Name: "Processing prompt...", Duration: 2 * time.Second},
	{Name: "Crafting composition...", Duration: 4 * time.Second},
	{Name: "Adding details...", Duration: 6 * time.Second},
	{Name: "Finalizing image...", Duration: 3 * time.Second},
}

// Upscale stage indexes.
const (
	upscalePreparing = iota
	upscaleUploading
	upscaleProcessing
	upscaleComplete
)

var upscaleStages = []Stage{
	upscalePreparing:  {Name: "preparing", Percent: 10},
	upscaleUploading:  {Name: "uploading", Percent: 30},
	upscaleProcessing: {Name: "processing", Percent: 50},
	upscaleComplete:   {Name: "complete", Percent: 100},
}

// StagesFor returns the stage list for a job kind.
func StagesFor(kind quota.Kind) []Stage {
	if kind == quota.KindUpscale {
		return upscaleStages
	}
	return generateStages
}

// stageAt returns the index of the timed stage covering elapsed. Past the
// last boundary it stays on the final stage.
func stageAt(stages []Stage, elapsed time.Duration) int {
	var boundary time.Duration
	for i, s := range stages {
		if s.Duration == 0 {
			return i
		}
		boundary += s.Duration
		if elapsed < boundary {
			return i
		}
	}
	return len(stages) - 1
}
