package jobs

import (
	"math"

	"github.com/pixora-labs/pixora/internal/media"
)

var (
	costPerImage = map[media.Quality]float64{
		media.QualityStandard: 0.02,
		media.QualityHigh:     0.04,
	}
	secondsPerImage = map[media.Quality]int{
		media.QualityStandard: 15,
		media.QualityHigh:     25,
	}
)

// Estimate is the expected cost and duration of a generate request.
type Estimate struct {
	Quality         media.Quality `json:"quality"`
	Count           int           `json:"count"`
	CostPerImage    float64       `json:"cost_per_image"`
	TotalCost       float64       `json:"total_cost"`
	SecondsPerImage int           `json:"seconds_per_image"`
	TotalSeconds    int           `json:"total_seconds"`
}

// EstimateFor prices count images at quality. Count is clamped like a
// generate request.
func EstimateFor(quality string, count int) Estimate {
	q := media.ParseQuality(quality)
	n := media.ClampCount(count)
	return Estimate{
		Quality:         q,
		Count:           n,
		CostPerImage:    costPerImage[q],
		TotalCost:       math.Round(costPerImage[q]*float64(n)*100) / 100,
		SecondsPerImage: secondsPerImage[q],
		TotalSeconds:    secondsPerImage[q] * n,
	}
}
