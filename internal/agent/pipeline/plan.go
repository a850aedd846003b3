// Package pipeline executes one transcoding job on a worker: source
// download, probing, ladder planning, FFmpeg encoding, segment watching,
// verified upload, and finalization against the coordinator.
package pipeline

import (
	"github.com/vlogmedia/vlog/internal/models"
)

// VariantPlan is one quality rung the encoder will produce.
type VariantPlan struct {
	Quality          models.Quality
	Width            int
	Height           int
	VideoBitrateKbps int
	AudioBitrateKbps int
}

// ladder is the full quality ladder, lowest first. Widths assume 16:9; the
// encoder preserves the source aspect ratio and only pins the height.
var ladder = []VariantPlan{
	{Quality: models.Quality360p, Width: 640, Height: 360, VideoBitrateKbps: 800, AudioBitrateKbps: 96},
	{Quality: models.Quality480p, Width: 854, Height: 480, VideoBitrateKbps: 1400, AudioBitrateKbps: 128},
	{Quality: models.Quality720p, Width: 1280, Height: 720, VideoBitrateKbps: 2800, AudioBitrateKbps: 128},
	{Quality: models.Quality1080p, Width: 1920, Height: 1080, VideoBitrateKbps: 5000, AudioBitrateKbps: 192},
	{Quality: models.Quality1440p, Width: 2560, Height: 1440, VideoBitrateKbps: 9000, AudioBitrateKbps: 192},
	{Quality: models.Quality2160p, Width: 3840, Height: 2160, VideoBitrateKbps: 16000, AudioBitrateKbps: 192},
}

// PlanLadder selects the rungs to encode for a source. Rungs above the
// source height are skipped (no upscaling), and the worker's capability
// ceiling applies. A source below the lowest rung still gets that rung.
func PlanLadder(sourceHeight int, caps models.Capabilities) []VariantPlan {
	maxHeight := caps.MaxHeight
	if maxHeight <= 0 {
		maxHeight = ladder[len(ladder)-1].Height
	}
	if sourceHeight <= 0 {
		// Probe did not yield dimensions; encode a conservative ladder.
		sourceHeight = 1080
	}

	var plans []VariantPlan
	for _, rung := range ladder {
		if rung.Height > maxHeight {
			break
		}
		if rung.Height > sourceHeight {
			break
		}
		plans = append(plans, rung)
	}
	if len(plans) == 0 {
		plans = append(plans, ladder[0])
	}
	return plans
}
