package quality

// Tier is a video quality level a client can be asked to switch to
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
	TierUltra  Tier = "ultra"
)

// Constraints are the capture settings a client should apply for a tier
type Constraints struct {
	Width            int `json:"width"`
	Height           int `json:"height"`
	FrameRate        int `json:"frame_rate"`
	VideoBitrateKbps int `json:"video_bitrate_kbps"`
	AudioBitrateKbps int `json:"audio_bitrate_kbps"`
}

var profiles = map[Tier]Constraints{
	TierLow:    {Width: 640, Height: 360, FrameRate: 15, VideoBitrateKbps: 300, AudioBitrateKbps: 32},
	TierMedium: {Width: 1280, Height: 720, FrameRate: 30, VideoBitrateKbps: 1000, AudioBitrateKbps: 64},
	TierHigh:   {Width: 1920, Height: 1080, FrameRate: 30, VideoBitrateKbps: 2500, AudioBitrateKbps: 128},
	TierUltra:  {Width: 3840, Height: 2160, FrameRate: 30, VideoBitrateKbps: 8000, AudioBitrateKbps: 256},
}

// OptimalTier picks the quality tier a client should use given its measured
// downlink bandwidth and CPU load. Bandwidth thresholds dominate; a loaded
// CPU caps the tier even on a fast link
func OptimalTier(bandwidthKbps float64, cpuUsagePct float64) Tier {
	switch {
	case bandwidthKbps < 500 || cpuUsagePct > 80:
		return TierLow
	case bandwidthKbps < 2000 || cpuUsagePct > 60:
		return TierMedium
	case bandwidthKbps < 5000:
		return TierHigh
	default:
		return TierUltra
	}
}

// ConstraintsFor returns the capture constraints for a tier. Unknown tiers
// fall back to medium
func ConstraintsFor(tier Tier) Constraints {
	if c, ok := profiles[tier]; ok {
		return c
	}
	return profiles[TierMedium]
}
