// Package scoring converts raw vector distances into relevance scores by
// blending similarity with recall-weighted temporal decay.
package scoring

import (
	"math"

	"github.com/feather-store/feather/metadata"
)

// Config controls the temporal component of scoring.
type Config struct {
	// HalfLifeDays is the age at which an untouched record's recency halves.
	HalfLifeDays float32

	// TimeWeight is the share of the final score contributed by recency; the
	// remainder comes from vector similarity.
	TimeWeight float32

	// MinWeight is a floor applied to recency after decay.
	MinWeight float32
}

// DefaultConfig returns the standard decay configuration.
func DefaultConfig() Config {
	return Config{
		HalfLifeDays: 30,
		TimeWeight:   0.3,
		MinWeight:    0,
	}
}

const secondsPerDay = 86400.0

// Similarity converts a squared-L2 distance into a similarity in (0,1].
// Negative distances should not occur; they clamp to zero.
func Similarity(distance float32) float32 {
	if distance < 0 {
		distance = 0
	}
	return 1.0 / (1.0 + distance)
}

// Stickiness is the recall-derived multiplier that slows age-based decay for
// frequently-accessed records: 1.0 for never-recalled, growing
// logarithmically (recall=10 -> ~3.4, recall=100 -> ~5.6).
func Stickiness(recallCount uint32) float32 {
	return 1.0 + float32(math.Log(1.0+float64(recallCount)))
}

// Score computes the composite relevance of a record at the given clock:
//
//	((1-TimeWeight)*similarity + TimeWeight*recency) * importance
//
// where recency decays exponentially with the record's age divided by its
// stickiness.
func Score(distance float32, m *metadata.Metadata, cfg Config, now int64) float32 {
	similarity := Similarity(distance)

	ageSeconds := float64(now - m.Timestamp)
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	ageDays := ageSeconds / secondsPerDay

	effectiveAgeDays := float32(ageDays) / Stickiness(m.RecallCount)

	recency := float32(math.Pow(0.5, float64(effectiveAgeDays/cfg.HalfLifeDays)))
	if recency < cfg.MinWeight {
		recency = cfg.MinWeight
	}

	return ((1.0-cfg.TimeWeight)*similarity + cfg.TimeWeight*recency) * m.Importance
}
