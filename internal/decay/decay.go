// Package decay implements the exponential time-decay function the
// leaderboard applies to a user's score between updates.
package decay

import (
	"errors"
	"math"
)

// ErrInvalidFactor is returned by New when factor is outside (0,1].
var ErrInvalidFactor = errors.New("decay: factor must be in (0,1]")

// Decay applies a per-day exponential attenuation to a score.
type Decay struct {
	factor float64
}

// New builds a Decay with the given per-day decay factor, which must lie
// in (0,1]. A factor of 1 means no decay ever occurs.
func New(factor float64) (*Decay, error) {
	if factor <= 0 || factor > 1 {
		return nil, ErrInvalidFactor
	}
	return &Decay{factor: factor}, nil
}

// Factor returns the decay factor the Decay was constructed with.
func (d *Decay) Factor() float64 { return d.factor }

// Apply returns score attenuated by factor^days, where days is the
// fractional number of days elapsed between lastUpdate and now. If now is
// not strictly after lastUpdate, score is returned unchanged.
func (d *Decay) Apply(score float64, lastUpdate, now int64) float64 {
	if now <= lastUpdate {
		return score
	}
	days := float64(now-lastUpdate) / 86400
	return score * math.Pow(d.factor, days)
}
