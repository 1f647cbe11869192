// Package schedule implements staggered delay computation and batch promotion
// for engagement activities. Activities for one post are spread across a
// kind-specific window with jitter so pod engagement arrives like organic
// traffic instead of a burst.
package schedule

import (
	"math/rand"
	"time"

	"podflow/internal/types"
)

// Delay windows per engagement kind. Likes land quickly; comments trickle in
// over hours. Jitter is a fraction of the window span, applied around the
// member's linear position and clamped back into the window.
const (
	likeWindowMin = 5 * time.Minute
	likeWindowMax = 30 * time.Minute
	likeJitter    = 0.10

	commentWindowMin = 1 * time.Hour
	commentWindowMax = 6 * time.Hour
	commentJitter    = 0.15
)

// ComputeDelay returns the execution delay for the member at memberIndex out
// of totalMembers engaging one post, and the absolute execution time derived
// from the current UTC time.
//
// Members are positioned linearly across the window: index 0 at the window
// start, the last index at the window end. Jitter shifts each position by up
// to the kind's jitter fraction of the span in either direction, so two runs
// with different rng states produce different but similarly spread timelines.
// The result never leaves the window. Deterministic under a fixed rng.
func ComputeDelay(memberIndex, totalMembers int, kind types.EngagementType, rng *rand.Rand) (time.Duration, time.Time) {
	min, max, jitterFrac := likeWindowMin, likeWindowMax, likeJitter
	if kind == types.EngagementComment {
		min, max, jitterFrac = commentWindowMin, commentWindowMax, commentJitter
	}
	span := max - min

	if memberIndex < 0 {
		memberIndex = 0
	}
	denom := totalMembers - 1
	if denom < 1 {
		denom = 1
	}
	if memberIndex > denom {
		memberIndex = denom
	}
	position := float64(memberIndex) / float64(denom)

	base := min + time.Duration(position*float64(span))

	// Jitter in [-frac, +frac] of the span.
	jitter := time.Duration((rng.Float64()*2 - 1) * jitterFrac * float64(span))

	delay := base + jitter
	if delay < min {
		delay = min
	}
	if delay > max {
		delay = max
	}

	return delay, time.Now().UTC().Add(delay)
}
