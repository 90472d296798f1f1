// Package jitter supplies the small randomized-delay helpers every
// background loop (Observer, TTL, GC, leader election) uses to
// avoid a thundering herd of coordinator replicas waking in lockstep.
package jitter

import (
	"math/rand"
	"time"
)

// Startup returns a random delay in [0, max), used once before a loop's
// first tick so a fleet of replicas restarting together doesn't all hit
// Postgres in the same instant.
func Startup(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Around returns base adjusted by a uniformly random +/-pct fraction, used to
// spread out recurring interval timers across replicas.
func Around(base time.Duration, pct float64) time.Duration {
	if base <= 0 {
		return base
	}
	if pct <= 0 {
		return base
	}
	delta := float64(base) * pct
	offset := (rand.Float64()*2 - 1) * delta
	d := time.Duration(float64(base) + offset)
	if d <= 0 {
		return base
	}
	return d
}
