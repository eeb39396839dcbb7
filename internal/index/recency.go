// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package index

import (
	"math"
	"time"
)

// RecencyHalfLife is the age at which a time-based match scores 0.5.
const RecencyHalfLife = 7 * 24 * time.Hour

// RecencyConfidence decays from 1 for a document updated at now to 0.5
// after one half-life. Future timestamps count as fresh.
func RecencyConfidence(now, updated time.Time) float32 {
	age := now.Sub(updated)
	if age <= 0 {
		return 1
	}
	return float32(math.Pow(0.5, float64(age)/float64(RecencyHalfLife)))
}
