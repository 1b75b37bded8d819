// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package analytics

import (
	"math/rand"
	"sync"
	"time"
)

// CostControl bounds third-party SDK ingestion cost under traffic spikes:
// a daily event budget plus a base sampling floor, applied before and
// independently of the tracker's own per-call sampling rate.
//
// The counter is process-local and best-effort; under horizontal scaling
// the budget applies per instance.
type CostControl struct {
	mu           sync.Mutex
	eventsPerDay int64
	baseRate     float64
	count        int64
	day          string

	// test hooks
	now       func() time.Time
	randFloat func() float64
}

// NewCostControl creates a cost controller. eventsPerDay <= 0 disables the
// budget; baseSamplingRate outside (0,1] is clamped to 1.
func NewCostControl(eventsPerDay int64, baseSamplingRate float64) *CostControl {
	if baseSamplingRate <= 0 || baseSamplingRate > 1 {
		baseSamplingRate = 1
	}
	return &CostControl{
		eventsPerDay: eventsPerDay,
		baseRate:     baseSamplingRate,
		now:          time.Now,
		randFloat:    rand.Float64,
	}
}

// Allow reports whether one more event fits the budget and survives the
// base sampling draw. The counter rolls over at the UTC day boundary.
func (c *CostControl) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	day := c.now().UTC().Format("2006-01-02")
	if day != c.day {
		c.day = day
		c.count = 0
	}

	if c.eventsPerDay > 0 && c.count >= c.eventsPerDay {
		return false
	}

	if c.baseRate < 1 && c.randFloat() >= c.baseRate {
		return false
	}

	c.count++
	return true
}

// Count returns the number of events counted against today's budget.
func (c *CostControl) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
