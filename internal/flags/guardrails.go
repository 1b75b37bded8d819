// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package flags

import "fmt"

// GuardrailMetrics are the live metrics checked against thresholds.
type GuardrailMetrics struct {
	// ErrorRate is the experiment's error rate in [0,1].
	ErrorRate float64

	// P95LatencyMs is the 95th-percentile latency in milliseconds.
	P95LatencyMs float64

	// ConversionRate and BaselineConversionRate compute the relative
	// conversion drop. A zero baseline skips the conversion check.
	ConversionRate         float64
	BaselineConversionRate float64
}

// GuardrailThresholds are the limits an experiment must stay within.
type GuardrailThresholds struct {
	// MaxErrorRate is the error-rate ceiling. Default: 0.05.
	MaxErrorRate float64

	// MaxP95LatencyMs is the latency ceiling. Default: 3000.
	MaxP95LatencyMs float64

	// MaxConversionDrop is the relative conversion-rate drop floor.
	// Default: 0.10 (a 10% relative drop).
	MaxConversionDrop float64
}

// DefaultGuardrailThresholds returns the standard limits.
func DefaultGuardrailThresholds() GuardrailThresholds {
	return GuardrailThresholds{
		MaxErrorRate:      0.05,
		MaxP95LatencyMs:   3000,
		MaxConversionDrop: 0.10,
	}
}

// GuardrailResult reports whether an experiment violated its guardrails.
// Callers decide whether to halt the experiment; no automatic rollback is
// performed here.
type GuardrailResult struct {
	ExperimentID string   `json:"experiment_id"`
	Violated     bool     `json:"violated"`
	Reasons      []string `json:"reasons,omitempty"`
}

// CheckGuardrails is a pure comparison of supplied metrics against
// thresholds. A nil thresholds argument uses the defaults.
func CheckGuardrails(experimentID string, m GuardrailMetrics, thresholds *GuardrailThresholds) GuardrailResult {
	t := DefaultGuardrailThresholds()
	if thresholds != nil {
		t = *thresholds
	}

	result := GuardrailResult{ExperimentID: experimentID}

	if m.ErrorRate > t.MaxErrorRate {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"Error rate %.1f%% exceeds threshold %.1f%%",
			m.ErrorRate*100, t.MaxErrorRate*100))
	}

	if m.P95LatencyMs > t.MaxP95LatencyMs {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"P95 latency %.0fms exceeds threshold %.0fms",
			m.P95LatencyMs, t.MaxP95LatencyMs))
	}

	if m.BaselineConversionRate > 0 {
		drop := (m.BaselineConversionRate - m.ConversionRate) / m.BaselineConversionRate
		if drop > t.MaxConversionDrop {
			result.Reasons = append(result.Reasons, fmt.Sprintf(
				"Conversion rate dropped %.1f%% vs baseline, limit is %.1f%%",
				drop*100, t.MaxConversionDrop*100))
		}
	}

	result.Violated = len(result.Reasons) > 0
	return result
}
