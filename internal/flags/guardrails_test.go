// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package flags

import "testing"

func TestGuardrailsHealthyExperiment(t *testing.T) {
	result := CheckGuardrails("hero_test", GuardrailMetrics{
		ErrorRate:              0.01,
		P95LatencyMs:           800,
		ConversionRate:         0.095,
		BaselineConversionRate: 0.10,
	}, nil)

	if result.Violated {
		t.Fatalf("healthy metrics flagged: %v", result.Reasons)
	}
	if result.ExperimentID != "hero_test" {
		t.Errorf("experiment id = %q", result.ExperimentID)
	}
}

func TestGuardrailsErrorRate(t *testing.T) {
	result := CheckGuardrails("hero_test", GuardrailMetrics{ErrorRate: 0.06}, nil)

	if !result.Violated {
		t.Fatal("6% error rate must violate the 5% default")
	}
	if len(result.Reasons) != 1 {
		t.Fatalf("reasons = %v", result.Reasons)
	}
	want := "Error rate 6.0% exceeds threshold 5.0%"
	if result.Reasons[0] != want {
		t.Errorf("reason = %q, want %q", result.Reasons[0], want)
	}
}

func TestGuardrailsLatency(t *testing.T) {
	result := CheckGuardrails("hero_test", GuardrailMetrics{P95LatencyMs: 3500}, nil)

	if !result.Violated {
		t.Fatal("3500ms p95 must violate the 3000ms default")
	}
	want := "P95 latency 3500ms exceeds threshold 3000ms"
	if result.Reasons[0] != want {
		t.Errorf("reason = %q, want %q", result.Reasons[0], want)
	}
}

func TestGuardrailsConversionDrop(t *testing.T) {
	// 0.10 -> 0.08 is a 20% relative drop, over the 10% default
	result := CheckGuardrails("hero_test", GuardrailMetrics{
		ConversionRate:         0.08,
		BaselineConversionRate: 0.10,
	}, nil)

	if !result.Violated {
		t.Fatal("20% relative conversion drop must violate")
	}
	want := "Conversion rate dropped 20.0% vs baseline, limit is 10.0%"
	if result.Reasons[0] != want {
		t.Errorf("reason = %q, want %q", result.Reasons[0], want)
	}
}

func TestGuardrailsZeroBaselineSkipsConversionCheck(t *testing.T) {
	result := CheckGuardrails("hero_test", GuardrailMetrics{
		ConversionRate:         0,
		BaselineConversionRate: 0,
	}, nil)

	if result.Violated {
		t.Error("zero baseline must skip the conversion check")
	}
}

func TestGuardrailsMultipleViolations(t *testing.T) {
	result := CheckGuardrails("hero_test", GuardrailMetrics{
		ErrorRate:              0.10,
		P95LatencyMs:           5000,
		ConversionRate:         0.05,
		BaselineConversionRate: 0.10,
	}, nil)

	if !result.Violated || len(result.Reasons) != 3 {
		t.Fatalf("expected 3 reasons, got %v", result.Reasons)
	}
}

func TestGuardrailsCustomThresholds(t *testing.T) {
	custom := &GuardrailThresholds{
		MaxErrorRate:      0.20,
		MaxP95LatencyMs:   10000,
		MaxConversionDrop: 0.50,
	}

	result := CheckGuardrails("hero_test", GuardrailMetrics{
		ErrorRate:    0.10,
		P95LatencyMs: 5000,
	}, custom)

	if result.Violated {
		t.Errorf("metrics within custom thresholds flagged: %v", result.Reasons)
	}
}
