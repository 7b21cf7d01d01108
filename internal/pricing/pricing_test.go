package pricing

import (
	"math"
	"testing"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		provider string
		seconds  float64
		want     float64
	}{
		{"aws", 300.0, 0.12},
		{"azure", 300.0, 0.08},
		{"gcp", 300.0, 0.09},
		{"aws", 60.0, 0.024},
		{"aws", 0.0, 0.0},
		{"unknown-provider", 300.0, 0.10}, // default rate
	}
	for _, tt := range tests {
		got := Estimate(tt.provider, tt.seconds)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Estimate(%q, %v) = %v, want %v", tt.provider, tt.seconds, got, tt.want)
		}
	}
}

func TestRatePerMinute(t *testing.T) {
	if got := RatePerMinute("aws"); got != 0.024 {
		t.Errorf("RatePerMinute(aws) = %v, want 0.024", got)
	}
	if got := RatePerMinute("nonesuch"); got != 0.02 {
		t.Errorf("RatePerMinute(nonesuch) = %v, want 0.02", got)
	}
}
