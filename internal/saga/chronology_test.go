// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMarker(t *testing.T) {
	tests := []struct {
		name     string
		marker   string
		expected float64
		ok       bool
	}{
		{"plain_year", "512", 512, true},
		{"year_prefix", "Year 512", 512, true},
		{"era_suffix", "512 AE", 512, true},
		{"before_era", "1204 BE", -1204, true},
		{"before_era_punctuated", "1204 BE.", -1204, true},
		{"fractional", "512.3 AE", 512.3, true},
		{"negative_literal", "-12", -12, true},
		{"empty", "", 0, false},
		{"whitespace", "   ", 0, false},
		{"no_number", "the age of embers", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordinal, ok := ParseMarker(tt.marker)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.expected, ordinal, 1e-9)
			}
		})
	}
}

// Two invocations over the same marker must agree — the rule evaluator
// depends on marker parsing being deterministic.
func TestParseMarker_Deterministic(t *testing.T) {
	markers := []string{"512", "Year 12 BE", "3.5 AE", "nonsense"}

	for _, m := range markers {
		a, okA := ParseMarker(m)
		b, okB := ParseMarker(m)
		assert.Equal(t, okA, okB)
		assert.Equal(t, a, b)
	}
}
