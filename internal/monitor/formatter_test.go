package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatRate(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		expected string
	}{
		{"normal", 45.7, "45.7 req/min"},
		{"zero", 0.0, "0.0 req/min"},
		{"large", 999.9, "999.9 req/min"},
		{"small", 0.1, "0.1 req/min"},
		{"very_small", 0.0001, "0.0 req/min"},
		{"negative", -5.0, "-5.0 req/min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatRate(tt.rate)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		name           string
		latencySeconds float64
		expected       string
	}{
		{"milliseconds", 0.0123, "12.3ms"},
		{"sub_millisecond", 0.0001, "0.1ms"},
		{"seconds", 1.234, "1.2s"},
		{"multiple_seconds", 5.678, "5.7s"},
		{"zero", 0.0, "0.0ms"},
		{"very_large", 123.456, "123.5s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatLatency(tt.latencySeconds)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		name     string
		tokens   float64
		expected string
	}{
		{"small", 850.0, "850 tok/min"},
		{"thousands", 8200.0, "8.2K tok/min"},
		{"boundary", 1000.0, "1.0K tok/min"},
		{"zero", 0.0, "0 tok/min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatTokens(tt.tokens)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		name     string
		count    float64
		expected string
	}{
		{"small", 42.0, "42"},
		{"thousands", 1400.0, "1.4K"},
		{"boundary", 1000.0, "1.0K"},
		{"zero", 0.0, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatCount(tt.count)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected string
	}{
		{"half", 0.5, "50.0%"},
		{"zero", 0.0, "0.0%"},
		{"full", 1.0, "100.0%"},
		{"fraction", 0.067, "6.7%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatPercentage(tt.ratio)
			assert.Equal(t, tt.expected, result)
		})
	}
}
