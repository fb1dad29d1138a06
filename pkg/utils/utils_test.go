package utils

import (
	"math"
	"testing"
)

func TestCoalesceString(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"empty slice", []string{}, ""},
		{"all empty", []string{"", "", ""}, ""},
		{"first non-empty", []string{"a", "", "c"}, "a"},
		{"second non-empty", []string{"", "b", "c"}, "b"},
		{"single", []string{"x"}, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CoalesceString(tt.in...)
			if got != tt.want {
				t.Errorf("CoalesceString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultInt(t *testing.T) {
	tests := []struct {
		name                string
		v, defaultVal, want int
	}{
		{"zero", 0, 10, 10},
		{"positive kept", 1, 10, 1},
		{"negative replaced", -1, 10, 10},
		{"large kept", 100, 5, 100},
		// negative budgets from config mean unset, not a valid limit
		{"min int replaced", math.MinInt, 20000, 20000},
		{"negative burst", -5, 1, 1},
		{"zero default", -3, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultInt(tt.v, tt.defaultVal)
			if got != tt.want {
				t.Errorf("DefaultInt(%d, %d) = %d, want %d", tt.v, tt.defaultVal, got, tt.want)
			}
		})
	}
}
