package config

import "testing"

func TestIsProductionLike(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"production", true},
		{"PRODUCTION", true},
		{"staging", true},
		{"development", false},
		{"test", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsProductionLike(tt.env); got != tt.want {
			t.Errorf("IsProductionLike(%q) = %v, want %v", tt.env, got, tt.want)
		}
	}
}
