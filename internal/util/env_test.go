package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{" ON ", false, true},
		{"0", true, false},
		{"Off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("SHOPPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("SHOPPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v", tt.value, tt.def, got)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	def := 30 * time.Minute
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", def},
		{"45", 45 * time.Second},
		{"0", 0},
		{"10m", 10 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{"-5m", def},
		{"soon", def},
	}
	for _, tt := range tests {
		t.Setenv("SHOPPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("SHOPPIPE_TEST_DURATION", def); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 8},
		{"16", 16},
		{"0", 8},
		{"-2", 8},
		{"many", 8},
	}
	for _, tt := range tests {
		t.Setenv("SHOPPIPE_TEST_INT", tt.value)
		if got := ParseIntEnv("SHOPPIPE_TEST_INT", 8); got != tt.want {
			t.Errorf("ParseIntEnv(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}
