package util_test

import (
	"testing"

	"github.com/downfa11-org/kvs/util"
)

func TestParseInt(t *testing.T) {
	tests := []struct {
		input    string
		fallback int
		want     int
	}{
		{"123", 0, 123},
		{"0", 99, 0},
		{"-5", 0, -5},
		{"abc", 42, 42},
		{"", 7, 7},
		{"   ", 8, 8},
	}

	for _, tt := range tests {
		got := util.ParseInt(tt.input, tt.fallback)
		if got != tt.want {
			t.Errorf("ParseInt(%q, %d) = %d; want %d", tt.input, tt.fallback, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input    string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"false", true, false},
		{"1", false, true},
		{"0", true, false},
		{"t", false, true},
		{"f", true, false},
		{"yes", false, false},
		{"", true, true},
		{"   ", false, false},
	}

	for _, tt := range tests {
		got := util.ParseBool(tt.input, tt.fallback)
		if got != tt.want {
			t.Errorf("ParseBool(%q, %v) = %v; want %v", tt.input, tt.fallback, got, tt.want)
		}
	}
}

func TestParseInt64(t *testing.T) {
	if got := util.ParseInt64("1073741824", 0); got != 1<<30 {
		t.Errorf("ParseInt64 = %d; want %d", got, int64(1<<30))
	}
	if got := util.ParseInt64("nope", 17); got != 17 {
		t.Errorf("ParseInt64 fallback = %d; want 17", got)
	}
}

func TestParseFloat64(t *testing.T) {
	if got := util.ParseFloat64("2.5", 0); got != 2.5 {
		t.Errorf("ParseFloat64 = %v; want 2.5", got)
	}
	if got := util.ParseFloat64("", 4); got != 4 {
		t.Errorf("ParseFloat64 fallback = %v; want 4", got)
	}
}
