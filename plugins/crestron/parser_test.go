package crestron

import (
	"math"
	"testing"
)

func TestParseBrightness(t *testing.T) {
	if v, ok := ParseBrightness("Current LCD brightness level: 50%"); !ok || v != 50 {
		t.Fatalf("expected 50, got %d %v", v, ok)
	}
	if v, ok := ParseBrightness("TSW-1070>\r\nNew LCD brightness level:   80%\r\n"); !ok || v != 80 {
		t.Fatalf("expected 80, got %d %v", v, ok)
	}
	if v, ok := ParseBrightness("Current LCD brightness level: 0%"); !ok || v != 0 {
		t.Fatalf("zero is a valid reading, got %d %v", v, ok)
	}
}

func TestParseBrightnessFirstMatchWins(t *testing.T) {
	text := "Current LCD brightness level: 30%\nNew LCD brightness level: 70%"
	if v, ok := ParseBrightness(text); !ok || v != 30 {
		t.Fatalf("expected first match 30, got %d %v", v, ok)
	}
}

func TestParseBrightnessNoValue(t *testing.T) {
	cases := []string{
		"",
		"Bad or incomplete command",
		"current lcd brightness level: 50%",
		"Current LCD brightness level: 50",
		"Current LCD brightness level: 101%",
		"Current LCD brightness level: 99999999999999999999%",
	}
	for _, text := range cases {
		if v, ok := ParseBrightness(text); ok {
			t.Fatalf("expected no value for %q, got %d", text, v)
		}
	}
}

func TestClampBrightness(t *testing.T) {
	if ClampBrightness(-5) != 0 || ClampBrightness(150) != 100 || ClampBrightness(42) != 42 {
		t.Fatalf("clamp out of range")
	}
}

func TestConfirmedIsCaseInsensitive(t *testing.T) {
	if !confirmed("New LCD Brightness Level: 40%", confirmBrightness) {
		t.Fatalf("expected confirmation")
	}
	if confirmed("", confirmStandbyOn) {
		t.Fatalf("empty output never confirms")
	}
	if !confirmed("Panel ENTERING STANDBY", confirmStandbyOn) {
		t.Fatalf("expected standby confirmation")
	}
}

func TestBrightnessFromFloat(t *testing.T) {
	cases := map[float64]int{
		-5:           0,
		0:            0,
		35.2:         35,
		99.5:         100,
		250:          100,
		1e300:        100,
		math.Inf(1):  100,
		math.Inf(-1): 0,
	}
	for in, want := range cases {
		if got, ok := BrightnessFromFloat(in); !ok || got != want {
			t.Fatalf("BrightnessFromFloat(%v) = %d %v, want %d", in, got, ok, want)
		}
	}
	if _, ok := BrightnessFromFloat(math.NaN()); ok {
		t.Fatalf("NaN should be rejected")
	}
}
