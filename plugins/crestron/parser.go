package crestron

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Matches both the query reply and the set reply, e.g.
// "Current LCD brightness level: 50%" or "New LCD brightness level: 80%".
var brightnessPattern = regexp.MustCompile(`(?:Current|New) LCD brightness level:\s*(\d+)%`)

// ParseBrightness extracts the first brightness percentage in text.
// It reports false when there is no reading; a reading above 100 is not valid.
func ParseBrightness(text string) (int, bool) {
	match := brightnessPattern.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	value, err := strconv.Atoi(match[1])
	if err != nil || value > 100 {
		return 0, false
	}
	return value, true
}

// ClampBrightness limits level to [0, 100].
func ClampBrightness(level int) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// BrightnessFromFloat converts a requested level to a whole percentage,
// clamping before rounding so huge or infinite values land on 100. NaN is
// rejected.
func BrightnessFromFloat(level float64) (int, bool) {
	switch {
	case math.IsNaN(level):
		return 0, false
	case level <= 0:
		return 0, true
	case level >= 100:
		return 100, true
	}
	return int(math.Round(level)), true
}

func confirmed(output, phrase string) bool {
	return output != "" && strings.Contains(strings.ToLower(output), phrase)
}
