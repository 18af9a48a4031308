package segments

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatClock renders seconds as HH:MM:SS, truncating fractions.
func FormatClock(sec float64) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	s := int64(sec)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// ParseClock parses HH:MM:SS (seconds may carry a fraction) into seconds.
func ParseClock(v string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM:SS", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("invalid clock %q: bad hours", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q: bad minutes", v)
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || s < 0 || s >= 60 {
		return 0, fmt.Errorf("invalid clock %q: bad seconds", v)
	}
	return float64(h*3600+m*60) + s, nil
}
