package cfg

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeSuffixes = map[string]uint64{
	"":   1,
	"B":  1,
	"K":  1 << 10,
	"KB": 1 << 10,
	"M":  1 << 20,
	"MB": 1 << 20,
	"G":  1 << 30,
	"GB": 1 << 30,
	"T":  1 << 40,
	"TB": 1 << 40,
}

// ParseSize parses a 1024-based size string such as "64M", "1.5GB", or
// "128" (bytes), as described in spec.md §6.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	i := len(s)
	for i > 0 && (s[i-1] < '0' || s[i-1] > '9') && s[i-1] != '.' {
		i--
	}
	numPart, suffix := s[:i], strings.ToUpper(strings.TrimSpace(s[i:]))

	mult, ok := sizeSuffixes[suffix]
	if !ok {
		return 0, fmt.Errorf("unrecognized size suffix %q in %q", suffix, s)
	}

	val, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric size %q: %w", numPart, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("size must not be negative: %q", s)
	}

	return uint64(val * float64(mult)), nil
}
