package ai

import (
	"regexp"
	"strconv"
	"strings"
)

// stripFences removes Markdown code-fence markers so fenced JSON parses the
// same as bare JSON.
func stripFences(raw string) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// extractObject returns the first balanced {...} object in text, honoring
// string literals and escapes, or "" when none exists.
func extractObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

var (
	routeOrderRe = regexp.MustCompile(`(?i)route\s*order[^\[\n]*\[([0-9,\s]+)\]`)
	// directional markers like "Origin → Stop 2", "Base->Customer 1", "stop 3 to origin"
	directionRe = regexp.MustCompile(`(?i)\b(origin|base|home|stop\s*\d+|customer\s*\d*)\s*(?:→|->|=>|to)\s*(origin|base|home|stop\s*\d+|customer\s*\d*)`)
	flyRe       = regexp.MustCompile(`(?i)\bfly(?:ing)?\b|\bflight\b`)
	driveRe     = regexp.MustCompile(`(?i)\bdriv(?:e|ing)\b`)
	roundTripRe = regexp.MustCompile(`(?i)round[\s-]?trip|return\s+ticket`)
)

// textExtraction is the best-effort result of the pattern-based fallback.
type textExtraction struct {
	order []int
	legs  []textLeg
}

type textLeg struct {
	index      int
	fly        bool
	toOrigin   bool
	fromOrigin bool
	roundTrip  bool
}

// extractFromText looks for an explicit ordered list of stop indices and
// per-leg mode keywords near directional markers. Lower confidence than the
// structured path by construction.
func extractFromText(text string) (textExtraction, bool) {
	var ex textExtraction

	m := routeOrderRe.FindStringSubmatch(text)
	if m == nil {
		return ex, false
	}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return ex, false
		}
		ex.order = append(ex.order, n)
	}
	if len(ex.order) == 0 {
		return ex, false
	}

	// Each line with a directional marker describes the next leg, in order.
	leg := 0
	for _, line := range strings.Split(text, "\n") {
		dm := directionRe.FindStringSubmatch(line)
		if dm == nil {
			continue
		}
		tl := textLeg{
			index:      leg,
			fromOrigin: isOriginWord(dm[1]),
			toOrigin:   isOriginWord(dm[2]),
			fly:        flyRe.MatchString(line) && !driveRe.MatchString(line),
			roundTrip:  roundTripRe.MatchString(line),
		}
		ex.legs = append(ex.legs, tl)
		leg++
	}
	return ex, true
}

func isOriginWord(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "origin", "base", "home":
		return true
	}
	return false
}
