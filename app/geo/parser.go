package geo

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/civicmap/civicmap/app/region"
)

var (
	explicitPattern = regexp.MustCompile(`(?i)\bcoords?\s*:?\s*(-?\d{1,3}(?:\.\d+)?)\s*,\s*(-?\d{1,3}(?:\.\d+)?)`)
	mapURLPatterns  = []*regexp.Regexp{
		// Query-string pair, e.g. maps.google.com/?q=12.95,77.60
		regexp.MustCompile(`[?&](?:q|ll|query|center)=(-?\d{1,3}\.\d+)\s*,\s*(-?\d{1,3}\.\d+)`),
		// Path-segment pair, e.g. google.com/maps/@12.95,77.60,15z
		regexp.MustCompile(`@(-?\d{1,3}\.\d+),(-?\d{1,3}\.\d+)`),
	}
	degreePattern = regexp.MustCompile(`(-?\d{1,3}(?:\.\d+)?)\s*°\s*([NSns])?\s*,\s*(-?\d{1,3}(?:\.\d+)?)\s*°\s*([EWew])?`)
	barePattern   = regexp.MustCompile(`\b(\d{1,2}\.\d{4,})\s*,\s*(\d{1,2}\.\d{4,})\b`)
	pinPattern    = regexp.MustCompile(`📍\s*(-?\d{1,3}(?:\.\d+)?)\s*,\s*(-?\d{1,3}(?:\.\d+)?)`)
)

// Parser extracts explicit coordinates from post text. It is pure: no I/O,
// and the same input always yields the same output.
//
// Patterns are tried in fixed priority order; the first candidate that falls
// inside the region's bounding box wins. An out-of-box candidate falls
// through to the next pattern rather than failing the parse outright.
type Parser struct {
	box region.BoundingBox
}

func NewParser(r *region.Region) *Parser {
	return &Parser{box: r.Box}
}

// Run parses post text into coordinates, or nil when no in-box pair is found.
func (p *Parser) Run(text string) *Coordinates {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if c := p.matchPair(explicitPattern, text, SourceExplicit); c != nil {
		return c
	}

	for _, pattern := range mapURLPatterns {
		if c := p.matchPair(pattern, text, SourceRegex); c != nil {
			return c
		}
	}

	if c := p.matchDegrees(text); c != nil {
		return c
	}

	// Bare high-precision decimal pair. The bounding box check is the guard
	// against arbitrary number pairs in free text; requiring >=4 fractional
	// digits filters out prices, dates and the like before we even validate.
	if c := p.matchPair(barePattern, text, SourceRegex); c != nil {
		return c
	}

	if c := p.matchPair(pinPattern, text, SourceRegex); c != nil {
		return c
	}

	return nil
}

func (p *Parser) matchPair(pattern *regexp.Regexp, text, source string) *Coordinates {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	lon, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil
	}

	return p.validated(lat, lon, source)
}

func (p *Parser) matchDegrees(text string) *Coordinates {
	m := degreePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	lon, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil
	}

	if strings.EqualFold(m[2], "S") {
		lat = -lat
	}
	if strings.EqualFold(m[4], "W") {
		lon = -lon
	}

	return p.validated(lat, lon, SourceRegex)
}

// validated accepts a candidate only if it falls inside the region's bounding
// box. A latitude of exactly 0 is handled like any other value here: the box
// check decides, not a truthiness test.
func (p *Parser) validated(lat, lon float64, source string) *Coordinates {
	if !p.box.Contains(lat, lon) {
		return nil
	}
	return &Coordinates{Lat: lat, Lon: lon, Source: source}
}
