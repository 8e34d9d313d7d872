package transmit

import "strings"

// Pattern is a compiled channel pattern. Patterns are "/"-delimited; a
// segment starting with ":" binds the corresponding channel segment to a
// named parameter, every other segment must match literally.
type Pattern struct {
	raw      string
	segments []patternSegment
	// nparams lets Match size the params map once.
	nparams int
}

type patternSegment struct {
	literal string
	param   string
}

// CompilePattern parses a channel pattern like "chats/:id/messages".
func CompilePattern(pattern string) *Pattern {
	parts := strings.Split(pattern, "/")
	p := &Pattern{raw: pattern, segments: make([]patternSegment, 0, len(parts))}
	for _, part := range parts {
		if strings.HasPrefix(part, ":") {
			p.segments = append(p.segments, patternSegment{param: part[1:]})
			p.nparams++
			continue
		}
		p.segments = append(p.segments, patternSegment{literal: part})
	}
	return p
}

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }

// Match tests channel against the pattern and extracts named parameters.
// A pattern with N segments only matches channels with exactly N segments.
// Parameter values are returned as raw strings.
func (p *Pattern) Match(channel string) (map[string]string, bool) {
	parts := strings.Split(channel, "/")
	if len(parts) != len(p.segments) {
		return nil, false
	}
	params := make(map[string]string, p.nparams)
	for i, seg := range p.segments {
		if seg.param != "" {
			params[seg.param] = parts[i]
			continue
		}
		if parts[i] != seg.literal {
			return nil, false
		}
	}
	return params, true
}
