package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Built-in version patterns.
const (
	// DotVersionPattern matches "Version: 1.2.3".
	DotVersionPattern = `/Version: (\d+\.\d+\.\d+)/`

	// UnderscoreVersionPattern matches "Version: XX_1_2_3".
	UnderscoreVersionPattern = `/Version: (XX_\d+_\d+_\d+)/`

	// DefaultSearchPattern is used until a session is given another pattern.
	DefaultSearchPattern = DotVersionPattern
)

const patternDelimiter = "/"

// Flags without a Go equivalent that are accepted and kept for round-tripping.
const ignoredPatternFlags = "gyudv"

// SearchPattern is a compiled regex written as a delimited literal with optional flags,
// e.g. /Version: (\d+\.\d+\.\d+)/i.
type SearchPattern struct {
	source string
	flags  string
	re     *regexp.Regexp
}

// ParseSearchPattern compiles a delimited regex literal.
// It fails with ErrInvalidPatternFormat when either delimiter is missing, the body is empty,
// a flag is unknown, or the body does not compile.
func ParseSearchPattern(literal string) (*SearchPattern, error) {
	if !strings.HasPrefix(literal, patternDelimiter) {
		return nil, fmt.Errorf("%w: %q does not start with %q", ErrInvalidPatternFormat, literal, patternDelimiter)
	}

	closing := strings.LastIndex(literal, patternDelimiter)
	if closing == 0 {
		return nil, fmt.Errorf("%w: %q has no closing %q", ErrInvalidPatternFormat, literal, patternDelimiter)
	}

	source := literal[1:closing]
	flags := literal[closing+1:]
	if source == "" {
		return nil, fmt.Errorf("%w: %q has an empty body", ErrInvalidPatternFormat, literal)
	}

	var inline strings.Builder
	for _, f := range flags {
		switch {
		case f == 'i' || f == 'm' || f == 's':
			inline.WriteRune(f)
		case strings.ContainsRune(ignoredPatternFlags, f):
		default:
			return nil, fmt.Errorf("%w: unknown flag %q in %q", ErrInvalidPatternFormat, f, literal)
		}
	}

	expr := source
	if inline.Len() > 0 {
		expr = "(?" + inline.String() + ")" + source
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPatternFormat, err)
	}

	return &SearchPattern{source: source, flags: flags, re: re}, nil
}

// PatternFromValue converts an arbitrary settings value into a compiled pattern.
// Non-string values fail with ErrInvalidPatternType.
func PatternFromValue(value any) (*SearchPattern, error) {
	literal, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrInvalidPatternType, value)
	}
	return ParseSearchPattern(literal)
}

// MustParseSearchPattern is ParseSearchPattern for built-in literals.
func MustParseSearchPattern(literal string) *SearchPattern {
	p, err := ParseSearchPattern(literal)
	if err != nil {
		panic(err)
	}
	return p
}

// String reproduces the delimited literal the pattern was parsed from.
func (p *SearchPattern) String() string {
	return patternDelimiter + p.source + patternDelimiter + p.flags
}

// Source returns the regex body without delimiters or flags.
func (p *SearchPattern) Source() string {
	return p.source
}

// Flags returns the trailing flags.
func (p *SearchPattern) Flags() string {
	return p.flags
}

// MatchString reports whether message matches the pattern.
func (p *SearchPattern) MatchString(message string) bool {
	return p.re.MatchString(message)
}

// ExtractVersion returns the first capture group of the first match in message.
// ok is false when message does not match. A match without a capture group
// fails with ErrMissingCaptureGroup.
func (p *SearchPattern) ExtractVersion(message string) (version string, ok bool, err error) {
	m := p.re.FindStringSubmatch(message)
	if m == nil {
		return "", false, nil
	}
	if len(m) < 2 {
		return "", true, fmt.Errorf("%w: %s", ErrMissingCaptureGroup, p)
	}
	return m[1], true, nil
}
