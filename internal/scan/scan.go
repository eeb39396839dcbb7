// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package scan detects credentials and prompt-injection text in content
// with regular-expression rules, and flags, redacts or blocks what it finds.
package scan

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Stage selects which rules apply to a piece of content.
type Stage string

const (
	// StageIngest screens documents before they are indexed.
	StageIngest Stage = "ingest"
	// StagePrompt screens text before it reaches a hosted model.
	StagePrompt Stage = "prompt"
)

func (s Stage) Valid() bool {
	return s == StageIngest || s == StagePrompt
}

// Severity indicates how critical a detection is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// Match is one rule hit. Location and Length are byte offsets into
// Result.Content.
type Match struct {
	Rule     string
	Location int
	Length   int
	Severity Severity
}

// Result is the outcome of one scan.
type Result struct {
	Threat  bool
	Matches []Match
	// Content is the normalized text the match offsets refer to. Redaction
	// must use it, not the original input.
	Content string
}

// Rules lists the distinct rule names that matched, in match order.
func (r Result) Rules() []string {
	var out []string
	for _, m := range r.Matches {
		if !slices.Contains(out, m.Rule) {
			out = append(out, m.Rule)
		}
	}
	return out
}

// DefaultMaxContentLength is the largest content scanned rule by rule.
// Anything longer is reported as a single content_too_large threat.
const DefaultMaxContentLength = 10 << 20

// Scanner evaluates compiled rules. It is safe for concurrent use.
type Scanner struct {
	byStage  map[Stage][]Rule
	maxBytes int
}

// New creates a scanner over rules.
func New(rules []Rule) (*Scanner, error) {
	byStage := make(map[Stage][]Rule, 2)
	for i, r := range rules {
		if err := r.validate(); err != nil {
			return nil, sorcerr.Wrapf(err, sorcerr.CodeConfigValidateInvalidValue, "rule %d", i)
		}
		byStage[r.Stage] = append(byStage[r.Stage], r)
	}
	return &Scanner{byStage: byStage, maxBytes: DefaultMaxContentLength}, nil
}

// Default returns a scanner over DefaultRules.
func Default() *Scanner {
	s, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return s
}

// normalize drops format characters (zero-width joiners, BOMs, soft
// hyphens, bidi marks) and the combining grapheme joiner, then applies NFKC
// so full-width and other compatibility forms fold to ASCII.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\u034f' || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
	return norm.NFKC.String(s)
}

// Scan checks content against the rules of stage.
func (s *Scanner) Scan(content string, stage Stage) (Result, error) {
	if !stage.Valid() {
		return Result{}, sorcerr.Errorf(sorcerr.CodeIndexStorageInvalidInput, "invalid scan stage %q", stage)
	}

	res := Result{Content: normalize(content)}
	if n := len(res.Content); n > s.maxBytes {
		res.Threat = true
		res.Matches = []Match{{Rule: "content_too_large", Length: n, Severity: SeverityHigh}}
		return res, nil
	}

	for _, r := range s.byStage[stage] {
		for _, loc := range r.Pattern.FindAllStringIndex(res.Content, -1) {
			res.Matches = append(res.Matches, Match{
				Rule:     r.Name,
				Location: loc[0],
				Length:   loc[1] - loc[0],
				Severity: r.Severity,
			})
		}
	}
	res.Threat = len(res.Matches) > 0
	return res, nil
}

// Mode defines what happens to content with a detection.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeFlag   Mode = "flag"
	ModeRedact Mode = "redact"
	ModeBlock  Mode = "block"
)

// Modes lists the accepted modes.
func Modes() []Mode { return []Mode{ModeOff, ModeFlag, ModeRedact, ModeBlock} }

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Modes(), m) {
		return m, nil
	}
	return "", sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue, "invalid scan mode %q, want off, flag, redact or block", s)
}

// Redacted replaces every matched region.
const Redacted = "[REDACTED]"

// ApplyMode returns the content to keep for result under mode. Off and flag
// keep content unchanged; redact returns the normalized content with every
// match replaced; block fails with CodeIndexContentBlocked.
func ApplyMode(mode Mode, content string, result Result) (string, error) {
	if !result.Threat {
		return content, nil
	}

	switch mode {
	case ModeOff, ModeFlag:
		return content, nil
	case ModeRedact:
		return redact(result.Content, result.Matches), nil
	case ModeBlock:
		return "", sorcerr.New(sorcerr.CodeIndexContentBlocked, "content blocked by scanner",
			sorcerr.Field("matches", len(result.Matches)),
			sorcerr.Field("rules", strings.Join(result.Rules(), ",")),
		)
	default:
		return "", sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue, "unknown scan mode %q", mode)
	}
}

// redact replaces matched regions with Redacted. Overlapping or touching
// matches collapse into one marker.
func redact(content string, matches []Match) string {
	ms := slices.Clone(matches)
	slices.SortFunc(ms, func(a, b Match) int { return cmp.Compare(a.Location, b.Location) })

	var b strings.Builder
	b.Grow(len(content))
	pos, last := 0, -1
	for _, m := range ms {
		from, to := m.Location, min(m.Location+m.Length, len(content))
		if from < 0 || from >= to {
			continue
		}
		if from <= last {
			last = max(last, to)
			pos = last
			continue
		}
		b.WriteString(content[pos:from])
		b.WriteString(Redacted)
		pos, last = to, to
	}
	b.WriteString(content[pos:])
	return b.String()
}
