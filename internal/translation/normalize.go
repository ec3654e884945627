package translation

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalizer sanitizes raw provider output before it is emitted as a
// caption. The marker lists are tuned empirically and carried as
// configuration data rather than hardcoded logic.
type Normalizer struct {
	promptLeakMarkers  []string
	uncertaintyMarkers []string
	allowedShortTokens map[string]struct{}
	uncertainThreshold float64
	unclearCap         float64
}

// NormalizerConfig configures a Normalizer.
type NormalizerConfig struct {
	PromptLeakMarkers    []string
	UncertaintyMarkers   []string
	AllowedShortTokens   []string
	UncertaintyThreshold float64
	UnclearConfidenceCap float64
}

// NewNormalizer creates a Normalizer. Marker matching is case-insensitive.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	n := &Normalizer{
		uncertainThreshold: cfg.UncertaintyThreshold,
		unclearCap:         cfg.UnclearConfidenceCap,
		allowedShortTokens: make(map[string]struct{}, len(cfg.AllowedShortTokens)),
	}
	for _, marker := range cfg.PromptLeakMarkers {
		if m := strings.ToLower(strings.TrimSpace(marker)); m != "" {
			n.promptLeakMarkers = append(n.promptLeakMarkers, m)
		}
	}
	for _, marker := range cfg.UncertaintyMarkers {
		if m := strings.ToLower(strings.TrimSpace(marker)); m != "" {
			n.uncertaintyMarkers = append(n.uncertaintyMarkers, m)
		}
	}
	for _, token := range cfg.AllowedShortTokens {
		if t := strings.ToLower(strings.TrimSpace(token)); t != "" {
			n.allowedShortTokens[t] = struct{}{}
		}
	}
	return n
}

// Normalize returns the sanitized caption text, clamped confidence, and the
// uncertainty flag.
func (n *Normalizer) Normalize(payload Payload) (string, float64, bool) {
	text := cleanText(payload.Text)
	if n.shouldCoerceToUnclear(text) {
		text = UnclearSentinel
	}

	confidence := math.Max(0, math.Min(1, payload.Confidence))
	if text == UnclearSentinel && confidence > n.unclearCap {
		confidence = n.unclearCap
	}

	uncertain := confidence < n.uncertainThreshold
	return text, confidence, uncertain
}

// cleanText trims, strips stray quote and backtick characters, and collapses
// internal whitespace runs.
func cleanText(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '`', '“', '”', '‘', '’':
			return -1
		}
		return r
	}, text)
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func (n *Normalizer) shouldCoerceToUnclear(text string) bool {
	if text == "" || text == UnclearSentinel {
		return true
	}

	lower := strings.ToLower(text)

	for _, marker := range n.promptLeakMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	for _, marker := range n.uncertaintyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	if isPunctuationOnly(text) {
		return true
	}

	// Bracket sanity: a mismatched count, or a bracketed prefix that is not
	// the unclear sentinel, means the provider leaked its answer format.
	if strings.Count(text, "[") != strings.Count(text, "]") {
		return true
	}
	if strings.HasPrefix(text, "[") && !strings.Contains(lower, "unclear") {
		return true
	}

	if n.isTooShort(text, lower) {
		return true
	}

	return false
}

func isPunctuationOnly(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// isTooShort flags text too short to be meaningful, with an allowance for
// legitimate short tokens: single letters A-Z (fingerspelling) and the
// configured control tokens.
func (n *Normalizer) isTooShort(text, lower string) bool {
	if _, ok := n.allowedShortTokens[lower]; ok {
		return false
	}

	runes := []rune(text)
	if len(runes) == 1 {
		return !unicode.IsLetter(runes[0])
	}
	if len(runes) <= 3 {
		letters := 0
		for _, r := range runes {
			if unicode.IsLetter(r) {
				letters++
			}
		}
		return letters < 2
	}
	return false
}
