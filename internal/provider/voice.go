package provider

import (
	"regexp"
	"strings"

	"podflow/internal/types"
)

// tonePrefixes maps a voice tone to the prefix prepended to comment text.
// Unknown tones are ignored rather than rejected; the comment still posts.
var tonePrefixes = map[string]string{
	"enthusiastic": "Love this! ",
	"professional": "Insightful perspective. ",
	"supportive":   "Well said! ",
	"casual":       "Nice one, ",
}

// ApplyVoice transforms comment text according to the member's voice
// parameters: an optional tone prefix, banned-word replacement, and an
// optional emoji suffix. A nil params is the identity transform.
//
// The function is pure, so re-applying it on a retry produces the same text
// and a retried comment is byte-identical to the first attempt.
func ApplyVoice(text string, p *types.VoiceParams) string {
	if p == nil {
		return text
	}

	out := text
	for banned, replacement := range p.BannedWords {
		out = replaceWord(out, banned, replacement)
	}

	if prefix, ok := tonePrefixes[p.Tone]; ok {
		out = prefix + out
	}

	if p.Emoji != "" {
		out = out + " " + p.Emoji
	}

	return out
}

// replaceWord substitutes whole-word, case-insensitive occurrences of banned
// with replacement. Partial matches inside larger words are left alone.
func replaceWord(text, banned, replacement string) string {
	if strings.TrimSpace(banned) == "" {
		return text
	}
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(banned) + `\b`)
	if err != nil {
		return text
	}
	return re.ReplaceAllString(text, replacement)
}
