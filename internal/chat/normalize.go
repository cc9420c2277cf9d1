package chat

import (
	"regexp"
	"strings"
)

var (
	// ASR transcripts wrap non-speech events in brackets, e.g. [music] or 【噪音】.
	asrAnnotationRe = regexp.MustCompile(`\[[^\]]*\]|【[^】]*】`)
	wordCharRe      = regexp.MustCompile(`[\p{Han}\p{Latin}\p{N}]`)
)

// FormatUserInput filters a raw voice transcript into plain text: ASR
// annotations removed, whitespace collapsed. Returns "" when nothing
// speech-like remains, which callers treat as "nothing to do".
func FormatUserInput(raw string) string {
	s := asrAnnotationRe.ReplaceAllString(raw, "")
	s = strings.Join(strings.Fields(s), " ")
	if !wordCharRe.MatchString(s) {
		return ""
	}
	return s
}
