package kiosk

import (
	"strings"
	"unicode"
)

// enrollmentPrefixes are the self-introduction phrases that trigger
// enrollment. Matched case-insensitively at the start of a transcript.
var enrollmentPrefixes = []string{
	"my name is ",
	"call me ",
	"i'm called ",
}

// maxNameWords bounds how much of the utterance is taken as a name, so
// "call me when dinner is ready" does not enroll a five-word visitor.
const maxNameWords = 3

// EnrollmentName extracts the introduced name from a transcript, reporting
// whether the utterance is an enrollment intent.
func EnrollmentName(transcript string) (string, bool) {
	trimmed := strings.TrimSpace(transcript)
	lower := strings.ToLower(trimmed)

	for _, prefix := range enrollmentPrefixes {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		rest := strings.TrimSpace(trimmed[len(prefix):])
		rest = strings.TrimRight(rest, ".!?,")
		if rest == "" {
			return "", false
		}
		words := strings.Fields(rest)
		if len(words) > maxNameWords {
			return "", false
		}
		for i, w := range words {
			words[i] = capitalize(w)
		}
		return strings.Join(words, " "), true
	}
	return "", false
}

func capitalize(w string) string {
	r := []rune(w)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
