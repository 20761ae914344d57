package tts

import (
	"regexp"
	"strings"
)

// MinSpeakableLength is the shortest cleaned text worth sending.
const MinSpeakableLength = 5

var cleanSteps = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile("```[\\s\\S]*?```"), "Code block omitted."},
	{regexp.MustCompile("`[\\s\\S]*?`"), ""},
	{regexp.MustCompile(`\[.*?\]\(.*?\)`), ""},
	{regexp.MustCompile(`\*\*(.*?)\*\*`), "$1"},
	{regexp.MustCompile(`\*(.*?)\*`), "$1"},
	{regexp.MustCompile(`\n\n`), ". "},
	{regexp.MustCompile(`\n`), ". "},
	{regexp.MustCompile(`\s+`), " "},
}

// CleanText strips markdown that reads badly aloud.
func CleanText(text string) string {
	for _, s := range cleanSteps {
		text = s.re.ReplaceAllString(text, s.with)
	}
	return strings.TrimSpace(text)
}

// Speakable reports whether cleaned text is long enough to synthesize.
func Speakable(cleaned string) bool {
	return len([]rune(cleaned)) >= MinSpeakableLength
}
