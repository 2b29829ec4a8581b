package ingestion

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// PageText is one extracted page; it only exists while an ingestion run is in
// flight and is never persisted on its own.
type PageText struct {
	Page int
	Text string
}

var (
	controlCharsRe = regexp.MustCompile(`[\x00-\x09\x0B-\x1F\x7F]`)
	hyphenWrapRe   = regexp.MustCompile(`-\n`)
	horizontalWsRe = regexp.MustCompile(`[ \t]+`)
	excessLinesRe  = regexp.MustCompile(`\n{3,}`)
)

// NormalizeText cleans raw extracted page text. The rewrite order matters:
// hyphen joins must run before whitespace collapsing or the wrap marker is gone.
func NormalizeText(text string) string {
	text = controlCharsRe.ReplaceAllString(text, "")
	text = hyphenWrapRe.ReplaceAllString(text, "")
	text = horizontalWsRe.ReplaceAllString(text, " ")
	text = excessLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// IsProbablyScan reports whether the page set looks like a scanned image with
// no extractable text (average under 100 chars per page). The caller decides
// whether to abort or proceed.
func IsProbablyScan(pages []PageText) bool {
	if len(pages) == 0 {
		return true
	}
	total := 0
	for _, p := range pages {
		total += utf8.RuneCountInString(p.Text)
	}
	return total/len(pages) < 100
}
