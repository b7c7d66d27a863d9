package fusion

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
)

var whitespace = regexp.MustCompile(`\s+`)

// CountTokens estimates prompt tokens with the prose tokenizer, falling back
// to whitespace-separated words.
func CountTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return len(strings.Fields(text))
	}
	return len(doc.Tokens())
}

// StripMarkup reduces scraped review HTML to its visible text.
func StripMarkup(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	}

	doc.Find("script, style").Each(func(_ int, s *goquery.Selection) {
		s.Remove()
	})

	return strings.TrimSpace(whitespace.ReplaceAllString(doc.Text(), " "))
}
