package quality

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/classletter/newsletter-engine/internal/domain"
)

func analyzeStructure(d *document) domain.StructureResult {
	res := domain.StructureResult{Errors: []string{}, Warnings: []string{}}

	if !d.seen.doctype {
		res.Errors = append(res.Errors, "Missing DOCTYPE declaration")
	}
	if !d.seen.html {
		res.Errors = append(res.Errors, "Missing <html> element")
	}
	if !d.seen.head {
		res.Errors = append(res.Errors, "Missing <head> element")
	}
	if d.doc.Find("title").Length() == 0 {
		res.Errors = append(res.Errors, "Missing <title> element")
	}
	if !hasCharset(d.doc) {
		res.Warnings = append(res.Warnings, "Missing charset meta tag")
	}
	if !d.seen.body {
		res.Errors = append(res.Errors, "Missing <body> element")
	}
	res.Warnings = append(res.Warnings, headingWarnings(d.doc)...)

	res.Valid = len(res.Errors) == 0
	if res.Valid {
		res.Score = structureValidScore
	} else {
		res.Score = structureInvalidScore
	}
	return res
}

func hasCharset(doc *goquery.Document) bool {
	found := false
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if _, ok := s.Attr("charset"); ok {
			found = true
			return false
		}
		equiv, _ := s.Attr("http-equiv")
		content, _ := s.Attr("content")
		if strings.EqualFold(equiv, "content-type") && strings.Contains(strings.ToLower(content), "charset=") {
			found = true
			return false
		}
		return true
	})
	return found
}

// headingWarnings checks that headings start at h1 and never skip a level
// going down.
func headingWarnings(doc *goquery.Document) []string {
	var warnings []string
	prev := 0
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		level := int(goquery.NodeName(s)[1] - '0')
		switch {
		case prev == 0 && level != 1:
			warnings = append(warnings, fmt.Sprintf("Heading hierarchy should start with h1, found h%d", level))
		case prev != 0 && level > prev+1:
			warnings = append(warnings, fmt.Sprintf("Heading level skipped: h%d to h%d", prev, level))
		}
		prev = level
	})
	return warnings
}
