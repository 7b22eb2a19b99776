package quality

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/classletter/newsletter-engine/internal/domain"
)

const (
	maxInlineColorStyles = 3

	penaltyNoPrintStyles = 15
	penaltyMediaElements = 10
	penaltyFixedWidth    = 5
	penaltyInlineColors  = 8
)

var (
	printMediaRe = regexp.MustCompile(`(?i)@media[^{]*\bprint\b`)
	fixedWidthRe = regexp.MustCompile(`(?i)(?:^|[^-\w])width\s*:\s*\d+(?:\.\d+)?px`)
	colorStyleRe = regexp.MustCompile(`(?i)(?:^|[;\s])(?:color|background(?:-color)?)\s*:`)
)

func analyzePrinting(d *document) domain.PrintingResult {
	res := domain.PrintingResult{Issues: []string{}}
	score := 100

	var css strings.Builder
	d.doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		css.WriteString(s.Text())
		css.WriteByte('\n')
	})
	styles := css.String()

	res.HasPrintStyles = printMediaRe.MatchString(styles) || hasPrintStylesheet(d.doc)
	if !res.HasPrintStyles {
		score -= penaltyNoPrintStyles
		res.Issues = append(res.Issues, "No print stylesheet or @media print rules")
	}

	res.MediaElements = d.doc.Find("video, audio, iframe").Length()
	if res.MediaElements > 0 {
		score -= penaltyMediaElements
		res.Issues = append(res.Issues, "Contains video, audio or iframe elements that cannot be printed")
	}

	if fixedWidthRe.MatchString(styles) {
		score -= penaltyFixedWidth
		res.Issues = append(res.Issues, "Stylesheet uses fixed pixel widths")
	}

	d.doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		if colorStyleRe.MatchString(s.AttrOr("style", "")) {
			res.InlineColorCount++
		}
	})
	if res.InlineColorCount > maxInlineColorStyles {
		score -= penaltyInlineColors
		res.Issues = append(res.Issues, "Many elements set colors inline, which may not print well")
	}

	res.Score = clamp(score)
	return res
}

func hasPrintStylesheet(doc *goquery.Document) bool {
	return doc.Find("link[rel][media]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.AttrOr("rel", "")), "stylesheet") &&
			strings.Contains(strings.ToLower(s.AttrOr("media", "")), "print")
	}).Length() > 0
}
