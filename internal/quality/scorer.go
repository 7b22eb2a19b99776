// Package quality scores newsletter HTML across five rule-based categories
// and turns the results into ordered recommendations.
package quality

import (
	"errors"
	"io"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/classletter/newsletter-engine/internal/domain"
)

// Category weights applied to the four graded categories. Structure
// contributes as a gate of 100 or 50.
const (
	weightAccessibility = 0.30
	weightPerformance   = 0.25
	weightSEO           = 0.20
	weightPrinting      = 0.15

	structureValidScore   = 100
	structureInvalidScore = 50
)

// document bundles the parsed tree with facts only the raw token stream
// can provide, since the tree parser synthesizes html/head/body.
type document struct {
	raw  string
	doc  *goquery.Document
	seen explicitTags
}

type explicitTags struct {
	doctype bool
	html    bool
	head    bool
	body    bool
}

// Score analyzes raw and returns the composite report. It never panics; a
// document that cannot be parsed yields an all-zero report with a single
// recommendation to fix the syntax.
func Score(raw string) domain.QualityReport {
	d, err := parse(raw)
	if err != nil {
		return parseFailureReport()
	}

	report := domain.QualityReport{
		Structure:     analyzeStructure(d),
		Accessibility: analyzeAccessibility(d),
		Performance:   analyzePerformance(d),
		SEO:           analyzeSEO(d),
		Printing:      analyzePrinting(d),
	}
	report.OverallScore = overallScore(report)
	report.Recommendations = recommendations(report)
	report.PriorityActions = priorityActions(report)
	return report
}

func parse(raw string) (*document, error) {
	seen, err := scanExplicitTags(raw)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return &document{raw: raw, doc: doc, seen: seen}, nil
}

func scanExplicitTags(raw string) (explicitTags, error) {
	var seen explicitTags
	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return seen, nil
			}
			return seen, z.Err()
		case html.DoctypeToken:
			seen.doctype = true
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "html":
				seen.html = true
			case "head":
				seen.head = true
			case "body":
				seen.body = true
			}
		}
	}
}

func overallScore(r domain.QualityReport) int {
	structure := structureInvalidScore
	if r.Structure.Valid {
		structure = structureValidScore
	}
	sum := float64(structure) +
		weightAccessibility*float64(r.Accessibility.Score) +
		weightPerformance*float64(r.Performance.Score) +
		weightSEO*float64(r.SEO.Score) +
		weightPrinting*float64(r.Printing.Score)
	return clamp(int(math.Round(sum / 5)))
}

func parseFailureReport() domain.QualityReport {
	return domain.QualityReport{
		Structure:       domain.StructureResult{Errors: []string{}, Warnings: []string{}},
		Accessibility:   domain.AccessibilityResult{Issues: []string{}},
		Performance:     domain.PerformanceResult{Issues: []string{}},
		SEO:             domain.SEOResult{Issues: []string{}},
		Printing:        domain.PrintingResult{Issues: []string{}},
		Recommendations: []string{recFixSyntax},
		PriorityActions: []string{},
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
