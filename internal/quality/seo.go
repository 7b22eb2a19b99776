package quality

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/classletter/newsletter-engine/internal/domain"
)

const (
	minTitleLen       = 10
	maxTitleLen       = 60
	minDescriptionLen = 50
	maxDescriptionLen = 160
	maxAltLen         = 100

	penaltyShortTitle         = 10
	penaltyLongTitle          = 5
	penaltyMissingDescription = 15
	penaltyShortDescription   = 8
	penaltyLongDescription    = 5
	penaltyNoH1               = 20
	penaltyMultipleH1         = 10
	penaltyLongAlt            = 3

	issueMissingDescription = "Missing meta description"
)

func analyzeSEO(d *document) domain.SEOResult {
	res := domain.SEOResult{Issues: []string{}}
	score := 100

	title := strings.TrimSpace(d.doc.Find("title").First().Text())
	res.TitleLength = utf8.RuneCountInString(title)
	switch {
	case res.TitleLength < minTitleLen:
		score -= penaltyShortTitle
		res.Issues = append(res.Issues, fmt.Sprintf("Title is too short (%d characters)", res.TitleLength))
	case res.TitleLength > maxTitleLen:
		score -= penaltyLongTitle
		res.Issues = append(res.Issues, fmt.Sprintf("Title is too long (%d characters)", res.TitleLength))
	}

	desc, ok := metaDescription(d.doc)
	if !ok {
		score -= penaltyMissingDescription
		res.Issues = append(res.Issues, issueMissingDescription)
	} else {
		res.DescriptionLength = utf8.RuneCountInString(desc)
		switch {
		case res.DescriptionLength < minDescriptionLen:
			score -= penaltyShortDescription
			res.Issues = append(res.Issues, fmt.Sprintf("Meta description is too short (%d characters)", res.DescriptionLength))
		case res.DescriptionLength > maxDescriptionLen:
			score -= penaltyLongDescription
			res.Issues = append(res.Issues, fmt.Sprintf("Meta description is too long (%d characters)", res.DescriptionLength))
		}
	}

	res.H1Count = d.doc.Find("h1").Length()
	switch {
	case res.H1Count == 0:
		score -= penaltyNoH1
		res.Issues = append(res.Issues, "No h1 heading")
	case res.H1Count > 1:
		score -= penaltyMultipleH1
		res.Issues = append(res.Issues, fmt.Sprintf("Multiple h1 headings (%d)", res.H1Count))
	}

	d.doc.Find("img[alt]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if utf8.RuneCountInString(s.AttrOr("alt", "")) > maxAltLen {
			score -= penaltyLongAlt
			res.Issues = append(res.Issues, "Image alt text exceeds 100 characters")
			return false
		}
		return true
	})

	res.Score = clamp(score)
	return res
}

func metaDescription(doc *goquery.Document) (string, bool) {
	meta := doc.Find("meta[name]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.EqualFold(s.AttrOr("name", ""), "description")
	}).First()
	if meta.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(meta.AttrOr("content", "")), true
}
