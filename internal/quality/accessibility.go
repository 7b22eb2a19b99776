package quality

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/classletter/newsletter-engine/internal/domain"
)

const (
	penaltyMissingAlt      = 10
	penaltyEmptyAlt        = 5
	penaltyInputNoID       = 8
	penaltyInputNoLabel    = 8
	penaltyLowContrast     = 5
	penaltyEmptyLink       = 10
	penaltyLowInfoLink     = 3
	penaltyTableNoCaption  = 5
	penaltyTableNoHeadings = 8
)

// lowInfoLinkText are link texts that say nothing about the target.
var lowInfoLinkText = map[string]bool{
	"click here": true,
	"here":       true,
	"read more":  true,
	"more":       true,
	"こちら":        true,
	"ここ":         true,
	"詳細":         true,
	"続きを読む":      true,
}

var unlabeledInputTypes = map[string]bool{"hidden": true, "submit": true, "button": true}

func analyzeAccessibility(d *document) domain.AccessibilityResult {
	res := domain.AccessibilityResult{Issues: []string{}}
	score := 100

	imgs := d.doc.Find("img")
	res.Images = imgs.Length()
	imgs.Each(func(_ int, s *goquery.Selection) {
		alt, ok := s.Attr("alt")
		switch {
		case !ok:
			score -= penaltyMissingAlt
			res.Issues = append(res.Issues, fmt.Sprintf("Image missing alt attribute: %s", attrOr(s, "src", "(no src)")))
		case strings.TrimSpace(alt) == "":
			score -= penaltyEmptyAlt
			res.Issues = append(res.Issues, fmt.Sprintf("Image has empty alt text: %s", attrOr(s, "src", "(no src)")))
		}
	})

	d.doc.Find("input").Each(func(_ int, s *goquery.Selection) {
		typ := strings.ToLower(attrOr(s, "type", "text"))
		if unlabeledInputTypes[typ] {
			return
		}
		id, ok := s.Attr("id")
		if !ok || strings.TrimSpace(id) == "" {
			score -= penaltyInputNoID
			res.Issues = append(res.Issues, fmt.Sprintf("Form input (type=%s) missing id", typ))
			return
		}
		if d.doc.Find(fmt.Sprintf(`label[for=%q]`, id)).Length() == 0 && s.Closest("label").Length() == 0 {
			score -= penaltyInputNoLabel
			res.Issues = append(res.Issues, fmt.Sprintf("Form input %q has no associated label", id))
		}
	})

	if hasLowContrast(d.doc) {
		score -= penaltyLowContrast
		res.Issues = append(res.Issues, "Possible low color contrast between text and background")
	}

	links := d.doc.Find("a")
	res.Links = links.Length()
	links.Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			if label, ok := s.Attr("aria-label"); ok && strings.TrimSpace(label) != "" {
				return
			}
			if alt, ok := s.Find("img").Attr("alt"); ok && strings.TrimSpace(alt) != "" {
				return
			}
			score -= penaltyEmptyLink
			res.Issues = append(res.Issues, fmt.Sprintf("Link has no text: %s", attrOr(s, "href", "(no href)")))
			return
		}
		if lowInfoLinkText[strings.ToLower(text)] {
			score -= penaltyLowInfoLink
			res.Issues = append(res.Issues, fmt.Sprintf("Link text %q does not describe its target", text))
		}
	})

	tables := d.doc.Find("table")
	res.Tables = tables.Length()
	tables.Each(func(i int, s *goquery.Selection) {
		if s.Find("caption").Length() == 0 {
			score -= penaltyTableNoCaption
			res.Issues = append(res.Issues, fmt.Sprintf("Table %d has no caption", i+1))
		}
		if s.Find("th").Length() == 0 {
			score -= penaltyTableNoHeadings
			res.Issues = append(res.Issues, fmt.Sprintf("Table %d has no header cells", i+1))
		}
	})

	res.Score = clamp(score)
	return res
}

func attrOr(s *goquery.Selection, name, fallback string) string {
	if v, ok := s.Attr(name); ok && v != "" {
		return v
	}
	return fallback
}

var (
	colorDeclRe      = regexp.MustCompile(`(?i)(?:^|[;{\s])color\s*:\s*([^;}]+)`)
	backgroundDeclRe = regexp.MustCompile(`(?i)background(?:-color)?\s*:\s*([^;}]+)`)
	hexColorRe       = regexp.MustCompile(`^#([0-9a-f]{3}|[0-9a-f]{6})\b`)
	rgbColorRe       = regexp.MustCompile(`^rgba?\(\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)`)
)

// hasLowContrast flags a rule block or inline style that sets both a text
// color and a background from the same luminance band.
func hasLowContrast(doc *goquery.Document) bool {
	var blocks []string
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, strings.Split(s.Text(), "}")...)
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, s.AttrOr("style", ""))
	})

	for _, b := range blocks {
		fg := colorDeclRe.FindStringSubmatch(b)
		bg := backgroundDeclRe.FindStringSubmatch(b)
		if fg == nil || bg == nil {
			continue
		}
		fgBand, ok1 := luminanceBand(fg[1])
		bgBand, ok2 := luminanceBand(bg[1])
		if ok1 && ok2 && fgBand == bgBand {
			return true
		}
	}
	return false
}

var namedColorBands = map[string]int{
	"white": 1, "ivory": 1, "snow": 1, "whitesmoke": 1, "lightyellow": 1, "lightgray": 1, "lightgrey": 1, "yellow": 1,
	"black": -1, "navy": -1, "darkblue": -1, "maroon": -1, "darkgreen": -1, "dimgray": -1, "dimgrey": -1,
}

// luminanceBand classifies a CSS color as light (1) or dark (-1). Colors in
// the middle band or in unknown notation are not classified.
func luminanceBand(value string) (int, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.TrimSpace(strings.TrimSuffix(v, "!important"))

	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0, false
	}
	if band, ok := namedColorBands[fields[0]]; ok {
		return band, true
	}

	var r, g, b int
	if m := hexColorRe.FindStringSubmatch(v); m != nil {
		hex := m[1]
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		n, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, false
		}
		r, g, b = int(n>>16&0xff), int(n>>8&0xff), int(n&0xff)
	} else if m := rgbColorRe.FindStringSubmatch(v); m != nil {
		r, _ = strconv.Atoi(m[1])
		g, _ = strconv.Atoi(m[2])
		b, _ = strconv.Atoi(m[3])
	} else {
		return 0, false
	}

	lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	switch {
	case lum >= 200:
		return 1, true
	case lum <= 60:
		return -1, true
	}
	return 0, false
}
