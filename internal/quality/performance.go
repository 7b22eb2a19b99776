package quality

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"
	"golang.org/x/net/html"

	"github.com/classletter/newsletter-engine/internal/domain"
)

const (
	largeDocumentBytes  = 100 * 1024
	mediumDocumentBytes = 50 * 1024
	maxStyleChars       = 10000
	maxInlineStyles     = 5
	maxNestingDepth     = 10

	penaltyLargeDocument  = 15
	penaltyMediumDocument = 5
	penaltyLargeStyles    = 10
	penaltyInlineStyles   = 8
	penaltyDeepNesting    = 5
	penaltyUnoptimizedImg = 3
	penaltyWhitespace     = 3
)

var optimizedImageExt = map[string]bool{
	".webp": true, ".avif": true, ".jpg": true, ".jpeg": true,
	".png": true, ".svg": true, ".gif": true,
}

var whitespaceRunRe = regexp.MustCompile(`\s{3,}`)

func analyzePerformance(d *document) domain.PerformanceResult {
	res := domain.PerformanceResult{Issues: []string{}}
	score := 100

	res.SizeBytes = len(d.raw)
	switch {
	case res.SizeBytes > largeDocumentBytes:
		score -= penaltyLargeDocument
		res.Issues = append(res.Issues, fmt.Sprintf("Document is large (%s); keep it under %s", humanize.IBytes(uint64(res.SizeBytes)), humanize.IBytes(largeDocumentBytes)))
	case res.SizeBytes > mediumDocumentBytes:
		score -= penaltyMediumDocument
		res.Issues = append(res.Issues, fmt.Sprintf("Document is moderately large (%s)", humanize.IBytes(uint64(res.SizeBytes))))
	}

	d.doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		res.StyleChars += len([]rune(s.Text()))
	})
	if res.StyleChars > maxStyleChars {
		score -= penaltyLargeStyles
		res.Issues = append(res.Issues, fmt.Sprintf("Embedded CSS is %d characters; trim unused rules", res.StyleChars))
	}

	res.InlineStyleCount = d.doc.Find("[style]").Length()
	if res.InlineStyleCount > maxInlineStyles {
		score -= penaltyInlineStyles
		res.Issues = append(res.Issues, fmt.Sprintf("%d elements use inline styles; move them to a stylesheet", res.InlineStyleCount))
	}

	for _, root := range d.doc.Nodes {
		if depth := maxDepth(root, 0); depth > res.MaxDepth {
			res.MaxDepth = depth
		}
	}
	if res.MaxDepth > maxNestingDepth {
		score -= penaltyDeepNesting
		res.Issues = append(res.Issues, fmt.Sprintf("Elements are nested %d levels deep", res.MaxDepth))
	}

	d.doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
			return true
		}
		if !optimizedImageExt[imageExt(src)] {
			score -= penaltyUnoptimizedImg
			res.Issues = append(res.Issues, fmt.Sprintf("Image %s is not in an optimized format", src))
			return false
		}
		return true
	})

	if whitespaceRunRe.MatchString(d.raw) {
		score -= penaltyWhitespace
		res.Issues = append(res.Issues, "Document contains runs of redundant whitespace")
	}

	res.Score = clamp(score)
	return res
}

// maxDepth returns the largest number of element ancestors any element
// under n has.
func maxDepth(n *html.Node, ancestors int) int {
	deepest := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		d := ancestors
		if sub := maxDepth(c, ancestors+1); sub > d {
			d = sub
		}
		if d > deepest {
			deepest = d
		}
	}
	return deepest
}

func imageExt(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	return strings.ToLower(path.Ext(src))
}
