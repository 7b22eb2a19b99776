// Package sanitize strips disallowed markup from generated newsletter HTML
// and reports every mutation it performs.
package sanitize

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/classletter/newsletter-engine/internal/config"
	"github.com/classletter/newsletter-engine/internal/domain"
)

// DefaultForbiddenAttributes applies when a policy names no attributes.
var DefaultForbiddenAttributes = []string{
	"class", "id", "style",
	"onclick", "onload", "onerror", "onmouseover", "onmouseout",
	"onfocus", "onblur", "onsubmit", "onchange",
	"onkeydown", "onkeyup", "onkeypress",
}

var defaultAllowedTags = []string{
	"h1", "h2", "h3", "h4", "h5", "h6",
	"p", "br", "hr", "ul", "ol", "li",
	"strong", "em", "b", "i", "u", "small", "blockquote",
	"table", "thead", "tbody", "tr", "th", "td", "caption",
	"img", "a", "figure", "figcaption",
	"section", "article", "header", "footer", "div", "span",
}

var defaultForbiddenTags = []string{
	"script", "iframe", "object", "embed", "form",
	"input", "button", "style", "link", "meta",
}

// Policy is a declarative allow/deny list. All names are lower-case.
type Policy struct {
	AllowedTags         map[string]bool
	ForbiddenTags       map[string]bool
	ForbiddenAttributes map[string]bool
}

// NewPolicy builds a policy from name lists. An empty attribute list selects
// DefaultForbiddenAttributes.
func NewPolicy(allowed, forbidden, attrs []string) Policy {
	if len(attrs) == 0 {
		attrs = DefaultForbiddenAttributes
	}
	return Policy{
		AllowedTags:         toSet(allowed),
		ForbiddenTags:       toSet(forbidden),
		ForbiddenAttributes: toSet(attrs),
	}
}

// DefaultPolicy returns the newsletter allow/deny lists.
func DefaultPolicy() Policy {
	return NewPolicy(defaultAllowedTags, defaultForbiddenTags, nil)
}

// PolicyFromConfig builds a policy from configuration, falling back to the
// default list for each list left empty.
func PolicyFromConfig(c config.SanitizerConfig) Policy {
	allowed := c.AllowedTags
	if len(allowed) == 0 {
		allowed = defaultAllowedTags
	}
	forbidden := c.ForbiddenTags
	if len(forbidden) == 0 {
		forbidden = defaultForbiddenTags
	}
	return NewPolicy(allowed, forbidden, c.ForbiddenAttributes)
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			set[n] = true
		}
	}
	return set
}

// Sanitize parses raw as a body fragment, removes every element and
// attribute the policy rejects, and returns the serialized fragment along
// with one issue per removal.
//
// A removed element takes the text it directly holds with it. Its child
// elements are examined in its place, and those that survive are spliced
// into the removed element's position. Elements the parser inserted on its
// own (a tbody around bare rows, say) are unwrapped silently when the
// policy rejects them, since the author never wrote them.
func Sanitize(raw string, p Policy) domain.SanitizeResult {
	if len(p.ForbiddenAttributes) == 0 {
		p.ForbiddenAttributes = toSet(DefaultForbiddenAttributes)
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(raw), body)
	if err != nil {
		return parseFailure(err)
	}

	s := &sanitizer{policy: p, written: writtenTags(raw), issues: []domain.SanitizeIssue{}}
	kept := s.filter(nodes)

	var buf bytes.Buffer
	for _, n := range kept {
		if err := html.Render(&buf, n); err != nil {
			return parseFailure(err)
		}
	}
	return domain.SanitizeResult{CleanedHTML: buf.String(), Issues: s.issues}
}

func parseFailure(err error) domain.SanitizeResult {
	return domain.SanitizeResult{
		CleanedHTML: "",
		Issues: []domain.SanitizeIssue{{
			Kind:        domain.IssueParseError,
			Description: fmt.Sprintf("failed to parse HTML: %v", err),
		}},
	}
}

type sanitizer struct {
	policy  Policy
	written map[string]bool
	issues  []domain.SanitizeIssue
}

// writtenTags returns the lower-case names of every start tag present in
// the raw token stream.
func writtenTags(raw string) map[string]bool {
	seen := make(map[string]bool)
	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return seen
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			seen[strings.ToLower(string(name))] = true
		}
	}
}

// filter returns the nodes that replace nodes after sanitizing, in order.
func (s *sanitizer) filter(nodes []*html.Node) []*html.Node {
	var out []*html.Node
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			if n.Type == html.DoctypeNode {
				continue
			}
			out = append(out, n)
			continue
		}

		tag := strings.ToLower(n.Data)
		rejected := s.policy.ForbiddenTags[tag] || !s.policy.AllowedTags[tag]
		switch {
		case rejected && !s.written[tag]:
			out = append(out, s.filter(children(n))...)
		case s.policy.ForbiddenTags[tag]:
			s.record(domain.IssueForbiddenTag, tag, fmt.Sprintf("forbidden tag <%s> removed", tag))
			out = append(out, s.filter(childElements(n))...)
		case !s.policy.AllowedTags[tag]:
			s.record(domain.IssueDisallowedTag, tag, fmt.Sprintf("tag <%s> is not allowed and was removed", tag))
			out = append(out, s.filter(childElements(n))...)
		default:
			s.stripAttributes(n, tag)
			replaceChildren(n, s.filter(children(n)))
			out = append(out, n)
		}
	}
	return out
}

func (s *sanitizer) stripAttributes(n *html.Node, tag string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		name := strings.ToLower(a.Key)
		if s.policy.ForbiddenAttributes[name] {
			s.record(domain.IssueForbiddenAttribute, name, fmt.Sprintf("forbidden attribute %q removed from <%s>", name, tag))
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

func (s *sanitizer) record(kind domain.IssueKind, target, desc string) {
	s.issues = append(s.issues, domain.SanitizeIssue{Kind: kind, Target: target, Description: desc})
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func childElements(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func replaceChildren(n *html.Node, kids []*html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	for _, k := range kids {
		detach(k)
		n.AppendChild(k)
	}
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
		return
	}
	n.PrevSibling = nil
	n.NextSibling = nil
}
