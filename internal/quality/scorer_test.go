package quality

import (
	"reflect"
	"strings"
	"testing"
)

const goodDescription = "今月の学級通信です。運動会の練習の様子や来月の行事予定、持ち物のお願いについてお知らせします。ご家庭でもお子さんと話題にしてください。"

// page assembles a complete document around body with optional extra head
// markup. No whitespace is inserted between tags.
func page(head, body string) string {
	return `<!DOCTYPE html><html lang="ja"><head><meta charset="utf-8"><title>3年2組 学級通信 10月号</title>` +
		`<meta name="description" content="` + goodDescription + `">` +
		`<style>@media print { body { margin: 0; } }</style>` + head +
		`</head><body>` + body + `</body></html>`
}

func TestScore_WellFormedDocument(t *testing.T) {
	r := Score(page("", `<h1>学級通信</h1><h2>今日の活動</h2><p>元気に過ごしました。</p>`))

	if !r.Structure.Valid {
		t.Fatalf("Structure.Errors = %v, want none", r.Structure.Errors)
	}
	for name, got := range map[string]int{
		"structure":     r.Structure.Score,
		"accessibility": r.Accessibility.Score,
		"performance":   r.Performance.Score,
		"seo":           r.SEO.Score,
		"printing":      r.Printing.Score,
	} {
		if got != 100 {
			t.Errorf("%s score = %d, want 100", name, got)
		}
	}
	// (100 + 30 + 25 + 20 + 15) / 5
	if r.OverallScore != 38 {
		t.Errorf("OverallScore = %d, want 38", r.OverallScore)
	}
	if len(r.Recommendations) != 0 {
		t.Errorf("Recommendations = %v, want none", r.Recommendations)
	}
	if len(r.PriorityActions) != 0 {
		t.Errorf("PriorityActions = %v, want none", r.PriorityActions)
	}
}

func TestScore_EndToEndExample(t *testing.T) {
	r := Score("<html><body><h1>Title</h1></body></html>")

	if r.Structure.Valid {
		t.Fatal("Structure.Valid = true, want false")
	}
	if r.Structure.Score != 50 {
		t.Errorf("Structure.Score = %d, want 50", r.Structure.Score)
	}
	wantErrors := []string{"Missing DOCTYPE declaration", "Missing <head> element", "Missing <title> element"}
	if !reflect.DeepEqual(r.Structure.Errors, wantErrors) {
		t.Errorf("Structure.Errors = %v, want %v", r.Structure.Errors, wantErrors)
	}
	if len(r.Structure.Warnings) != 1 {
		t.Errorf("Structure.Warnings = %v, want charset warning only", r.Structure.Warnings)
	}
	if r.Accessibility.Score != 100 || r.Performance.Score != 100 {
		t.Errorf("accessibility/performance = %d/%d, want 100/100", r.Accessibility.Score, r.Performance.Score)
	}
	if r.SEO.Score != 75 {
		t.Errorf("SEO.Score = %d, want 75", r.SEO.Score)
	}
	if r.Printing.Score != 85 {
		t.Errorf("Printing.Score = %d, want 85", r.Printing.Score)
	}
	// round((50 + 30 + 25 + 15 + 12.75) / 5)
	if r.OverallScore != 27 {
		t.Errorf("OverallScore = %d, want 27", r.OverallScore)
	}

	wantRecs := []string{recStructure, recSEO}
	if !reflect.DeepEqual(r.Recommendations, wantRecs) {
		t.Errorf("Recommendations = %v, want %v", r.Recommendations, wantRecs)
	}
	if len(r.PriorityActions) != 4 {
		t.Fatalf("PriorityActions = %v, want 4 entries", r.PriorityActions)
	}
	for i := 0; i < 3; i++ {
		if !strings.HasPrefix(r.PriorityActions[i], urgentPrefix) {
			t.Errorf("PriorityActions[%d] = %q, want urgent prefix", i, r.PriorityActions[i])
		}
	}
}

func TestScore_StructuralGate(t *testing.T) {
	valid := Score(page("", "<h1>見出し</h1>"))
	invalid := Score(strings.Replace(page("", "<h1>見出し</h1>"), "<!DOCTYPE html>", "", 1))

	if invalid.Structure.Valid {
		t.Fatal("expected missing DOCTYPE to invalidate structure")
	}
	// Only the gate differs: (100 - 50) / 5 = 10 points.
	if valid.OverallScore-invalid.OverallScore != 10 {
		t.Errorf("overall %d vs %d, want a 10 point gap", valid.OverallScore, invalid.OverallScore)
	}
}

func TestScore_HeadingWarnings(t *testing.T) {
	r := Score(page("", "<h2>a</h2><h4>b</h4>"))
	if len(r.Structure.Warnings) != 2 {
		t.Fatalf("Warnings = %v, want 2", r.Structure.Warnings)
	}
	if !strings.Contains(r.Structure.Warnings[0], "start with h1") {
		t.Errorf("Warnings[0] = %q", r.Structure.Warnings[0])
	}
	if !strings.Contains(r.Structure.Warnings[1], "h2 to h4") {
		t.Errorf("Warnings[1] = %q", r.Structure.Warnings[1])
	}
	if !r.Structure.Valid {
		t.Error("heading warnings must not invalidate structure")
	}
}

func TestScore_AccessibilityPenalties(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing alt", `<h1>x</h1><img src="a.png">`, 90},
		{"empty alt", `<h1>x</h1><img src="a.png" alt=" ">`, 95},
		{"input without id", `<h1>x</h1><input type="text">`, 92},
		{"input without label", `<h1>x</h1><input id="n" type="text">`, 92},
		{"input with label", `<h1>x</h1><label for="n">名前</label><input id="n">`, 100},
		{"input wrapped in label", `<h1>x</h1><label>名前<input id="n"></label>`, 100},
		{"hidden input", `<h1>x</h1><input type="hidden">`, 100},
		{"empty link", `<h1>x</h1><a href="/x"></a>`, 90},
		{"link named by aria-label", `<h1>x</h1><a href="/x" aria-label="学校のサイト"></a>`, 100},
		{"image link with alt", `<h1>x</h1><a href="/x"><img src="a.png" alt="校章"></a>`, 100},
		{"low information link", `<h1>x</h1><a href="/x">こちら</a>`, 97},
		{"table without caption or headings", `<h1>x</h1><table><tr><td>1</td></tr></table>`, 87},
		{"table with caption and headings", `<h1>x</h1><table><caption>c</caption><tr><th>h</th></tr></table>`, 100},
		{"low contrast inline", `<h1>x</h1><p style="color: #fff; background: white">t</p>`, 95},
		{"readable contrast inline", `<h1>x</h1><p style="color: #000; background: #fff">t</p>`, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Score(page("", tt.body))
			if r.Accessibility.Score != tt.want {
				t.Errorf("Accessibility.Score = %d, want %d (issues %v)", r.Accessibility.Score, tt.want, r.Accessibility.Issues)
			}
		})
	}
}

func TestScore_AccessibilityFloorsAtZero(t *testing.T) {
	r := Score(page("", "<h1>x</h1>"+strings.Repeat(`<img src="a.png">`, 15)))
	if r.Accessibility.Score != 0 {
		t.Errorf("Accessibility.Score = %d, want 0", r.Accessibility.Score)
	}
	if len(r.PriorityActions) == 0 || !strings.Contains(r.PriorityActions[0], "アクセシビリティ") {
		t.Errorf("PriorityActions = %v, want accessibility action first", r.PriorityActions)
	}
}

func TestScore_PerformancePenalties(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"medium size", "<h1>x</h1><p>" + strings.Repeat("a", 60*1024) + "</p>", 95},
		{"large size", "<h1>x</h1><p>" + strings.Repeat("a", 110*1024) + "</p>", 85},
		{"inline styles", "<h1>x</h1>" + strings.Repeat(`<p style="margin:0">a</p>`, 6), 92},
		{"deep nesting", "<h1>x</h1>" + strings.Repeat("<div>", 10) + strings.Repeat("</div>", 10), 95},
		{"unoptimized image once", `<h1>x</h1><img alt="a" src="a.bmp"><img alt="b" src="b.tiff">`, 97},
		{"optimized image", `<h1>x</h1><img alt="a" src="/img/a.WEBP?v=2">`, 100},
		{"data uri", `<h1>x</h1><img alt="a" src="data:image/bmp;base64,AAAA">`, 100},
		{"whitespace run", "<h1>x</h1>\n\n\n<p>a</p>", 97},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Score(page("", tt.body))
			if r.Performance.Score != tt.want {
				t.Errorf("Performance.Score = %d, want %d (issues %v)", r.Performance.Score, tt.want, r.Performance.Issues)
			}
		})
	}
}

func TestScore_LargeStylesheet(t *testing.T) {
	r := Score(page("<style>"+strings.Repeat("p{margin:0}", 1000)+"</style>", "<h1>x</h1>"))
	if r.Performance.StyleChars <= maxStyleChars {
		t.Fatalf("StyleChars = %d, want > %d", r.Performance.StyleChars, maxStyleChars)
	}
	if r.Performance.Score != 90 {
		t.Errorf("Performance.Score = %d, want 90", r.Performance.Score)
	}
}

func TestScore_SEOPenalties(t *testing.T) {
	base := page("", "<h1>x</h1>")
	tests := []struct {
		name string
		html string
		want int
	}{
		{"short title", strings.Replace(base, "3年2組 学級通信 10月号", "通信", 1), 90},
		{"long title", strings.Replace(base, "3年2組 学級通信 10月号", strings.Repeat("長", 61), 1), 95},
		{"short description", strings.Replace(base, goodDescription, "短い説明", 1), 92},
		{"long description", strings.Replace(base, goodDescription, strings.Repeat("説", 161), 1), 95},
		{"no h1", page("", "<h2>x</h2>"), 80},
		{"two h1", page("", "<h1>x</h1><h1>y</h1>"), 90},
		{"long alt", page("", `<h1>x</h1><img src="a.png" alt="`+strings.Repeat("a", 101)+`">`), 97},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Score(tt.html)
			if r.SEO.Score != tt.want {
				t.Errorf("SEO.Score = %d, want %d (issues %v)", r.SEO.Score, tt.want, r.SEO.Issues)
			}
		})
	}
}

func TestScore_PrintingPenalties(t *testing.T) {
	noPrint := strings.Replace(page("", "<h1>x</h1>"), "@media print", "@media screen", 1)
	tests := []struct {
		name string
		html string
		want int
	}{
		{"no print styles", noPrint, 85},
		{"print stylesheet link", strings.Replace(noPrint, "</head>", `<link rel="stylesheet" media="print" href="p.css"></head>`, 1), 100},
		{"media element", page("", `<h1>x</h1><video src="v.mp4"></video>`), 90},
		{"fixed width", page("<style>.box { width: 640px; }</style>", "<h1>x</h1>"), 95},
		{"max-width is fine", page("<style>.box { max-width: 640px; }</style>", "<h1>x</h1>"), 100},
		{"inline colors", page("", "<h1>x</h1>"+strings.Repeat(`<span style="color:red">a</span>`, 4)), 92},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Score(tt.html)
			if r.Printing.Score != tt.want {
				t.Errorf("Printing.Score = %d, want %d (issues %v)", r.Printing.Score, tt.want, r.Printing.Issues)
			}
		})
	}
}

func TestScore_BoundsAndDeterminism(t *testing.T) {
	inputs := []string{
		"",
		"<p>fragment</p>",
		"<<<>>>",
		page("", "<h1>x</h1>"),
		strings.Repeat(`<img src="x.bmp"><a></a><table></table>`, 40),
	}
	for _, in := range inputs {
		a := Score(in)
		b := Score(in)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("Score(%q) is not deterministic", in)
		}
		for _, s := range []int{a.OverallScore, a.Structure.Score, a.Accessibility.Score, a.Performance.Score, a.SEO.Score, a.Printing.Score} {
			if s < 0 || s > 100 {
				t.Errorf("Score(%q) has out-of-range score %d", in, s)
			}
		}
		if len(a.PriorityActions) > maxPriorityActions {
			t.Errorf("Score(%q) has %d priority actions", in, len(a.PriorityActions))
		}
	}
}

func TestParseFailureReport(t *testing.T) {
	r := parseFailureReport()
	if r.OverallScore != 0 || r.Accessibility.Score != 0 {
		t.Errorf("expected all-zero report, got %+v", r)
	}
	if len(r.Recommendations) != 1 || r.Recommendations[0] != recFixSyntax {
		t.Errorf("Recommendations = %v", r.Recommendations)
	}
}
