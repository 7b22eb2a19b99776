package quality

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/classletter/newsletter-engine/internal/domain"
)

const (
	maxPriorityActions = 5

	gradedThreshold        = 80
	printingThreshold      = 70
	accessibilityUrgentMax = 60
	urgentPrefix           = "【緊急】"
)

const (
	recFixSyntax     = "HTMLの構文エラーを修正してください。"
	recStructure     = "HTMLの基本構造（DOCTYPE、html、head、title、body）を整えてください。"
	recAccessibility = "アクセシビリティを改善してください。画像の代替テキスト、リンクの文言、表の見出しを確認してください。"
	recPerformance   = "ページを軽量化してください。インラインスタイルや不要な空白を減らし、画像を最適化してください。"
	recSEO           = "タイトル、meta description、h1 見出しを適切な長さと数に整えてください。"
	recPrinting      = "印刷用のスタイル（@media print）を追加し、固定幅や印刷できない要素を避けてください。"
)

// recommendations emits one fixed string per failing category in category
// order.
func recommendations(r domain.QualityReport) []string {
	recs := []string{}
	if len(r.Structure.Errors) > 0 {
		recs = append(recs, recStructure)
	}
	if r.Accessibility.Score < gradedThreshold {
		recs = append(recs, recAccessibility)
	}
	if r.Performance.Score < gradedThreshold {
		recs = append(recs, recPerformance)
	}
	if r.SEO.Score < gradedThreshold {
		recs = append(recs, recSEO)
	}
	if r.Printing.Score < printingThreshold {
		recs = append(recs, recPrinting)
	}
	return recs
}

// priorityActions ranks the most pressing fixes, structural errors first.
func priorityActions(r domain.QualityReport) []string {
	actions := []string{}
	for _, e := range r.Structure.Errors {
		actions = append(actions, urgentPrefix+e)
	}
	if r.Accessibility.Score < accessibilityUrgentMax {
		actions = append(actions, fmt.Sprintf("アクセシビリティのスコアが低いです（%d点）。画像の alt 属性とフォームのラベルを優先して修正してください。", r.Accessibility.Score))
	}
	if r.Performance.SizeBytes > largeDocumentBytes {
		actions = append(actions, fmt.Sprintf("ファイルサイズ（%s）を %s 以下に削減してください。", humanize.IBytes(uint64(r.Performance.SizeBytes)), humanize.IBytes(largeDocumentBytes)))
	}
	if r.SEO.H1Count == 0 {
		actions = append(actions, "h1 見出しを追加してください。")
	}
	if hasIssue(r.SEO.Issues, issueMissingDescription) {
		actions = append(actions, "meta description を追加してください。")
	}
	if len(actions) > maxPriorityActions {
		actions = actions[:maxPriorityActions]
	}
	return actions
}

func hasIssue(issues []string, want string) bool {
	for _, i := range issues {
		if i == want {
			return true
		}
	}
	return false
}
