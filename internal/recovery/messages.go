package recovery

import "github.com/classletter/newsletter-engine/internal/domain"

type userMessage struct {
	text        string
	suggestions []string
}

var userMessages = map[domain.ErrorKind]userMessage{
	domain.KindTransferFailed: {
		"処理の受け渡しに失敗しました。",
		[]string{"しばらく待ってから再度お試しください。"},
	},
	domain.KindArtifactProcessingFailed: {
		"生成データの処理に失敗しました。",
		[]string{"もう一度生成をお試しください。"},
	},
	domain.KindLLMGenerationFailed: {
		"AIによる文章生成に失敗しました。",
		[]string{"入力内容を短くして再度お試しください。", "時間をおいて再度お試しください。"},
	},
	domain.KindJSONParsingFailed: {
		"構成データの読み取りに失敗しました。",
		[]string{"既定の構成で作成を続けます。"},
	},
	domain.KindHTMLValidationFailed: {
		"HTMLの検証に失敗しました。",
		[]string{"エディタで内容を確認してください。"},
	},
	domain.KindTimeout: {
		"処理がタイムアウトしました。",
		[]string{"ネットワーク環境を確認してください。", "時間をおいて再度お試しください。"},
	},
	domain.KindNetwork: {
		"ネットワークエラーが発生しました。",
		[]string{"インターネット接続を確認してください。"},
	},
	domain.KindAuthentication: {
		"認証に失敗しました。",
		[]string{"再度ログインしてください。"},
	},
	domain.KindResourceExhausted: {
		"利用上限に達しました。",
		[]string{"しばらく待ってから再度お試しください。"},
	},
	domain.KindUnknown: {
		"予期しないエラーが発生しました。",
		nil,
	},
}

const (
	msgRecoverySucceeded = "自動復旧に成功しました。"
	msgRecoveryFailed    = "自動復旧できませんでした。"
)

// MessageFor returns the localized message and suggestions for kind.
func MessageFor(kind domain.ErrorKind) (string, []string) {
	m, ok := userMessages[kind]
	if !ok {
		m = userMessages[domain.KindUnknown]
	}
	return m.text, append([]string(nil), m.suggestions...)
}
