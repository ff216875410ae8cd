package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 呼び出し元に返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, ingest, notify, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeSSRFBlocked       = "SSRF_BLOCKED"
	ErrCodeCompanyRequired   = "COMPANY_REQUIRED"
	ErrCodeFetchFailed       = "FETCH_FAILED"
	ErrCodeParseFailed       = "PARSE_FAILED"
	ErrCodeEventNotFound     = "EVENT_NOT_FOUND"
	ErrCodeDeliveryNotFound  = "DELIVERY_NOT_FOUND"
	ErrCodeInvalidSourceType = "INVALID_SOURCE_TYPE"
)

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を指定してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを指定してください。プライベートIPへのアクセスは許可されていません。",
	}
}

// NewCompanyRequiredError は企業ID未指定エラーを生成する。
// ロック取得前のバリデーションで使用される。
func NewCompanyRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeCompanyRequired,
		Message:  "company_idが指定されていません。",
		Category: "validation",
		Action:   "監視対象の企業IDを指定してください。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("ページの取得に失敗しました: %s", reason),
		Category: "ingest",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はパース失敗エラーを生成する。
func NewParseFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  fmt.Sprintf("料金ページの解析に失敗しました: %s", reason),
		Category: "ingest",
		Action:   "ソース設定（URL・セレクタ対象ページ）を確認してください。自動リトライは行われません。",
	}
}

// NewEventNotFoundError は変更イベント未検出エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定された変更イベントが見つかりません: %s", eventID),
		Category: "ingest",
		Action:   "イベントIDを確認してください。",
	}
}

// NewDeliveryNotFoundError は配信レコード未検出エラーを生成する。
func NewDeliveryNotFoundError(deliveryID string) *APIError {
	return &APIError{
		Code:     ErrCodeDeliveryNotFound,
		Message:  fmt.Sprintf("指定された配信レコードが見つかりません: %s", deliveryID),
		Category: "notify",
		Action:   "配信IDを確認してください。",
	}
}

// NewInvalidSourceTypeError は無効なソース種別エラーを生成する。
func NewInvalidSourceTypeError(sourceType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSourceType,
		Message:  fmt.Sprintf("無効なソース種別です: %s", sourceType),
		Category: "validation",
		Action:   "news_site、blog、pricing_page などの定義済みソース種別を指定してください。",
	}
}
