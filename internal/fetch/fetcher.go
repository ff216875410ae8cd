// Package fetch は競合他社サイトのページ取得を行う。
// SSRF検証、ホスト単位のスロットル、レスポンスサイズ制限を適用した上で
// HTMLを取得し、HTTPステータスをクロール継続判断用に分類する。
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Result はHTTPステータスに基づくフェッチ結果の分類。
type Result int

const (
	// ResultOK は正常取得（2xx）。
	ResultOK Result = iota
	// ResultBackoff は一時的エラー（429/5xx）。間隔を空けて再試行する。
	ResultBackoff
	// ResultStop は恒久的エラー（404/410/401/403）。クロールを停止する。
	ResultStop
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
// 4xxのうち404/410（消滅）と401/403（アクセス拒否）は恒久的エラーとして
// 停止、429と5xxは一時的エラーとしてバックオフ対象にする。
func ClassifyHTTPStatus(statusCode int) Result {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ResultOK
	case statusCode == http.StatusNotFound,
		statusCode == http.StatusGone,
		statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return ResultStop
	default:
		// 429, 5xx, および予期しないステータス
		return ResultBackoff
	}
}

// Page はフェッチ結果。BodyはResultOKの場合のみ設定される。
type Page struct {
	Body       string
	StatusCode int
	Result     Result
	Duration   time.Duration
}

// URLValidator はフェッチ前のURL検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Throttler はホスト単位のリクエストレート抑制のインターフェース。
type Throttler interface {
	Wait(ctx context.Context, key string) error
}

// PageFetcher は単一ページのHTTPフェッチを行う。
// HTTPクライアントはsecurity.SSRFGuardServiceのNewSafeClientで生成したものを
// 注入する。テストでは素のクライアントを差し替えられる。
type PageFetcher struct {
	client      *http.Client
	validator   URLValidator
	throttle    Throttler
	logger      *slog.Logger
	maxBodySize int64
	userAgent   string
}

// NewPageFetcher はPageFetcherの新しいインスタンスを生成する。
func NewPageFetcher(
	client *http.Client,
	validator URLValidator,
	throttle Throttler,
	logger *slog.Logger,
	maxBodySize int64,
	userAgent string,
) *PageFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageFetcher{
		client:      client,
		validator:   validator,
		throttle:    throttle,
		logger:      logger,
		maxBodySize: maxBodySize,
		userAgent:   userAgent,
	}
}

// FetchPage はURLを検証し、スロットルを通してページを取得する。
// HTTPエラーステータスはエラーではなくPage.Resultとして返す。
// 呼び出し側はResultに応じてバックオフや停止の状態遷移を行う。
func (f *PageFetcher) FetchPage(ctx context.Context, rawURL string) (*Page, error) {
	if err := f.validator.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("URL検証に失敗: %w", err)
	}

	if err := f.throttle.Wait(ctx, hostKey(rawURL)); err != nil {
		return nil, fmt.Errorf("スロットル待機が中断されました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html, application/xhtml+xml, */*")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	page := &Page{
		StatusCode: resp.StatusCode,
		Result:     ClassifyHTTPStatus(resp.StatusCode),
		Duration:   time.Since(start),
	}

	if page.Result != ResultOK {
		f.logger.Warn("ページ取得がエラーステータスで終了しました",
			slog.String("url", rawURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return page, nil
	}

	// レスポンスボディを読み込み（最大サイズ制限付き）
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	page.Body = string(body)

	f.logger.Info("ページ取得が完了しました",
		slog.String("url", rawURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("body_bytes", len(page.Body)),
		slog.Float64("duration_ms", float64(page.Duration.Milliseconds())),
	)
	return page, nil
}

// hostKey はスロットルキーとしてURLのホスト名を返す。
// パースできない場合はURL全体をキーにする。
func hostKey(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return rawURL
	}
	return strings.ToLower(parsed.Hostname())
}
