package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hitoshi/pricewatch/internal/model"
)

// telegramAPIBase はTelegram Bot APIのベースURL。テストで差し替える。
const telegramAPIBase = "https://api.telegram.org"

// TelegramTransport はTelegram Bot APIによるダイレクトメッセージ送信。
// Destinationはchat_id。
type TelegramTransport struct {
	client   *http.Client
	botToken string
	baseURL  string
}

// NewTelegramTransport はTelegramTransportの新しいインスタンスを生成する。
func NewTelegramTransport(client *http.Client, botToken string) *TelegramTransport {
	return &TelegramTransport{
		client:   client,
		botToken: botToken,
		baseURL:  telegramAPIBase,
	}
}

// Send は通知をTelegramメッセージとして送信する。
func (t *TelegramTransport) Send(ctx context.Context, destination string, event *model.NotificationEvent) (map[string]any, model.RetryHint, error) {
	if t.botToken == "" {
		// 認証情報の欠落は待っても回復しない
		return nil, model.NoRetry(), fmt.Errorf("telegram botトークンが設定されていません")
	}

	payload := map[string]any{
		"chat_id": destination,
		"text":    fmt.Sprintf("%s\n\n%s", event.Title, event.Message),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, model.NoRetry(), fmt.Errorf("ペイロードのシリアライズに失敗: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, model.NoRetry(), fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, model.RetryAfter(defaultRetrySeconds), fmt.Errorf("telegram API呼び出しに失敗: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		hint := model.RetryAfter(defaultRetrySeconds)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			hint = model.NoRetry()
		}
		return nil, hint, fmt.Errorf("telegram APIがエラーを返しました: status=%d", resp.StatusCode)
	}

	return map[string]any{"status_code": resp.StatusCode}, model.RetryHint{}, nil
}

// compile-time interface check
var _ Transport = (*TelegramTransport)(nil)
