package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
)

// WebhookTransport は汎用Webhook POST送信。
// DestinationはWebhook URL。Slack/ZapierのIncoming Webhookも
// 同一のペイロード形式で送信する。
type WebhookTransport struct {
	client *http.Client
}

// NewWebhookTransport はWebhookTransportの新しいインスタンスを生成する。
func NewWebhookTransport(client *http.Client) *WebhookTransport {
	return &WebhookTransport{client: client}
}

// Send は通知ペイロードを宛先URLへPOSTする。
func (t *WebhookTransport) Send(ctx context.Context, destination string, event *model.NotificationEvent) (map[string]any, model.RetryHint, error) {
	payload := map[string]any{
		"event_type": event.EventType,
		"company_id": event.CompanyID,
		"title":      event.Title,
		"message":    event.Message,
		"priority":   int(event.Priority),
		"sent_at":    time.Now().UTC().Format(time.RFC3339),
		// Slack Incoming Webhook互換のテキストフィールド
		"text": fmt.Sprintf("%s\n%s", event.Title, event.Message),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, model.NoRetry(), fmt.Errorf("ペイロードのシリアライズに失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return nil, model.NoRetry(), fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, model.RetryAfter(defaultRetrySeconds), fmt.Errorf("webhook呼び出しに失敗: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		hint := model.RetryAfter(defaultRetrySeconds)
		// 4xxは宛先設定の誤りであることが多く、再試行しても回復しない
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			hint = model.NoRetry()
		}
		return nil, hint, fmt.Errorf("webhookがエラーを返しました: status=%d", resp.StatusCode)
	}

	return map[string]any{"status_code": resp.StatusCode}, model.RetryHint{}, nil
}

// compile-time interface check
var _ Transport = (*WebhookTransport)(nil)
