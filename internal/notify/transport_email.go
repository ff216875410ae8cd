package notify

import (
	"context"
	"fmt"

	gomail "gopkg.in/mail.v2"

	"github.com/hitoshi/pricewatch/internal/model"
)

// EmailTransport はSMTPによるトランザクショナルメール送信。
// Destinationは宛先メールアドレス。
type EmailTransport struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailTransport はEmailTransportの新しいインスタンスを生成する。
// hostが空の場合、送信時にNoRetryエラーを返す（設定欠落）。
func NewEmailTransport(host string, port int, username, password, from string) *EmailTransport {
	var dialer *gomail.Dialer
	if host != "" {
		dialer = gomail.NewDialer(host, port, username, password)
	}
	return &EmailTransport{
		dialer: dialer,
		from:   from,
	}
}

// Send は通知をHTMLメールとして送信する。
func (t *EmailTransport) Send(_ context.Context, destination string, event *model.NotificationEvent) (map[string]any, model.RetryHint, error) {
	if t.dialer == nil {
		// SMTP設定の欠落は待っても回復しない
		return nil, model.NoRetry(), fmt.Errorf("SMTPが設定されていません")
	}

	message := gomail.NewMessage()
	message.SetHeader("From", t.from)
	message.SetHeader("To", destination)
	message.SetHeader("Subject", event.Title)
	message.SetBody("text/html", fmt.Sprintf("<p>%s</p><pre>%s</pre>", event.Title, event.Message))

	if err := t.dialer.DialAndSend(message); err != nil {
		return nil, model.RetryAfter(defaultRetrySeconds), fmt.Errorf("メール送信に失敗: %w", err)
	}

	return map[string]any{"to": destination}, model.RetryHint{}, nil
}

// compile-time interface check
var _ Transport = (*EmailTransport)(nil)
