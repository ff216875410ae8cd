package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
)

// mockTransport はテスト用のTransportモック。
type mockTransport struct {
	calls int
	meta  map[string]any
	hint  model.RetryHint
	err   error
	panic bool
}

func (m *mockTransport) Send(_ context.Context, _ string, _ *model.NotificationEvent) (map[string]any, model.RetryHint, error) {
	m.calls++
	if m.panic {
		panic("transport exploded")
	}
	return m.meta, m.hint, m.err
}

func pendingDelivery(channel model.ChannelType) *model.NotificationDelivery {
	return &model.NotificationDelivery{
		ID:          "delivery-1",
		EventID:     "notification-1",
		UserID:      "user-1",
		ChannelType: channel,
		Destination: "dest",
		Status:      model.DeliveryStatusPending,
		Attempt:     0,
		MaxAttempts: 3,
	}
}

func executorWith(repo *mockNotificationRepo, transport *mockTransport) *DeliveryExecutor {
	return NewDeliveryExecutor(repo, transport, transport, transport, nil)
}

func seedEvent(repo *mockNotificationRepo) {
	repo.events["notification-1"] = &model.NotificationEvent{
		ID:      "notification-1",
		Title:   "競合の料金変更を検知しました",
		Message: "Starter: $29.00 → $39.00",
	}
}

func TestProcessDelivery_Success(t *testing.T) {
	repo := newMockNotificationRepo()
	seedEvent(repo)
	transport := &mockTransport{meta: map[string]any{"status_code": 200}}
	e := executorWith(repo, transport)

	delivery := pendingDelivery(model.ChannelTelegram)
	ok, err := e.ProcessDelivery(context.Background(), delivery)
	if err != nil {
		t.Fatalf("ProcessDelivery: %v", err)
	}
	if !ok {
		t.Fatal("成功を返すべき")
	}
	if delivery.Status != model.DeliveryStatusSent {
		t.Errorf("Status = %q, want sent", delivery.Status)
	}
	if delivery.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", delivery.Attempt)
	}
	if delivery.ResponseMeta == nil {
		t.Error("成功時は応答メタデータを記録すべき")
	}
	if len(repo.updated) != 1 {
		t.Error("配信レコードは永続化されるべき")
	}
}

func TestProcessDelivery_FailureSchedulesRetry(t *testing.T) {
	repo := newMockNotificationRepo()
	seedEvent(repo)
	transport := &mockTransport{
		err:  fmt.Errorf("connection refused"),
		hint: model.RetryAfter(300),
	}
	e := executorWith(repo, transport)

	delivery := pendingDelivery(model.ChannelWebhook)
	ok, err := e.ProcessDelivery(context.Background(), delivery)
	if err != nil {
		t.Fatalf("トランスポートエラーは伝播させないべき: %v", err)
	}
	if ok {
		t.Fatal("失敗を返すべき")
	}
	if delivery.Status != model.DeliveryStatusRetrying {
		t.Errorf("Status = %q, want retrying", delivery.Status)
	}
	if delivery.NextRetryAt == nil {
		t.Fatal("next_retry_atが設定されるべき")
	}
	wantAround := time.Now().Add(300 * time.Second)
	if diff := delivery.NextRetryAt.Sub(wantAround); diff < -5*time.Second || diff > 5*time.Second {
		t.Errorf("next_retry_atは約300秒後であるべき: %v", delivery.NextRetryAt)
	}
	if delivery.LastError == "" {
		t.Error("失敗メッセージが記録されるべき")
	}
}

func TestProcessDelivery_NoRetryHintIsTerminal(t *testing.T) {
	repo := newMockNotificationRepo()
	seedEvent(repo)
	transport := &mockTransport{
		err:  fmt.Errorf("missing credentials"),
		hint: model.NoRetry(),
	}
	e := executorWith(repo, transport)

	delivery := pendingDelivery(model.ChannelEmail)
	ok, err := e.ProcessDelivery(context.Background(), delivery)
	if err != nil || ok {
		t.Fatalf("失敗として記録されるべき: ok=%v err=%v", ok, err)
	}
	if delivery.Status != model.DeliveryStatusFailed {
		t.Errorf("Status = %q, want failed", delivery.Status)
	}
	if delivery.NextRetryAt != nil {
		t.Error("NoRetryヒントでは再試行をスケジュールしないべき")
	}
}

func TestProcessDelivery_MaxAttemptsIsTerminalFailed(t *testing.T) {
	repo := newMockNotificationRepo()
	seedEvent(repo)
	transport := &mockTransport{
		err:  fmt.Errorf("still down"),
		hint: model.RetryAfter(300),
	}
	e := executorWith(repo, transport)

	delivery := pendingDelivery(model.ChannelWebhook)
	delivery.Attempt = 2 // 今回で3回目 = max_attempts

	ok, err := e.ProcessDelivery(context.Background(), delivery)
	if err != nil || ok {
		t.Fatalf("失敗として記録されるべき: ok=%v err=%v", ok, err)
	}
	if delivery.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", delivery.Attempt)
	}
	if delivery.Status != model.DeliveryStatusFailed {
		t.Errorf("max_attempts到達後はfailedが終端: %q", delivery.Status)
	}
	if delivery.NextRetryAt != nil {
		t.Error("終端状態では再試行をスケジュールしないべき")
	}
}

func TestProcessDelivery_TransportPanicIsContained(t *testing.T) {
	repo := newMockNotificationRepo()
	seedEvent(repo)
	transport := &mockTransport{panic: true}
	e := executorWith(repo, transport)

	delivery := pendingDelivery(model.ChannelTelegram)
	ok, err := e.ProcessDelivery(context.Background(), delivery)
	if err != nil {
		t.Fatalf("パニックは失敗レコードに変換されるべき: %v", err)
	}
	if ok {
		t.Fatal("失敗を返すべき")
	}
	if delivery.Status != model.DeliveryStatusRetrying {
		t.Errorf("パニック後は再試行可能な失敗として扱うべき: %q", delivery.Status)
	}
}

func TestProcessDelivery_MissingEventIsTerminal(t *testing.T) {
	repo := newMockNotificationRepo()
	transport := &mockTransport{}
	e := executorWith(repo, transport)

	delivery := pendingDelivery(model.ChannelTelegram)
	ok, err := e.ProcessDelivery(context.Background(), delivery)
	if err != nil || ok {
		t.Fatalf("イベント不在は失敗として記録されるべき: ok=%v err=%v", ok, err)
	}
	if delivery.Status != model.DeliveryStatusFailed {
		t.Errorf("Status = %q, want failed", delivery.Status)
	}
	if transport.calls != 0 {
		t.Error("イベント不在ではトランスポートを呼ばないべき")
	}
}
