package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/pricing"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// --- ChangeService テスト用モック ---

// mockLock はテスト用のSourceLockerモック。
type mockLock struct {
	acquireResult bool
	acquireCalls  int
	releaseCalls  int
	lastKey       string
}

func (m *mockLock) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.acquireCalls++
	m.lastKey = key
	return m.acquireResult, nil
}

func (m *mockLock) Release(_ context.Context, _ string) error {
	m.releaseCalls++
	return nil
}

// mockSnapshotRepo はテスト用のSnapshotRepositoryモック。
type mockSnapshotRepo struct {
	latest      *model.PricingSnapshot
	recent      []*model.PricingSnapshot
	created     []*model.PricingSnapshot
	findErr     error
	createCalls int
}

func (m *mockSnapshotRepo) FindLatest(_ context.Context, _, _ string) (*model.PricingSnapshot, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.latest, nil
}

func (m *mockSnapshotRepo) ListRecent(_ context.Context, _, _ string, limit int) ([]*model.PricingSnapshot, error) {
	if limit < len(m.recent) {
		return m.recent[:limit], nil
	}
	return m.recent, nil
}

func (m *mockSnapshotRepo) Create(_ context.Context, snapshot *model.PricingSnapshot) error {
	m.createCalls++
	m.created = append(m.created, snapshot)
	// 実リポジトリと同様、保存したスナップショットを直近として参照可能にする
	m.latest = snapshot
	return nil
}

// mockEventRepo はテスト用のChangeEventRepositoryモック。
type mockEventRepo struct {
	events      map[string]*model.CompetitorChangeEvent
	createCalls int
	updateCalls int
	listResult  []*model.CompetitorChangeEvent
	// createErr は次のCreateで1回だけ返すエラー
	createErr error
}

func newMockEventRepo() *mockEventRepo {
	return &mockEventRepo{events: make(map[string]*model.CompetitorChangeEvent)}
}

func (m *mockEventRepo) FindByID(_ context.Context, id string) (*model.CompetitorChangeEvent, error) {
	e, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	return e, nil
}

func (m *mockEventRepo) Create(_ context.Context, event *model.CompetitorChangeEvent) error {
	m.createCalls++
	if m.createErr != nil {
		err := m.createErr
		m.createErr = nil
		return err
	}
	m.events[event.ID] = event
	return nil
}

func (m *mockEventRepo) UpdateStatus(_ context.Context, event *model.CompetitorChangeEvent) error {
	m.updateCalls++
	m.events[event.ID] = event
	return nil
}

func (m *mockEventRepo) List(_ context.Context, _ repository.EventListFilter) ([]*model.CompetitorChangeEvent, error) {
	return m.listResult, nil
}

// mockDispatcher はテスト用のDispatcherモック。
type mockDispatcher struct {
	calls   int
	created int
	err     error
	status  model.NotificationStatus
}

func (m *mockDispatcher) DispatchChangeEvent(_ context.Context, event *model.CompetitorChangeEvent) (int, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	event.NotificationStatus = m.status
	return m.created, nil
}

func newTestService(l *mockLock, snaps *mockSnapshotRepo, events *mockEventRepo, d *mockDispatcher) *ChangeService {
	return NewChangeService(l, pricing.NewParser(), snaps, events, d, nil, time.Minute)
}

const cardHTML = `
<html><body>
<div class="pricing-card"><h3>Starter</h3><div class="price">$29/mo</div>
<ul><li>5 projects</li></ul></div>
<div class="pricing-card"><h3>Pro</h3><div class="price">$49/mo</div>
<ul><li>Unlimited projects</li></ul></div>
</body></html>`

func TestIngestPricingPage_FirstObservation(t *testing.T) {
	l := &mockLock{acquireResult: true}
	snaps := &mockSnapshotRepo{}
	events := newMockEventRepo()
	d := &mockDispatcher{created: 2, status: model.NotificationStatusSent}

	svc := newTestService(l, snaps, events, d)

	event, err := svc.IngestPricingPage(context.Background(), "company-1", "https://example.com/pricing", cardHTML, model.SourceTypePricing)
	if err != nil {
		t.Fatalf("IngestPricingPage: %v", err)
	}

	if event.ProcessingStatus != model.ProcessingStatusSuccess {
		t.Errorf("ProcessingStatus = %q, want success", event.ProcessingStatus)
	}
	if event.NotificationStatus != model.NotificationStatusSent {
		t.Errorf("NotificationStatus = %q, want sent", event.NotificationStatus)
	}
	if len(event.RawDiff.AddedPlans) != 2 {
		t.Errorf("初回観測は全プランがadded: %+v", event.RawDiff)
	}
	if snaps.createCalls != 1 {
		t.Errorf("スナップショットは1回保存されるべき: %d", snaps.createCalls)
	}
	if d.calls != 1 {
		t.Errorf("ディスパッチは1回呼ばれるべき: %d", d.calls)
	}
	if l.releaseCalls != 1 {
		t.Errorf("ロックは解放されるべき: %d", l.releaseCalls)
	}
}

func TestIngestPricingPage_NoChangeIsSkipped(t *testing.T) {
	l := &mockLock{acquireResult: true}
	price29 := 29.0
	price49 := 49.0
	snaps := &mockSnapshotRepo{
		latest: &model.PricingSnapshot{
			Plans: []model.PricingPlan{
				{Plan: "Starter", Price: &price29, PriceLabel: "$29/mo", Currency: "USD", BillingCycle: model.BillingCycleMonthly, Features: []string{"5 projects"}},
				{Plan: "Pro", Price: &price49, PriceLabel: "$49/mo", Currency: "USD", BillingCycle: model.BillingCycleMonthly, Features: []string{"Unlimited projects"}},
			},
		},
	}
	events := newMockEventRepo()
	d := &mockDispatcher{}

	svc := newTestService(l, snaps, events, d)

	event, err := svc.IngestPricingPage(context.Background(), "company-1", "https://example.com/pricing", cardHTML, model.SourceTypePricing)
	if err != nil {
		t.Fatalf("IngestPricingPage: %v", err)
	}

	if event.ProcessingStatus != model.ProcessingStatusSkipped {
		t.Errorf("ProcessingStatus = %q, want skipped", event.ProcessingStatus)
	}
	if event.NotificationStatus != model.NotificationStatusSkipped {
		t.Errorf("NotificationStatus = %q, want skipped", event.NotificationStatus)
	}
	if d.calls != 0 {
		t.Error("差分なしでは通知をディスパッチしないべき")
	}
	if snaps.createCalls != 0 {
		t.Error("差分なしではスナップショットを保存しないべき")
	}
	if events.createCalls != 1 {
		t.Error("監査証跡としてスキップイベントは記録されるべき")
	}
	if l.releaseCalls != 1 {
		t.Error("スキップ時もロックは解放されるべき")
	}
}

func TestIngestPricingPage_LockContentionReturnsLastKnown(t *testing.T) {
	l := &mockLock{acquireResult: false}
	snaps := &mockSnapshotRepo{}
	events := newMockEventRepo()
	known := &model.CompetitorChangeEvent{ID: "existing-event"}
	events.listResult = []*model.CompetitorChangeEvent{known}
	d := &mockDispatcher{}

	svc := newTestService(l, snaps, events, d)

	event, err := svc.IngestPricingPage(context.Background(), "company-1", "https://example.com/pricing", cardHTML, model.SourceTypePricing)
	if err != nil {
		t.Fatalf("ロック競合はエラーではなくスキップ: %v", err)
	}
	if event == nil || event.ID != "existing-event" {
		t.Errorf("既知の直近イベントを返すべき: %+v", event)
	}
	if events.createCalls != 0 {
		t.Error("ロック競合時はイベントを作成しないべき")
	}
	if l.releaseCalls != 0 {
		t.Error("取得していないロックを解放しないべき")
	}
}

func TestIngestPricingPage_MissingCompanyRejectedBeforeLock(t *testing.T) {
	l := &mockLock{acquireResult: true}
	svc := newTestService(l, &mockSnapshotRepo{}, newMockEventRepo(), &mockDispatcher{})

	_, err := svc.IngestPricingPage(context.Background(), "", "https://example.com/pricing", cardHTML, model.SourceTypePricing)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCompanyRequired {
		t.Fatalf("company未指定はバリデーションエラーであるべき: %v", err)
	}
	if l.acquireCalls != 0 {
		t.Error("バリデーションはロック取得前に行うべき")
	}
}

func TestIngestPricingPage_ParseFailureRecordsFailedEvent(t *testing.T) {
	l := &mockLock{acquireResult: true}
	events := newMockEventRepo()
	svc := newTestService(l, &mockSnapshotRepo{}, events, &mockDispatcher{})

	event, err := svc.IngestPricingPage(context.Background(), "company-1", "https://example.com/pricing", "<html><body><p>coming soon</p></body></html>", model.SourceTypePricing)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeParseFailed {
		t.Fatalf("プラン抽出不能はパース失敗であるべき: %v", err)
	}
	if event == nil || event.ProcessingStatus != model.ProcessingStatusFailed {
		t.Errorf("失敗イベントが記録されるべき: %+v", event)
	}
	if event.ErrorNote == "" {
		t.Error("失敗イベントには診断メッセージが必要")
	}
	if l.releaseCalls != 1 {
		t.Error("失敗時もロックは解放されるべき")
	}
}

func TestIngestPricingPage_PriceChangeDetected(t *testing.T) {
	l := &mockLock{acquireResult: true}
	price19 := 19.0
	price49 := 49.0
	snaps := &mockSnapshotRepo{
		latest: &model.PricingSnapshot{
			Plans: []model.PricingPlan{
				{Plan: "Starter", Price: &price19, PriceLabel: "$19/mo", Currency: "USD", BillingCycle: model.BillingCycleMonthly, Features: []string{"5 projects"}},
				{Plan: "Pro", Price: &price49, PriceLabel: "$49/mo", Currency: "USD", BillingCycle: model.BillingCycleMonthly, Features: []string{"Unlimited projects"}},
			},
		},
	}
	events := newMockEventRepo()
	d := &mockDispatcher{created: 1, status: model.NotificationStatusSent}

	svc := newTestService(l, snaps, events, d)

	event, err := svc.IngestPricingPage(context.Background(), "company-1", "https://example.com/pricing", cardHTML, model.SourceTypePricing)
	if err != nil {
		t.Fatal(err)
	}

	if event.ProcessingStatus != model.ProcessingStatusSuccess {
		t.Fatalf("ProcessingStatus = %q, want success", event.ProcessingStatus)
	}
	if len(event.ChangedFields) == 0 {
		t.Fatal("価格変更はchanged_fieldsに記録されるべき")
	}
	found := false
	for _, change := range event.ChangedFields {
		if change.Plan == "Starter" && change.Field == "price" {
			found = true
		}
	}
	if !found {
		t.Errorf("Starterのprice変更が記録されるべき: %+v", event.ChangedFields)
	}
}

func TestIngestPricingPage_RetryAfterEventCreateFailure(t *testing.T) {
	l := &mockLock{acquireResult: true}
	snaps := &mockSnapshotRepo{}
	events := newMockEventRepo()
	events.createErr = errors.New("db connection reset")
	d := &mockDispatcher{created: 2, status: model.NotificationStatusSent}

	svc := newTestService(l, snaps, events, d)

	_, err := svc.IngestPricingPage(context.Background(), "company-1", "https://example.com/pricing", cardHTML, model.SourceTypePricing)
	if err == nil {
		t.Fatal("イベント記録の失敗はエラーを返すべき")
	}
	if snaps.createCalls != 0 {
		t.Fatalf("イベント記録前にスナップショットを進めないべき: createCalls = %d", snaps.createCalls)
	}
	if d.calls != 0 {
		t.Fatalf("イベント未記録のまま通知しないべき: calls = %d", d.calls)
	}

	// リトライ: スナップショットが進んでいないため同一HTMLでも変更が再検知される
	event, err := svc.IngestPricingPage(context.Background(), "company-1", "https://example.com/pricing", cardHTML, model.SourceTypePricing)
	if err != nil {
		t.Fatalf("リトライは成功すべき: %v", err)
	}
	if event.ProcessingStatus != model.ProcessingStatusSuccess {
		t.Errorf("ProcessingStatus = %q, want success（skippedは変更の喪失を意味する）", event.ProcessingStatus)
	}
	if d.calls != 1 {
		t.Errorf("リトライで通知がディスパッチされるべき: calls = %d", d.calls)
	}
	if snaps.createCalls != 1 {
		t.Errorf("リトライでスナップショットが保存されるべき: createCalls = %d", snaps.createCalls)
	}
}

func TestRecomputeChangeEvent_NotFound(t *testing.T) {
	svc := newTestService(&mockLock{}, &mockSnapshotRepo{}, newMockEventRepo(), &mockDispatcher{})

	_, err := svc.RecomputeChangeEvent(context.Background(), "missing")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEventNotFound {
		t.Fatalf("存在しないイベントはnot-foundであるべき: %v", err)
	}
}

func TestRecomputeChangeEvent_SentEventIsNotRedispatched(t *testing.T) {
	events := newMockEventRepo()
	price19 := 19.0
	price29 := 29.0
	snaps := &mockSnapshotRepo{
		recent: []*model.PricingSnapshot{
			{Plans: []model.PricingPlan{{Plan: "Starter", Price: &price29, Currency: "USD"}}},
			{Plans: []model.PricingPlan{{Plan: "Starter", Price: &price19, Currency: "USD"}}},
		},
	}
	event := &model.CompetitorChangeEvent{
		ID:                 "event-1",
		CompanyID:          "company-1",
		SourceURL:          "https://example.com/pricing",
		ProcessingStatus:   model.ProcessingStatusSuccess,
		NotificationStatus: model.NotificationStatusSent,
	}
	events.events[event.ID] = event
	d := &mockDispatcher{created: 1, status: model.NotificationStatusSent}

	svc := newTestService(&mockLock{}, snaps, events, d)

	updated, err := svc.RecomputeChangeEvent(context.Background(), "event-1")
	if err != nil {
		t.Fatal(err)
	}

	if d.calls != 0 {
		t.Error("sent済みイベントは再ディスパッチしないべき")
	}
	if updated.NotificationStatus != model.NotificationStatusSent {
		t.Errorf("通知状態は変更しないべき: %q", updated.NotificationStatus)
	}
	if updated.ChangeSummary == "" {
		t.Error("差分サマリは再計算されるべき")
	}
}

func TestRecomputeChangeEvent_PendingEventIsDispatched(t *testing.T) {
	events := newMockEventRepo()
	price19 := 19.0
	price29 := 29.0
	snaps := &mockSnapshotRepo{
		recent: []*model.PricingSnapshot{
			{Plans: []model.PricingPlan{{Plan: "Starter", Price: &price29, Currency: "USD"}}},
			{Plans: []model.PricingPlan{{Plan: "Starter", Price: &price19, Currency: "USD"}}},
		},
	}
	event := &model.CompetitorChangeEvent{
		ID:                 "event-1",
		CompanyID:          "company-1",
		SourceURL:          "https://example.com/pricing",
		ProcessingStatus:   model.ProcessingStatusSuccess,
		NotificationStatus: model.NotificationStatusPending,
	}
	events.events[event.ID] = event
	d := &mockDispatcher{created: 1, status: model.NotificationStatusSent}

	svc := newTestService(&mockLock{}, snaps, events, d)

	updated, err := svc.RecomputeChangeEvent(context.Background(), "event-1")
	if err != nil {
		t.Fatal(err)
	}

	if d.calls != 1 {
		t.Error("pendingイベントは再計算時にディスパッチされるべき")
	}
	if updated.NotificationStatus != model.NotificationStatusSent {
		t.Errorf("NotificationStatus = %q, want sent", updated.NotificationStatus)
	}
}

func TestRedispatchEvent_NotFound(t *testing.T) {
	svc := newTestService(&mockLock{}, &mockSnapshotRepo{}, newMockEventRepo(), &mockDispatcher{})

	_, _, err := svc.RedispatchEvent(context.Background(), "missing")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEventNotFound {
		t.Fatalf("存在しないイベントはnot-foundであるべき: %v", err)
	}
}

func TestRedispatchEvent_DispatchesAndPersists(t *testing.T) {
	events := newMockEventRepo()
	event := &model.CompetitorChangeEvent{
		ID:                 "event-1",
		CompanyID:          "company-1",
		SourceURL:          "https://example.com/pricing",
		ProcessingStatus:   model.ProcessingStatusSuccess,
		NotificationStatus: model.NotificationStatusFailed,
	}
	events.events[event.ID] = event
	d := &mockDispatcher{created: 2, status: model.NotificationStatusSent}

	svc := newTestService(&mockLock{}, &mockSnapshotRepo{}, events, d)

	updated, created, err := svc.RedispatchEvent(context.Background(), "event-1")
	if err != nil {
		t.Fatal(err)
	}

	if d.calls != 1 {
		t.Error("手動再ディスパッチは通知状態に関わらず実行されるべき")
	}
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}
	if updated.NotificationStatus != model.NotificationStatusSent {
		t.Errorf("NotificationStatus = %q, want sent", updated.NotificationStatus)
	}
	if events.updateCalls != 1 {
		t.Error("イベント状態は永続化されるべき")
	}
}

func TestRedispatchEvent_DispatchFailureIsRecorded(t *testing.T) {
	events := newMockEventRepo()
	event := &model.CompetitorChangeEvent{
		ID:                 "event-1",
		CompanyID:          "company-1",
		NotificationStatus: model.NotificationStatusPending,
	}
	events.events[event.ID] = event
	d := &mockDispatcher{err: errors.New("subscriber query failed")}

	svc := newTestService(&mockLock{}, &mockSnapshotRepo{}, events, d)

	updated, _, err := svc.RedispatchEvent(context.Background(), "event-1")
	if err == nil {
		t.Fatal("ディスパッチ失敗はエラーを返すべき")
	}
	if updated.NotificationStatus != model.NotificationStatusFailed {
		t.Errorf("NotificationStatus = %q, want failed", updated.NotificationStatus)
	}
}

func TestNormalizeSourceURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"HTTPS://Example.COM/Pricing/", "https://example.com/Pricing"},
		{"https://example.com/pricing#section", "https://example.com/pricing"},
		{"  https://example.com/pricing  ", "https://example.com/pricing"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := NormalizeSourceURL(tt.input); got != tt.want {
			t.Errorf("NormalizeSourceURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
