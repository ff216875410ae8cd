// Package ingest は競合価格ページの取り込みと変更検知を行う。
// フェッチ済みHTMLを受け取り、パース→直近スナップショットとの差分計算→
// 変更イベントの永続化→通知ディスパッチまでを1サイクルとして実行する。
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pricewatch/internal/diff"
	"github.com/hitoshi/pricewatch/internal/lock"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/pricing"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// Dispatcher は変更イベントの通知ディスパッチのインターフェース。
// 戻り値は作成した配信レコード数。event.NotificationStatusを更新する。
type Dispatcher interface {
	DispatchChangeEvent(ctx context.Context, event *model.CompetitorChangeEvent) (int, error)
}

// PageParser は価格ページのパースのインターフェース。
type PageParser interface {
	Parse(html string) model.ParseResult
}

// ChangeService は変更検知サイクルのオーケストレータ。
// (company, source_url)ごとにソースロックで直列化し、同一サイクルの
// 重複実行を防ぐ。重複実行が起きても結果はスキップ行が増えるだけで
// 状態は壊れない（冪等）。
type ChangeService struct {
	sourceLock lock.SourceLocker
	parser     PageParser
	snapshots  repository.SnapshotRepository
	events     repository.ChangeEventRepository
	dispatcher Dispatcher
	logger     *slog.Logger
	lockTTL    time.Duration
}

// NewChangeService はChangeServiceの新しいインスタンスを生成する。
func NewChangeService(
	sourceLock lock.SourceLocker,
	parser PageParser,
	snapshots repository.SnapshotRepository,
	events repository.ChangeEventRepository,
	dispatcher Dispatcher,
	logger *slog.Logger,
	lockTTL time.Duration,
) *ChangeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeService{
		sourceLock: sourceLock,
		parser:     parser,
		snapshots:  snapshots,
		events:     events,
		dispatcher: dispatcher,
		logger:     logger,
		lockTTL:    lockTTL,
	}
}

// IngestPricingPage は価格ページHTMLの1回分の取り込みを実行する。
// アルゴリズム:
//  1. 入力検証（ロック取得前に拒否）
//  2. 正規化URLでソースロックを取得。取得できなければ処理をスキップし、
//     既知の直近イベントを返す
//  3. HTMLをパース。プランが1つも取れなければ失敗イベントを記録
//  4. 直近スナップショットを読み、差分を計算
//  5. 差分が空ならskipped/skippedの監査イベントのみ記録（通知なし）
//  6. 差分があればイベントを永続化し、その後にスナップショットを保存して
//     通知をディスパッチ（イベント記録前にスナップショットを進めない）
//  7. ロックは結果に関わらずdeferで解放する
func (s *ChangeService) IngestPricingPage(
	ctx context.Context,
	companyID string,
	sourceURL string,
	html string,
	sourceType model.SourceType,
) (*model.CompetitorChangeEvent, error) {
	if companyID == "" {
		return nil, model.NewCompanyRequiredError()
	}
	if sourceURL == "" {
		return nil, model.NewInvalidURLError("source_urlが空です")
	}

	normalized := NormalizeSourceURL(sourceURL)

	acquired, err := s.sourceLock.Acquire(ctx, normalized, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("ソースロックの取得に失敗: %w", err)
	}
	if !acquired {
		// 別ワーカーが処理中。スキップして既知の直近イベントを返す。
		s.logger.Info("ソースロックが取得できないため取り込みをスキップします",
			slog.String("company_id", companyID),
			slog.String("source_url", normalized),
		)
		return s.lastKnownEvent(ctx, companyID, normalized)
	}
	defer func() {
		if err := s.sourceLock.Release(ctx, normalized); err != nil {
			s.logger.Warn("ソースロックの解放に失敗しました",
				slog.String("source_url", normalized),
				slog.String("error", err.Error()),
			)
		}
	}()

	result := s.parser.Parse(html)
	if len(result.Plans) == 0 {
		// レイアウト変更等でプランを1つも抽出できない。自動リトライでは
		// 回復しないため、失敗イベントを記録してソース設定の修正を促す。
		note := "料金ページからプランを抽出できませんでした"
		event := s.newEvent(companyID, normalized, sourceType)
		event.ProcessingStatus = model.ProcessingStatusFailed
		event.NotificationStatus = model.NotificationStatusSkipped
		event.ErrorNote = note
		if createErr := s.events.Create(ctx, event); createErr != nil {
			return nil, fmt.Errorf("失敗イベントの記録に失敗: %w", createErr)
		}
		return event, model.NewParseFailedError(note)
	}

	previous, err := s.snapshots.FindLatest(ctx, companyID, normalized)
	if err != nil {
		return nil, fmt.Errorf("直近スナップショットの取得に失敗: %w", err)
	}

	var previousPlans []model.PricingPlan
	if previous != nil {
		previousPlans = previous.Plans
	}

	planDiff := diff.Compute(previousPlans, result.Plans)

	event := s.newEvent(companyID, normalized, sourceType)

	if planDiff.Empty() {
		// 変更なし。監査証跡のためイベント行は残すが通知はしない。
		event.ProcessingStatus = model.ProcessingStatusSkipped
		event.NotificationStatus = model.NotificationStatusSkipped
		if err := s.events.Create(ctx, event); err != nil {
			return nil, fmt.Errorf("スキップイベントの記録に失敗: %w", err)
		}
		s.logger.Info("価格に変更はありませんでした",
			slog.String("company_id", companyID),
			slog.String("source_url", normalized),
		)
		return event, nil
	}

	event.ProcessingStatus = model.ProcessingStatusSuccess
	event.RawDiff = planDiff
	event.ChangedFields = planDiff.UpdatedPlans
	event.ChangeSummary = diff.BuildSummary(planDiff)

	// イベント行を先に永続化する。スナップショットを先に進めると、
	// イベント記録の失敗後のリトライが新スナップショットとの空差分になり、
	// 検知済みの変更が記録も通知もされないまま失われる。
	// この順序ならイベント記録後の失敗はリトライで重複イベントになるだけで
	// 変更自体は失われない。
	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("変更イベントの記録に失敗: %w", err)
	}

	snapshot := &model.PricingSnapshot{
		ID:         uuid.NewString(),
		CompanyID:  companyID,
		SourceURL:  normalized,
		Plans:      result.Plans,
		CapturedAt: event.DetectedAt,
	}
	if err := s.snapshots.Create(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("スナップショットの保存に失敗: %w", err)
	}

	s.logger.Info("価格変更を検知しました",
		slog.String("company_id", companyID),
		slog.String("source_url", normalized),
		slog.String("event_id", event.ID),
		slog.Int("added_plans", len(planDiff.AddedPlans)),
		slog.Int("removed_plans", len(planDiff.RemovedPlans)),
		slog.Int("updated_fields", len(planDiff.UpdatedPlans)),
	)

	created, dispatchErr := s.dispatcher.DispatchChangeEvent(ctx, event)
	if dispatchErr != nil {
		s.logger.Error("通知ディスパッチに失敗しました",
			slog.String("event_id", event.ID),
			slog.String("error", dispatchErr.Error()),
		)
		event.NotificationStatus = model.NotificationStatusFailed
	} else {
		s.logger.Info("通知をディスパッチしました",
			slog.String("event_id", event.ID),
			slog.Int("deliveries_created", created),
		)
	}

	if err := s.events.UpdateStatus(ctx, event); err != nil {
		return nil, fmt.Errorf("イベント状態の更新に失敗: %w", err)
	}

	return event, nil
}

// RecomputeChangeEvent は既存イベントの差分を保存済みスナップショットから再計算する。
// 手動修正やバックフィルで使用する。通知状態がsentのイベントを再ディスパッチ
// しない。通知状態の更新はpendingだった場合に限る。
func (s *ChangeService) RecomputeChangeEvent(ctx context.Context, eventID string) (*model.CompetitorChangeEvent, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("変更イベントの取得に失敗: %w", err)
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}

	snapshots, err := s.snapshots.ListRecent(ctx, event.CompanyID, event.SourceURL, 2)
	if err != nil {
		return nil, fmt.Errorf("スナップショットの取得に失敗: %w", err)
	}

	var previousPlans, currentPlans []model.PricingPlan
	if len(snapshots) > 0 {
		currentPlans = snapshots[0].Plans
	}
	if len(snapshots) > 1 {
		previousPlans = snapshots[1].Plans
	}

	planDiff := diff.Compute(previousPlans, currentPlans)

	wasPending := event.NotificationStatus == model.NotificationStatusPending

	event.RawDiff = planDiff
	event.ChangedFields = planDiff.UpdatedPlans
	event.ChangeSummary = diff.BuildSummary(planDiff)
	event.ErrorNote = ""

	if planDiff.Empty() {
		event.ProcessingStatus = model.ProcessingStatusSkipped
		if wasPending {
			event.NotificationStatus = model.NotificationStatusSkipped
		}
	} else {
		event.ProcessingStatus = model.ProcessingStatusSuccess
		if wasPending {
			created, dispatchErr := s.dispatcher.DispatchChangeEvent(ctx, event)
			if dispatchErr != nil {
				s.logger.Error("再計算後の通知ディスパッチに失敗しました",
					slog.String("event_id", event.ID),
					slog.String("error", dispatchErr.Error()),
				)
				event.NotificationStatus = model.NotificationStatusFailed
			} else {
				s.logger.Info("再計算後に通知をディスパッチしました",
					slog.String("event_id", event.ID),
					slog.Int("deliveries_created", created),
				)
			}
		}
	}

	if err := s.events.UpdateStatus(ctx, event); err != nil {
		return nil, fmt.Errorf("イベント状態の更新に失敗: %w", err)
	}

	return event, nil
}

// RedispatchEvent は既存イベントの通知を手動で再ディスパッチする。
// 通知失敗後のリカバリ操作として使用する。通知状態に関わらずディスパッチする
// （TTL内の重複はディスパッチャの重複排除が畳む）。
// 戻り値は更新後のイベントと作成した配信レコード数。
func (s *ChangeService) RedispatchEvent(ctx context.Context, eventID string) (*model.CompetitorChangeEvent, int, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, 0, fmt.Errorf("変更イベントの取得に失敗: %w", err)
	}
	if event == nil {
		return nil, 0, model.NewEventNotFoundError(eventID)
	}

	created, dispatchErr := s.dispatcher.DispatchChangeEvent(ctx, event)
	if dispatchErr != nil {
		event.NotificationStatus = model.NotificationStatusFailed
		if updateErr := s.events.UpdateStatus(ctx, event); updateErr != nil {
			s.logger.Error("イベント状態の更新に失敗しました",
				slog.String("event_id", event.ID),
				slog.String("error", updateErr.Error()),
			)
		}
		return event, 0, fmt.Errorf("通知ディスパッチに失敗: %w", dispatchErr)
	}

	if err := s.events.UpdateStatus(ctx, event); err != nil {
		return nil, 0, fmt.Errorf("イベント状態の更新に失敗: %w", err)
	}

	s.logger.Info("通知を手動で再ディスパッチしました",
		slog.String("event_id", event.ID),
		slog.Int("deliveries_created", created),
	)

	return event, created, nil
}

// ListChangeEvents はフィルタ条件に一致する変更イベントを新しい順に返す。
func (s *ChangeService) ListChangeEvents(ctx context.Context, filter repository.EventListFilter) ([]*model.CompetitorChangeEvent, error) {
	events, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("変更イベント一覧の取得に失敗: %w", err)
	}
	return events, nil
}

// lastKnownEvent は(company, source_url)の直近イベントを返す。なければnil。
func (s *ChangeService) lastKnownEvent(ctx context.Context, companyID, sourceURL string) (*model.CompetitorChangeEvent, error) {
	events, err := s.events.List(ctx, repository.EventListFilter{
		CompanyID: companyID,
		SourceURL: sourceURL,
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("直近イベントの取得に失敗: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// newEvent はpending状態の変更イベントの骨格を生成する。
func (s *ChangeService) newEvent(companyID, sourceURL string, sourceType model.SourceType) *model.CompetitorChangeEvent {
	now := time.Now().UTC()
	return &model.CompetitorChangeEvent{
		ID:                 uuid.NewString(),
		CompanyID:          companyID,
		SourceURL:          sourceURL,
		SourceType:         sourceType,
		ChangedFields:      []model.FieldChange{},
		DetectedAt:         now,
		ProcessingStatus:   model.ProcessingStatusPending,
		NotificationStatus: model.NotificationStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// NormalizeSourceURL はロックキーと永続化に使うソースURLの正規化を行う。
// スキームとホストを小文字化し、フラグメントと末尾スラッシュを除去する。
// パースできないURLはトリムのみ行いそのまま返す。
func NormalizeSourceURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return trimmed
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return parsed.String()
}

// compile-time interface check
var _ PageParser = (*pricing.Parser)(nil)
