package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresEventRepo はPostgreSQLを使用した変更イベントリポジトリ。
// changed_fieldsとraw_diffはJSONB列に格納する。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

const eventColumns = `id, company_id, source_url, source_type, change_summary,
       changed_fields, raw_diff, detected_at, processing_status,
       notification_status, error_note, created_at, updated_at`

// FindByID は指定IDの変更イベントを取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByID(ctx context.Context, id string) (*model.CompetitorChangeEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM change_events WHERE id = $1`,
		id,
	)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("変更イベントの取得に失敗しました: %w", err)
	}
	return event, nil
}

// Create は変更イベントを作成する。
func (r *PostgresEventRepo) Create(ctx context.Context, event *model.CompetitorChangeEvent) error {
	changedJSON, err := json.Marshal(event.ChangedFields)
	if err != nil {
		return fmt.Errorf("changed_fieldsのシリアライズに失敗しました: %w", err)
	}

	var rawDiffJSON []byte
	if event.RawDiff != nil {
		rawDiffJSON, err = json.Marshal(event.RawDiff)
		if err != nil {
			return fmt.Errorf("raw_diffのシリアライズに失敗しました: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO change_events (id, company_id, source_url, source_type, change_summary,
		                            changed_fields, raw_diff, detected_at, processing_status,
		                            notification_status, error_note, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		event.ID, event.CompanyID, event.SourceURL, event.SourceType, event.ChangeSummary,
		changedJSON, rawDiffJSON, event.DetectedAt, event.ProcessingStatus,
		event.NotificationStatus, nullString(event.ErrorNote), event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("変更イベントの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus はイベントの処理状態と通知状態を更新する。
// 再計算で差分内容が変わりうるため、change_summaryとchanged_fields、raw_diffも
// 併せて更新する。detected_atは不変。
func (r *PostgresEventRepo) UpdateStatus(ctx context.Context, event *model.CompetitorChangeEvent) error {
	changedJSON, err := json.Marshal(event.ChangedFields)
	if err != nil {
		return fmt.Errorf("changed_fieldsのシリアライズに失敗しました: %w", err)
	}

	var rawDiffJSON []byte
	if event.RawDiff != nil {
		rawDiffJSON, err = json.Marshal(event.RawDiff)
		if err != nil {
			return fmt.Errorf("raw_diffのシリアライズに失敗しました: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE change_events SET
		    change_summary = $2,
		    changed_fields = $3,
		    raw_diff = $4,
		    processing_status = $5,
		    notification_status = $6,
		    error_note = $7,
		    updated_at = now()
		 WHERE id = $1`,
		event.ID, event.ChangeSummary, changedJSON, rawDiffJSON,
		event.ProcessingStatus, event.NotificationStatus, nullString(event.ErrorNote),
	)
	if err != nil {
		return fmt.Errorf("変更イベントの更新に失敗しました: %w", err)
	}
	return nil
}

// List はフィルタ条件に一致する変更イベントを新しい順に取得する。
// 条件が可変のためsquirrelでクエリを構築する。
func (r *PostgresEventRepo) List(ctx context.Context, filter EventListFilter) ([]*model.CompetitorChangeEvent, error) {
	builder := sq.Select(eventColumns).
		From("change_events").
		OrderBy("detected_at DESC").
		PlaceholderFormat(sq.Dollar)

	if filter.CompanyID != "" {
		builder = builder.Where(sq.Eq{"company_id": filter.CompanyID})
	}
	if filter.SourceURL != "" {
		builder = builder.Where(sq.Eq{"source_url": filter.SourceURL})
	}
	if filter.ProcessingStatus != "" {
		builder = builder.Where(sq.Eq{"processing_status": filter.ProcessingStatus})
	}
	if filter.NotificationStatus != "" {
		builder = builder.Where(sq.Eq{"notification_status": filter.NotificationStatus})
	}
	if filter.DetectedAfter != nil {
		builder = builder.Where(sq.GtOrEq{"detected_at": *filter.DetectedAfter})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("イベント一覧クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("変更イベント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var events []*model.CompetitorChangeEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("変更イベントの読み取りに失敗しました: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("変更イベント一覧の走査に失敗しました: %w", err)
	}

	return events, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent は1行を変更イベントに復元する。
func scanEvent(row rowScanner) (*model.CompetitorChangeEvent, error) {
	event := &model.CompetitorChangeEvent{}
	var changedJSON []byte
	var rawDiffJSON []byte
	var errorNote sql.NullString

	if err := row.Scan(
		&event.ID, &event.CompanyID, &event.SourceURL, &event.SourceType,
		&event.ChangeSummary, &changedJSON, &rawDiffJSON, &event.DetectedAt,
		&event.ProcessingStatus, &event.NotificationStatus, &errorNote,
		&event.CreatedAt, &event.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(changedJSON) > 0 {
		if err := json.Unmarshal(changedJSON, &event.ChangedFields); err != nil {
			return nil, fmt.Errorf("changed_fieldsの復元に失敗しました: %w", err)
		}
	}
	if len(rawDiffJSON) > 0 {
		event.RawDiff = &model.PlanDiff{}
		if err := json.Unmarshal(rawDiffJSON, event.RawDiff); err != nil {
			return nil, fmt.Errorf("raw_diffの復元に失敗しました: %w", err)
		}
	}

	event.ErrorNote = nullStringValue(errorNote)
	return event, nil
}

// compile-time interface check
var _ ChangeEventRepository = (*PostgresEventRepo)(nil)
