package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresSnapshotRepo はPostgreSQLを使用した価格スナップショットリポジトリ。
// プラン集合はJSONB列に格納する。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// FindLatest は(company, source_url)の直近スナップショットを取得する。
// 見つからない場合はnilを返す（初回観測）。
func (r *PostgresSnapshotRepo) FindLatest(ctx context.Context, companyID, sourceURL string) (*model.PricingSnapshot, error) {
	snapshot := &model.PricingSnapshot{}
	var plansJSON []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, company_id, source_url, plans, captured_at
		 FROM pricing_snapshots
		 WHERE company_id = $1 AND source_url = $2
		 ORDER BY captured_at DESC
		 LIMIT 1`,
		companyID, sourceURL,
	).Scan(&snapshot.ID, &snapshot.CompanyID, &snapshot.SourceURL, &plansJSON, &snapshot.CapturedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スナップショットの取得に失敗しました: %w", err)
	}

	if err := json.Unmarshal(plansJSON, &snapshot.Plans); err != nil {
		return nil, fmt.Errorf("スナップショットのプラン復元に失敗しました: %w", err)
	}

	return snapshot, nil
}

// ListRecent は(company, source_url)のスナップショットを新しい順に取得する。
func (r *PostgresSnapshotRepo) ListRecent(ctx context.Context, companyID, sourceURL string, limit int) ([]*model.PricingSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, company_id, source_url, plans, captured_at
		 FROM pricing_snapshots
		 WHERE company_id = $1 AND source_url = $2
		 ORDER BY captured_at DESC
		 LIMIT $3`,
		companyID, sourceURL, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("スナップショット一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var snapshots []*model.PricingSnapshot
	for rows.Next() {
		snapshot := &model.PricingSnapshot{}
		var plansJSON []byte

		if err := rows.Scan(&snapshot.ID, &snapshot.CompanyID, &snapshot.SourceURL, &plansJSON, &snapshot.CapturedAt); err != nil {
			return nil, fmt.Errorf("スナップショットの読み取りに失敗しました: %w", err)
		}
		if err := json.Unmarshal(plansJSON, &snapshot.Plans); err != nil {
			return nil, fmt.Errorf("スナップショットのプラン復元に失敗しました: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スナップショット一覧の走査に失敗しました: %w", err)
	}

	return snapshots, nil
}

// Create はスナップショットを作成する。
func (r *PostgresSnapshotRepo) Create(ctx context.Context, snapshot *model.PricingSnapshot) error {
	plansJSON, err := json.Marshal(snapshot.Plans)
	if err != nil {
		return fmt.Errorf("プランのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO pricing_snapshots (id, company_id, source_url, plans, captured_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		snapshot.ID, snapshot.CompanyID, snapshot.SourceURL, plansJSON, snapshot.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("スナップショットの作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SnapshotRepository = (*PostgresSnapshotRepo)(nil)
