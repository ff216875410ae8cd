package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用した監視ソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.CompetitorSource, error) {
	return r.findOne(ctx, `WHERE id = $1`, id)
}

// FindBySourceURL はソースURLでソースを検索する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindBySourceURL(ctx context.Context, sourceURL string) (*model.CompetitorSource, error) {
	return r.findOne(ctx, `WHERE source_url = $1`, sourceURL)
}

func (r *PostgresSourceRepo) findOne(ctx context.Context, where string, arg any) (*model.CompetitorSource, error) {
	source := &model.CompetitorSource{}
	var errorMessage sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, company_id, source_url, source_type, crawl_status,
		        consecutive_errors, error_message, next_crawl_at, created_at, updated_at
		 FROM competitor_sources `+where,
		arg,
	).Scan(
		&source.ID, &source.CompanyID, &source.SourceURL, &source.SourceType,
		&source.CrawlStatus, &source.ConsecutiveErrors, &errorMessage,
		&source.NextCrawlAt, &source.CreatedAt, &source.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}

	source.ErrorMessage = nullStringValue(errorMessage)
	return source, nil
}

// Create はソースを作成する。
func (r *PostgresSourceRepo) Create(ctx context.Context, source *model.CompetitorSource) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO competitor_sources (id, company_id, source_url, source_type, crawl_status,
		                                 consecutive_errors, error_message, next_crawl_at,
		                                 created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		source.ID, source.CompanyID, source.SourceURL, source.SourceType,
		source.CrawlStatus, source.ConsecutiveErrors, nullString(source.ErrorMessage),
		source.NextCrawlAt, source.CreatedAt, source.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ソースの作成に失敗しました: %w", err)
	}
	return nil
}

// ListDueForCrawl はクロール対象のソースを取得する。
// next_crawl_at <= now() かつ crawl_status = 'active' のソースを
// FOR UPDATE SKIP LOCKEDで排他的に取得する。
func (r *PostgresSourceRepo) ListDueForCrawl(ctx context.Context) ([]*model.CompetitorSource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, company_id, source_url, source_type, crawl_status,
		        consecutive_errors, error_message, next_crawl_at, created_at, updated_at
		 FROM competitor_sources
		 WHERE next_crawl_at <= now()
		   AND crawl_status = 'active'
		 ORDER BY next_crawl_at ASC
		 FOR UPDATE SKIP LOCKED`,
	)
	if err != nil {
		return nil, fmt.Errorf("クロール対象ソースの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.CompetitorSource
	for rows.Next() {
		source := &model.CompetitorSource{}
		var errorMessage sql.NullString

		if err := rows.Scan(
			&source.ID, &source.CompanyID, &source.SourceURL, &source.SourceType,
			&source.CrawlStatus, &source.ConsecutiveErrors, &errorMessage,
			&source.NextCrawlAt, &source.CreatedAt, &source.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("クロール対象ソースの読み取りに失敗しました: %w", err)
		}

		source.ErrorMessage = nullStringValue(errorMessage)
		sources = append(sources, source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("クロール対象ソースの走査に失敗しました: %w", err)
	}

	return sources, nil
}

// UpdateCrawlState はソースのクロール状態を更新する。
func (r *PostgresSourceRepo) UpdateCrawlState(ctx context.Context, source *model.CompetitorSource) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE competitor_sources SET
		    crawl_status = $2,
		    consecutive_errors = $3,
		    error_message = $4,
		    next_crawl_at = $5,
		    updated_at = now()
		 WHERE id = $1`,
		source.ID,
		source.CrawlStatus,
		source.ConsecutiveErrors,
		nullString(source.ErrorMessage),
		source.NextCrawlAt,
	)
	if err != nil {
		return fmt.Errorf("クロール状態の更新に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)
