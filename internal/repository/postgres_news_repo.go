package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresNewsRepo はPostgreSQLを使用したニュース記事リポジトリ。
type PostgresNewsRepo struct {
	db *sql.DB
}

// NewPostgresNewsRepo はPostgresNewsRepoを生成する。
func NewPostgresNewsRepo(db *sql.DB) *PostgresNewsRepo {
	return &PostgresNewsRepo{db: db}
}

const newsColumns = `id, company_id, guid_or_id, link, title, content, summary,
       sentiment, keywords, content_hash, published_at, fetched_at,
       created_at, updated_at`

// FindExisting は同一性判定の優先順で既存記事を検索する。
// 1. guid_or_id の一致
// 2. link の一致
// 3. content_hash の一致
// 空の識別子は判定に使用しない。見つからない場合はnilを返す。
func (r *PostgresNewsRepo) FindExisting(ctx context.Context, companyID, guidOrID, link, contentHash string) (*model.NewsItem, error) {
	lookups := []struct {
		column string
		value  string
	}{
		{"guid_or_id", guidOrID},
		{"link", link},
		{"content_hash", contentHash},
	}

	for _, lookup := range lookups {
		if lookup.value == "" {
			continue
		}

		row := r.db.QueryRowContext(ctx,
			`SELECT `+newsColumns+` FROM news_items
			 WHERE company_id = $1 AND `+lookup.column+` = $2
			 LIMIT 1`,
			companyID, lookup.value,
		)

		item, err := scanNewsItem(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("既存記事の検索に失敗しました: %w", err)
		}
		return item, nil
	}

	return nil, nil
}

// Create は記事を作成する。
func (r *PostgresNewsRepo) Create(ctx context.Context, item *model.NewsItem) error {
	keywordsJSON, err := json.Marshal(keywordsOrEmpty(item.Keywords))
	if err != nil {
		return fmt.Errorf("キーワードのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO news_items (id, company_id, guid_or_id, link, title, content, summary,
		                         sentiment, keywords, content_hash, published_at, fetched_at,
		                         created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		item.ID, item.CompanyID, nullString(item.GuidOrID), nullString(item.Link),
		item.Title, item.Content, item.Summary, item.Sentiment, keywordsJSON,
		nullString(item.ContentHash), item.PublishedAt, item.FetchedAt,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は記事の内容とエンリッチメント結果を更新する。
func (r *PostgresNewsRepo) Update(ctx context.Context, item *model.NewsItem) error {
	keywordsJSON, err := json.Marshal(keywordsOrEmpty(item.Keywords))
	if err != nil {
		return fmt.Errorf("キーワードのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE news_items SET
		    guid_or_id = $2,
		    link = $3,
		    title = $4,
		    content = $5,
		    summary = $6,
		    sentiment = $7,
		    keywords = $8,
		    content_hash = $9,
		    published_at = $10,
		    fetched_at = $11,
		    updated_at = now()
		 WHERE id = $1`,
		item.ID, nullString(item.GuidOrID), nullString(item.Link),
		item.Title, item.Content, item.Summary, item.Sentiment, keywordsJSON,
		nullString(item.ContentHash), item.PublishedAt, item.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	return nil
}

// keywordsOrEmpty はnilスライスを空配列としてシリアライズするための正規化。
func keywordsOrEmpty(keywords []string) []string {
	if keywords == nil {
		return []string{}
	}
	return keywords
}

// scanNewsItem は1行をニュース記事に復元する。
func scanNewsItem(row rowScanner) (*model.NewsItem, error) {
	item := &model.NewsItem{}
	var guidOrID, link, contentHash sql.NullString
	var publishedAt sql.NullTime
	var keywordsJSON []byte

	if err := row.Scan(
		&item.ID, &item.CompanyID, &guidOrID, &link, &item.Title,
		&item.Content, &item.Summary, &item.Sentiment, &keywordsJSON,
		&contentHash, &publishedAt, &item.FetchedAt, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	item.GuidOrID = nullStringValue(guidOrID)
	item.Link = nullStringValue(link)
	item.ContentHash = nullStringValue(contentHash)
	if publishedAt.Valid {
		t := publishedAt.Time
		item.PublishedAt = &t
	}
	if len(keywordsJSON) > 0 {
		if err := json.Unmarshal(keywordsJSON, &item.Keywords); err != nil {
			return nil, fmt.Errorf("キーワードの復元に失敗しました: %w", err)
		}
	}

	return item, nil
}

// compile-time interface check
var _ NewsRepository = (*PostgresNewsRepo)(nil)
