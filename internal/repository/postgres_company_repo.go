package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresCompanyRepo はPostgreSQLを使用した企業リポジトリ。
type PostgresCompanyRepo struct {
	db *sql.DB
}

// NewPostgresCompanyRepo はPostgresCompanyRepoを生成する。
func NewPostgresCompanyRepo(db *sql.DB) *PostgresCompanyRepo {
	return &PostgresCompanyRepo{db: db}
}

// FindByID は指定IDの企業を取得する。見つからない場合はnilを返す。
func (r *PostgresCompanyRepo) FindByID(ctx context.Context, id string) (*model.Company, error) {
	company := &model.Company{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM companies WHERE id = $1`,
		id,
	).Scan(&company.ID, &company.Name, &company.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("企業の取得に失敗しました: %w", err)
	}

	return company, nil
}

// FindByName は企業名で企業を検索する。見つからない場合はnilを返す。
func (r *PostgresCompanyRepo) FindByName(ctx context.Context, name string) (*model.Company, error) {
	company := &model.Company{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM companies WHERE name = $1`,
		name,
	).Scan(&company.ID, &company.Name, &company.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("企業名による企業の検索に失敗しました: %w", err)
	}

	return company, nil
}

// Create は企業を作成する。
func (r *PostgresCompanyRepo) Create(ctx context.Context, company *model.Company) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO companies (id, name, created_at) VALUES ($1, $2, $3)`,
		company.ID, company.Name, company.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("企業の作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CompanyRepository = (*PostgresCompanyRepo)(nil)
