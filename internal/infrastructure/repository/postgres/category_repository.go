package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/docvault/internal/core/domain"
)

type CategoryRepository struct {
	db *sql.DB
}

func NewCategoryRepository(db *sql.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// SeedCategories upserts the reference list; position follows slice order.
func (r *CategoryRepository) SeedCategories(ctx context.Context, categories []domain.Category) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed categories tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, category := range categories {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO categories (name, icon, color, position)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET icon = EXCLUDED.icon, color = EXCLUDED.color, position = EXCLUDED.position
`, category.Name, category.Icon, category.Color, i); err != nil {
			return fmt.Errorf("upsert category %s: %w", category.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed categories tx: %w", err)
	}
	return nil
}

func (r *CategoryRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT name, icon, color
FROM categories
ORDER BY position ASC, name ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Category, 0)
	for rows.Next() {
		var category domain.Category
		if err := rows.Scan(&category.Name, &category.Icon, &category.Color); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}
