package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/merchantfeed/internal/model"
)

// PostgresCategoryRepo はPostgreSQLを使用したカテゴリリポジトリ。
type PostgresCategoryRepo struct {
	db *sql.DB
}

// NewPostgresCategoryRepo はPostgresCategoryRepoを生成する。
func NewPostgresCategoryRepo(db *sql.DB) *PostgresCategoryRepo {
	return &PostgresCategoryRepo{db: db}
}

// Exists は指定IDのカテゴリが全て存在するかを返す。
// 存在しないIDがあれば最初に見つかったIDを返す。
func (r *PostgresCategoryRepo) Exists(ctx context.Context, ids []int64) (bool, int64, error) {
	if len(ids) == 0 {
		return true, 0, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM categories WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return false, 0, fmt.Errorf("カテゴリの存在確認に失敗しました: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return false, 0, fmt.Errorf("カテゴリ行の読み取りに失敗しました: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return false, 0, fmt.Errorf("カテゴリの走査に失敗しました: %w", err)
	}

	for _, id := range ids {
		if !found[id] {
			return false, id, nil
		}
	}
	return true, 0, nil
}

// ListAll は全カテゴリを返す。
func (r *PostgresCategoryRepo) ListAll(ctx context.Context) ([]*model.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, parent_id FROM categories ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var categories []*model.Category
	for rows.Next() {
		c := &model.Category{}
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, fmt.Errorf("カテゴリ行の読み取りに失敗しました: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の走査に失敗しました: %w", err)
	}

	return categories, nil
}

// compile-time interface check
var _ CategoryRepository = (*PostgresCategoryRepo)(nil)
