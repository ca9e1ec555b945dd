package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/merchantfeed/internal/model"
)

// PostgresProductRepo はPostgreSQLを使用した商品リポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

// buildFilterClauses はフィルタ条件をWHERE句と引数リストに展開する。
// 含めるカテゴリはEXISTS、除外カテゴリはNOT EXISTSでANDされる。
func buildFilterClauses(filter ProductFilter) (string, []any) {
	var clauses []string
	var args []any

	if len(filter.Statuses) > 0 {
		args = append(args, pq.Array(filter.Statuses))
		clauses = append(clauses, fmt.Sprintf("p.status = ANY($%d)", len(args)))
	}

	if len(filter.StockStatuses) > 0 {
		args = append(args, pq.Array(filter.StockStatuses))
		clauses = append(clauses, fmt.Sprintf("p.stock_status = ANY($%d)", len(args)))
	}

	if len(filter.IncludeCategories) > 0 {
		args = append(args, pq.Array(filter.IncludeCategories))
		clauses = append(clauses, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM product_categories pc
			         WHERE pc.product_id = p.id AND pc.category_id = ANY($%d))`, len(args)))
	}

	if len(filter.ExcludeCategories) > 0 {
		args = append(args, pq.Array(filter.ExcludeCategories))
		clauses = append(clauses, fmt.Sprintf(
			`NOT EXISTS (SELECT 1 FROM product_categories pc
			             WHERE pc.product_id = p.id AND pc.category_id = ANY($%d))`, len(args)))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListForFeed はフィルタ条件に一致する商品を新しい順に取得する。
// limitが0以下の場合は全件を返す。
func (r *PostgresProductRepo) ListForFeed(ctx context.Context, filter ProductFilter, limit int) ([]*model.Product, error) {
	where, args := buildFilterClauses(filter)

	query := `SELECT p.id, p.sku, p.name, p.short_description, p.description,
	                 p.permalink, p.image_url, p.status, p.stock_status, p.visible,
	                 p.regular_price, p.sale_price, p.on_sale,
	                 p.brand, p.gtin, p.mpn, p.created_at, p.updated_at
	          FROM products p` + where + `
	          ORDER BY p.created_at DESC, p.id DESC`

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("商品一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		p := &model.Product{}
		if err := rows.Scan(
			&p.ID, &p.SKU, &p.Name, &p.ShortDescription, &p.Description,
			&p.Permalink, &p.ImageURL, &p.Status, &p.StockStatus, &p.Visible,
			&p.RegularPrice, &p.SalePrice, &p.OnSale,
			&p.Brand, &p.GTIN, &p.MPN, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("商品行の読み取りに失敗しました: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("商品一覧の走査に失敗しました: %w", err)
	}

	if len(products) == 0 {
		return products, nil
	}

	if err := r.loadCategories(ctx, products); err != nil {
		return nil, err
	}
	if err := r.loadGalleryImages(ctx, products); err != nil {
		return nil, err
	}

	return products, nil
}

// loadCategories は取得済み商品のカテゴリIDを一括で読み込む。
func (r *PostgresProductRepo) loadCategories(ctx context.Context, products []*model.Product) error {
	index := make(map[int64]*model.Product, len(products))
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		index[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, category_id FROM product_categories
		 WHERE product_id = ANY($1)
		 ORDER BY product_id, category_id`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("商品カテゴリの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID, categoryID int64
		if err := rows.Scan(&productID, &categoryID); err != nil {
			return fmt.Errorf("商品カテゴリ行の読み取りに失敗しました: %w", err)
		}
		if p, ok := index[productID]; ok {
			p.CategoryIDs = append(p.CategoryIDs, categoryID)
		}
	}
	return rows.Err()
}

// loadGalleryImages は取得済み商品のギャラリー画像URLを一括で読み込む。
// 並び順はカタログの登録順（positionの昇順）。
func (r *PostgresProductRepo) loadGalleryImages(ctx context.Context, products []*model.Product) error {
	index := make(map[int64]*model.Product, len(products))
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		index[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, url FROM product_images
		 WHERE product_id = ANY($1)
		 ORDER BY product_id, position, id`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("商品画像の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID int64
		var url string
		if err := rows.Scan(&productID, &url); err != nil {
			return fmt.Errorf("商品画像行の読み取りに失敗しました: %w", err)
		}
		if p, ok := index[productID]; ok {
			p.GalleryImages = append(p.GalleryImages, url)
		}
	}
	return rows.Err()
}

// Count はフィルタ条件に一致する商品数を返す。
func (r *PostgresProductRepo) Count(ctx context.Context, filter ProductFilter) (int, error) {
	where, args := buildFilterClauses(filter)

	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products p`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("商品数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Ping はカタログへの疎通を確認する。
func (r *PostgresProductRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("カタログへの接続に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)
