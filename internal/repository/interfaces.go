// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/merchantfeed/internal/model"
)

// ProductFilter は商品取得時のSQLプッシュダウン条件。
// ステータス・在庫・カテゴリの絞り込みはDB側で行い、
// 行単位の適格性判定（画像・価格など）はselector側で行う。
type ProductFilter struct {
	Statuses          []string
	StockStatuses     []string
	IncludeCategories []int64
	ExcludeCategories []int64
}

// ProductRepository は商品カタログの読み取りインターフェース。
type ProductRepository interface {
	// ListForFeed はフィルタ条件に一致する商品を新しい順に取得する。
	// limitが0以下の場合は全件を返す。カテゴリとギャラリー画像も合わせて読み込む。
	// カテゴリ条件で複数カテゴリに属する商品が重複しないことを保証する。
	ListForFeed(ctx context.Context, filter ProductFilter, limit int) ([]*model.Product, error)

	// Count はフィルタ条件に一致する商品数を返す。ステータスAPI用。
	Count(ctx context.Context, filter ProductFilter) (int, error)

	// Ping はカタログへの疎通を確認する。スケジュール実行前のスキップ判定に使う。
	Ping(ctx context.Context) error
}

// CategoryRepository は商品カテゴリの読み取りインターフェース。
type CategoryRepository interface {
	// Exists は指定IDのカテゴリが全て存在するかを返す。
	// 存在しないIDがあれば最初に見つかったIDを返す。
	Exists(ctx context.Context, ids []int64) (bool, int64, error)

	// ListAll は全カテゴリを返す。親子関係の解決はレンダラー側で行う。
	ListAll(ctx context.Context) ([]*model.Category, error)
}

// ScheduleRepository はフィード生成スケジュール状態の永続化インターフェース。
// 状態の更新はスケジュールコントローラーのみが行う。
type ScheduleRepository interface {
	// Get はスケジュール状態を取得する。
	// 行が存在しない場合はmodel.ErrScheduleNotFoundを返す。
	Get(ctx context.Context) (*model.ScheduleState, error)

	// Update はスケジュール状態を保存する。
	Update(ctx context.Context, state *model.ScheduleState) error
}

// SettingsRepository はフィード設定（配信キーなど）の永続化インターフェース。
type SettingsRepository interface {
	// GetValue は指定キーの設定値を取得する。未設定の場合は空文字列を返す。
	GetValue(ctx context.Context, key string) (string, error)

	// SetValue は設定値を冪等にUPSERTする。
	SetValue(ctx context.Context, key, value string) error
}

// 設定キー
const (
	// SettingFeedKey は配信URLに埋め込むフィードキーの設定キー。
	SettingFeedKey = "feed_key"
	// SettingLastProductCount は直近の生成で出力した商品数の設定キー。
	SettingLastProductCount = "last_product_count"
)
