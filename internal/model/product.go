// Package model はドメインモデルを定義する。
package model

import "time"

// StockStatus は商品の在庫状態を表す。
type StockStatus string

const (
	// StockStatusInStock は在庫ありの状態。
	StockStatusInStock StockStatus = "instock"
	// StockStatusOutOfStock は在庫なしの状態。
	StockStatusOutOfStock StockStatus = "outofstock"
	// StockStatusOnBackorder は入荷待ち（取り寄せ）の状態。
	StockStatusOnBackorder StockStatus = "onbackorder"
)

// ProductStatus は商品の公開状態を表す。
type ProductStatus string

const (
	// ProductStatusPublish は公開済みの状態。
	ProductStatusPublish ProductStatus = "publish"
	// ProductStatusPrivate は非公開（限定公開）の状態。
	ProductStatusPrivate ProductStatus = "private"
	// ProductStatusDraft は下書きの状態。
	ProductStatusDraft ProductStatus = "draft"
)

// Product はカタログ上の1商品を表す。
// 価格はストア通貨建ての文字列（小数表記）で保持し、
// 変換・整形はレンダラー側でdecimalを通して行う。
type Product struct {
	ID               int64
	SKU              string
	Name             string
	ShortDescription string
	Description      string
	Permalink        string
	ImageURL         string
	Status           ProductStatus
	StockStatus      StockStatus
	Visible          bool
	RegularPrice     string
	SalePrice        string
	OnSale           bool
	Brand            string
	GTIN             string
	MPN              string
	GalleryImages    []string
	CategoryIDs      []int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Category は商品カテゴリを表す。親子関係で木構造を成す。
type Category struct {
	ID       int64
	Name     string
	ParentID int64 // 0はルートカテゴリ
}
