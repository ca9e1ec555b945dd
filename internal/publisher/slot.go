// Package publisher はフィード成果物の保存と配信URLの組み立てを提供する。
package publisher

import (
	"fmt"
	"strings"
)

// TestFeedFilename はテスト生成専用スロットのファイル名。
const TestFeedFilename = "test-feed.xml"

// Slot は1つのフィード成果物（通貨×言語の組）を識別する。
type Slot struct {
	Currency string // 空の場合はストア通貨（デフォルトスロット）
	Language string
}

// Filename はスロットに対応する決定的なファイル名を返す。
// デフォルト通貨のスロットはサフィックスなしの "product-feed.xml"、
// それ以外は "product-feed-<cur>[-<lang>].xml"（すべて小文字）。
func (s Slot) Filename() string {
	name := "product-feed"
	if s.Currency != "" {
		name += "-" + strings.ToLower(s.Currency)
	}
	if s.Language != "" {
		name += "-" + strings.ToLower(s.Language)
	}
	return name + ".xml"
}

// FeedURL は配信URLを組み立てる。
// 形式: <base>/feed/<key>/<filename>
func FeedURL(baseURL, key, filename string) string {
	return fmt.Sprintf("%s/feed/%s/%s", strings.TrimRight(baseURL, "/"), key, filename)
}
