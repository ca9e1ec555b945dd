package feed

import (
	"strings"

	"github.com/hitoshi/merchantfeed/internal/model"
)

// CategoryIndex はカテゴリIDからカテゴリへの索引。
// レンダリング実行の先頭で1回構築し、以降は読み取り専用で使う。
type CategoryIndex map[int64]*model.Category

// NewCategoryIndex はカテゴリ一覧から索引を構築する。
func NewCategoryIndex(categories []*model.Category) CategoryIndex {
	index := make(CategoryIndex, len(categories))
	for _, c := range categories {
		index[c.ID] = c
	}
	return index
}

// path は葉カテゴリからルートまで遡った経路を「ルート > … > 葉」の順で返す。
// 親リンクが壊れて循環している場合は検出した時点で打ち切る。
func (idx CategoryIndex) path(leafID int64) []string {
	var names []string
	seen := make(map[int64]bool)

	for id := leafID; id != 0; {
		if seen[id] {
			break
		}
		seen[id] = true

		c, ok := idx[id]
		if !ok {
			break
		}
		names = append(names, c.Name)
		id = c.ParentID
	}

	// 葉→ルートで集めたので反転する
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

// DeepestPath は商品に割り当てられたカテゴリのうち最も深い枝の経路を
// " > " 区切りで返す。深さが同じ枝が複数ある場合は葉カテゴリ名の
// 辞書順で最初のものを選び、実行間で結果が揺れないようにする。
// カテゴリ未割り当ての場合は空文字列を返す。
func (idx CategoryIndex) DeepestPath(categoryIDs []int64) string {
	var best []string
	for _, id := range categoryIDs {
		p := idx.path(id)
		if len(p) == 0 {
			continue
		}
		if len(p) > len(best) {
			best = p
			continue
		}
		if len(p) == len(best) && p[len(p)-1] < best[len(best)-1] {
			best = p
		}
	}
	return strings.Join(best, " > ")
}
