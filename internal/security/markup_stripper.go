// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MarkupStripperService は商品説明文からHTMLマークアップを除去する。
// Merchant Centerのdescriptionはプレーンテキストのため、
// bluemondayのStrictPolicy（全タグ除去）でテキストのみを抽出し、
// 残ったHTMLエンティティをデコードする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupStripperService はHTMLマークアップ除去機能のインターフェースを定義する。
// フィードレンダリング時の商品説明の整形に使用される。
type MarkupStripperService interface {
	// Strip はHTMLマークアップを全て除去したプレーンテキストを返す。
	// タグ除去後にHTMLエンティティ（&amp;など）をデコードし、
	// 連続する空白を1つにまとめ、前後の空白を取り除く。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Strip(rawHTML string) string
}

// markupStripper はMarkupStripperServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフに除去処理を行う。
type markupStripper struct {
	policy *bluemonday.Policy
}

// NewMarkupStripper はMarkupStripperServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを一切持たないため、script等の危険なタグも
// 通常の装飾タグも全てテキストだけが残る。
func NewMarkupStripper() *markupStripper {
	return &markupStripper{
		policy: bluemonday.StrictPolicy(),
	}
}

// Strip はHTMLマークアップを全て除去したプレーンテキストを返す。
func (s *markupStripper) Strip(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}

	text := s.policy.Sanitize(rawHTML)

	// StrictPolicyはテキストをエスケープして返すためエンティティを戻す
	text = html.UnescapeString(text)

	return strings.Join(strings.Fields(text), " ")
}
