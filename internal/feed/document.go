// Package feed はGoogle Merchant Center向け商品フィードのレンダリングを提供する。
//
// 出力はRSS 2.0形式で、商品属性はGoogleの商品データ名前空間
// （xmlns:g="http://base.google.com/ns/1.0"）のタグで表現する。
package feed

import "encoding/xml"

// GoogleNamespace はGoogle商品データ名前空間のURI。
const GoogleNamespace = "http://base.google.com/ns/1.0"

// Document はフィード全体（RSSルート要素）を表す。
// 構造体のフィールド順がそのまま出力順になるため、
// 同一入力に対してバイト単位で同一の出力が得られる。
type Document struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	XmlnsG  string   `xml:"xmlns:g,attr"`
	Channel Channel  `xml:"channel"`
}

// Channel はフィードのチャンネルメタデータと商品アイテム列を表す。
type Channel struct {
	Title         string `xml:"title"`
	Link          string `xml:"link"`
	Description   string `xml:"description"`
	Language      string `xml:"language,omitempty"`
	LastBuildDate string `xml:"lastBuildDate"`
	Generator     string `xml:"generator"`
	Items         []Item `xml:"item"`
}

// Item は1商品をGoogle Merchantの属性セットで表す。
// 空のオプション属性はタグごと省略される。
type Item struct {
	ID                   string   `xml:"g:id"`
	Title                string   `xml:"g:title"`
	Description          string   `xml:"g:description"`
	Link                 string   `xml:"g:link"`
	ImageLink            string   `xml:"g:image_link"`
	AdditionalImageLinks []string `xml:"g:additional_image_link,omitempty"`
	Availability         string   `xml:"g:availability"`
	Price                string   `xml:"g:price"`
	SalePrice            string   `xml:"g:sale_price,omitempty"`
	Condition            string   `xml:"g:condition"`
	Brand                string   `xml:"g:brand,omitempty"`
	GTIN                 string   `xml:"g:gtin,omitempty"`
	MPN                  string   `xml:"g:mpn,omitempty"`
	ProductType          string   `xml:"g:product_type,omitempty"`
}

// Encode はドキュメントをXML宣言付きのUTF-8バイト列に変換する。
func (d *Document) Encode() ([]byte, error) {
	body, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}
