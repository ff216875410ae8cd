package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SourceEntry はソースカタログの1エントリを表す。
type SourceEntry struct {
	// Company は企業名。既存企業がなければ作成される。
	Company string `yaml:"company"`
	// URL は監視対象ページのURL。
	URL string `yaml:"url"`
	// Type はソース種別（pricing_page, news_site, blog, ...）。
	Type string `yaml:"type"`
}

// SourceCatalog は監視対象ソースのYAMLカタログを表す。
// ワーカー起動時にソーステーブルへシードされる。
type SourceCatalog struct {
	Sources []SourceEntry `yaml:"sources"`
}

// LoadSourceCatalog はYAMLファイルからソースカタログを読み込む。
// pathが空の場合は空のカタログを返す。
func LoadSourceCatalog(path string) (*SourceCatalog, error) {
	if path == "" {
		return &SourceCatalog{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ソースカタログの読み込みに失敗しました: %w", err)
	}

	catalog := &SourceCatalog{}
	if err := yaml.Unmarshal(data, catalog); err != nil {
		return nil, fmt.Errorf("ソースカタログのパースに失敗しました: %w", err)
	}

	for i, entry := range catalog.Sources {
		if entry.Company == "" || entry.URL == "" {
			return nil, fmt.Errorf("ソースカタログのエントリ%dが不完全です（company, urlは必須）", i)
		}
	}

	return catalog, nil
}
