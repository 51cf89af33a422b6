package openai

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jinford/novelforge/internal/module/engine/domain"
)

// DefaultPricingPath は価格設定ファイルの既定パスです（作業ディレクトリからの相対）
var DefaultPricingPath = filepath.Join("config", "llm_pricing.yaml")

// LoadPricing は価格設定ファイルを読み込む
func LoadPricing(path string) (domain.PricingTable, error) {
	if path == "" {
		path = DefaultPricingPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PricingTable{}, fmt.Errorf("failed to read pricing config: %w", err)
	}
	return ParsePricing(data)
}

// ParsePricing はYAMLから価格表を作成する
func ParsePricing(data []byte) (domain.PricingTable, error) {
	var table domain.PricingTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return domain.PricingTable{}, fmt.Errorf("failed to parse pricing config: %w", err)
	}
	if len(table.Models) == 0 {
		return domain.PricingTable{}, fmt.Errorf("pricing config has no models")
	}
	return table, nil
}
