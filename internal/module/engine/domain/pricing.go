package domain

import (
	"fmt"
)

// ModelPricing はモデルごとの価格情報
type ModelPricing struct {
	InputPricePer1kTokens  float64 `yaml:"input_price_per_1k_tokens"`
	OutputPricePer1kTokens float64 `yaml:"output_price_per_1k_tokens"`
	Provider               string  `yaml:"provider"`
	Description            string  `yaml:"description"`
}

// PricingTable はモデル別の価格表です
type PricingTable struct {
	Models       map[string]ModelPricing `yaml:"models"`
	DefaultModel string                  `yaml:"default_model"`
}

// Cost はトークン使用量からコスト（USD）を計算する
// PromptTokens/ResponseTokens の内訳がない場合は TotalTokens を入力として扱います
func (t PricingTable) Cost(model string, usage TokenUsage) (float64, error) {
	pricing, ok := t.Models[model]
	if !ok {
		return 0, fmt.Errorf("pricing not found for model: %s", model)
	}

	prompt, response := usage.PromptTokens, usage.ResponseTokens
	if prompt == 0 && response == 0 {
		prompt = usage.TotalTokens
	}

	inputCost := float64(prompt) / 1000.0 * pricing.InputPricePer1kTokens
	outputCost := float64(response) / 1000.0 * pricing.OutputPricePer1kTokens
	return inputCost + outputCost, nil
}
