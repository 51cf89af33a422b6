package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingTable_Cost(t *testing.T) {
	table := PricingTable{Models: map[string]ModelPricing{
		"gpt-4o-mini": {InputPricePer1kTokens: 0.001, OutputPricePer1kTokens: 0.002},
	}}

	tests := []struct {
		name    string
		model   string
		usage   TokenUsage
		want    float64
		wantErr bool
	}{
		{name: "入力と出力", model: "gpt-4o-mini", usage: TokenUsage{PromptTokens: 1000, ResponseTokens: 500, TotalTokens: 1500}, want: 0.002},
		{name: "内訳なしは合計を入力扱い", model: "gpt-4o-mini", usage: TokenUsage{TotalTokens: 2000}, want: 0.002},
		{name: "使用量ゼロ", model: "gpt-4o-mini", usage: TokenUsage{}, want: 0},
		{name: "未知のモデル", model: "unknown", usage: TokenUsage{TotalTokens: 10}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Cost(tt.model, tt.usage)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}
