package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemo(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{
			name: "全章成功",
			args: []string{"--chapters", "2"},
		},
		{
			name: "章の再試行を含む",
			args: []string{"--chapters", "3", "--fail-chapter", "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			var buf bytes.Buffer
			app := newApp()
			app.Writer = &buf

			args := append([]string{"novelforge", "demo", "--env", "testdata/missing.env", "--words", "40"}, tt.args...)
			require.NoError(t, app.Run(ctx, args))

			out := buf.String()
			assert.Contains(t, out, "ジョブを投入しました")
			assert.Contains(t, out, "[connected]")
			assert.Contains(t, out, "outline-ready")
			assert.Contains(t, out, "ステータス: completed")
			assert.Contains(t, out, "メトリクス")
		})
	}
}
