package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("REALTIME_CHANNEL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 15*time.Minute, cfg.Worker.Lease)
	assert.Equal(t, "novel_job_events", cfg.Realtime.Channel)
	assert.Equal(t, 50, cfg.Realtime.CatchupLimit)
	assert.Contains(t, cfg.Database.ConnString(), "dbname=novelforge")
}

func TestLoad_EnvFile(t *testing.T) {
	// godotenv は既存の環境変数を上書きしないため、対象キーは空にしておく
	for _, key := range []string{"WORKER_CONCURRENCY", "WORKER_POLL_INTERVAL", "REALTIME_ENABLED", "DATABASE_URL", "LOG_FORMAT"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	path := filepath.Join(t.TempDir(), ".env")
	content := "WORKER_CONCURRENCY=8\nWORKER_POLL_INTERVAL=500ms\nREALTIME_ENABLED=false\nDATABASE_URL=postgres://u:p@db:5432/nf\nLOG_FORMAT=console\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.PollInterval)
	assert.False(t, cfg.Realtime.Enabled)
	assert.Equal(t, "postgres://u:p@db:5432/nf", cfg.Database.ConnString())
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Worker:   WorkerConfig{Concurrency: 1, MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute},
			Realtime: RealtimeConfig{Enabled: true, Channel: "events"},
			Log:      LogConfig{Format: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "正常", mutate: func(c *Config) {}, wantErr: false},
		{name: "並列数ゼロ", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, wantErr: true},
		{name: "試行回数ゼロ", mutate: func(c *Config) { c.Worker.MaxAttempts = 0 }, wantErr: true},
		{name: "バックオフの上下限が逆転", mutate: func(c *Config) { c.Worker.BaseBackoff = time.Hour }, wantErr: true},
		{name: "チャネル名なし", mutate: func(c *Config) { c.Realtime.Channel = " " }, wantErr: true},
		{name: "リアルタイム無効ならチャネル名不要", mutate: func(c *Config) { c.Realtime = RealtimeConfig{} }, wantErr: false},
		{name: "不明なログ形式", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
