package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/jinford/novelforge/internal/platform/config"
	"github.com/jinford/novelforge/internal/platform/container"
	"github.com/jinford/novelforge/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Container *container.Container
}

// loadConfig は設定とロガーを初期化する
func loadConfig(envFile string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.ParseLevel(cfg.Log.Level)
	logCfg.Format = cfg.Log.Format
	logCfg.Output = os.Stderr
	return cfg, logger.New(logCfg), nil
}

// NewAppContext は設定ファイルを読み込み、DBに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, log, err := loadConfig(envFile)
	if err != nil {
		return nil, err
	}

	cont, err := container.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{Config: cfg, Logger: log, Container: cont}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close(ctx context.Context) {
	if ac.Container == nil {
		return
	}
	if err := ac.Container.Close(context.WithoutCancel(ctx)); err != nil {
		ac.Logger.Warn().Err(err).Msg("cli: failed to release resources")
	}
}

// output はコマンドの出力先を返す
func output(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
