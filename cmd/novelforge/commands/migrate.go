package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/novelforge/internal/platform/database"
)

// MigrateAction はスキーマのマイグレーションを適用する
func MigrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd.String("env"))
	if err != nil {
		return err
	}

	opts := database.DefaultOptions()
	opts.Logger = log
	opts.AutoMigrate = false
	db, err := database.New(ctx, cfg.Database.ConnString(), opts)
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db.Pool)
	if err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	w := output(cmd)
	if len(applied) == 0 {
		fmt.Fprintln(w, "適用するマイグレーションはありません")
		return nil
	}
	for _, v := range applied {
		fmt.Fprintf(w, "適用: %s\n", v)
	}
	return nil
}
