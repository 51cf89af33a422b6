package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
)

// MetricsShowAction はジョブのメトリクスを表示する
func MetricsShowAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close(ctx)

	m, err := appCtx.Container.Backend.Stores().Metrics.Get(ctx, cmd.String("id"))
	if err != nil {
		return fmt.Errorf("メトリクスの取得に失敗: %w", err)
	}
	renderMetrics(output(cmd), m)
	return nil
}

// MetricsResetAction はジョブのメトリクスをゼロに戻す
func MetricsResetAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close(ctx)

	jobID := cmd.String("id")
	if err := resetMetrics(ctx, appCtx.Container.Backend.Stores().Metrics, jobID); err != nil {
		return err
	}
	fmt.Fprintf(output(cmd), "メトリクスをリセットしました: %s\n", jobID)
	return nil
}

func resetMetrics(ctx context.Context, metrics jobdomain.MetricsWriter, jobID string) error {
	if err := metrics.Reset(ctx, jobID); err != nil {
		return fmt.Errorf("メトリクスのリセットに失敗: %w", err)
	}
	return nil
}
