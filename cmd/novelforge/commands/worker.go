package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// WorkerStartAction はキューワーカーを起動し、シグナルを受けるまで処理を続ける
func WorkerStartAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close(ctx)

	if n := cmd.Int("concurrency"); n > 0 {
		appCtx.Config.Worker.Concurrency = n
	}

	workerID := cmd.String("worker-id")
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	appCtx.Logger.Info().
		Str("worker_id", workerID).
		Str("queue", appCtx.Config.Worker.Queue).
		Msg("cli: starting worker")

	if err := appCtx.Container.NewWorker(workerID).Run(ctx); err != nil {
		return fmt.Errorf("ワーカーが異常終了: %w", err)
	}
	return nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
