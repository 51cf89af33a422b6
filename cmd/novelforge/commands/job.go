package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	queueapp "github.com/jinford/novelforge/internal/module/queue/application"
	queuedomain "github.com/jinford/novelforge/internal/module/queue/domain"
)

// requestFromFlags はフラグから生成リクエストを組み立てる
func requestFromFlags(cmd *cli.Command) jobdomain.GenerationRequest {
	return jobdomain.GenerationRequest{
		Title:           cmd.String("title"),
		Premise:         cmd.String("premise"),
		Genre:           cmd.String("genre"),
		Tone:            cmd.String("tone"),
		Audience:        cmd.String("audience"),
		Language:        cmd.String("language"),
		ChapterCount:    cmd.Int("chapters"),
		WordsPerChapter: cmd.Int("words"),
		Model:           cmd.String("model"),
	}
}

// JobSubmitAction は生成ジョブをキューへ投入する
func JobSubmitAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close(ctx)

	maxAttempts := cmd.Int("max-attempts")
	if maxAttempts <= 0 {
		maxAttempts = appCtx.Config.Worker.MaxAttempts
	}

	result, err := appCtx.Container.Submitter.Submit(ctx, queueapp.SubmitInput{
		JobID:       cmd.String("id"),
		Request:     requestFromFlags(cmd),
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return fmt.Errorf("ジョブの投入に失敗: %w", err)
	}

	w := output(cmd)
	if result.Duplicate {
		fmt.Fprintf(w, "ジョブは投入済みです: %s (%s)\n", result.Job.ID, result.Job.Status)
		return nil
	}
	fmt.Fprintf(w, "ジョブを投入しました: %s\n", result.Job.ID)
	return nil
}

// JobShowAction はジョブの状態を表示する
// ワーカーが未着手のジョブはキュー上の状態を表示する
func JobShowAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close(ctx)

	return showJob(ctx, cmd, appCtx.Container.Backend.Stores().Jobs, appCtx.Container.Queue, cmd.String("id"))
}

func showJob(ctx context.Context, cmd *cli.Command, jobs jobdomain.JobReader, queue queuedomain.QueueReader, jobID string) error {
	w := output(cmd)

	job, err := jobs.Get(ctx, jobID)
	if err == nil {
		renderJob(w, job)
		return nil
	}
	if !errors.Is(err, jobdomain.ErrJobNotFound) {
		return fmt.Errorf("ジョブの取得に失敗: %w", err)
	}

	queued, err := queue.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, queuedomain.ErrQueuedJobNotFound) {
			return fmt.Errorf("ジョブが見つかりません: %s", jobID)
		}
		return fmt.Errorf("キューの取得に失敗: %w", err)
	}
	renderQueued(w, queued)
	return nil
}
