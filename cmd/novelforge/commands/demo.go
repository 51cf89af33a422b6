package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/novelforge/internal/module/engine/adapter/synthetic"
	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	queueapp "github.com/jinford/novelforge/internal/module/queue/application"
	rtapp "github.com/jinford/novelforge/internal/module/realtime/application"
	rtdomain "github.com/jinford/novelforge/internal/module/realtime/domain"
	"github.com/jinford/novelforge/internal/platform/container"
)

// demoSettle はワーカー完了後に終端イベントの到着を待つ上限
const demoSettle = 2 * time.Second

// DemoAction はデータベースを使わずに投入から完了までを1プロセスで実行する
func DemoAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd.String("env"))
	if err != nil {
		return err
	}
	cfg.Realtime.Enabled = true

	client := synthetic.NewClient()
	if n := cmd.Int("fail-chapter"); n > 0 {
		client.FailChapters = map[int]int{n: 1}
	}

	opts := []container.Option{}
	if cfg.OpenAI.APIKey == "" || !cmd.Bool("openai") {
		opts = append(opts, container.WithLLMClient(client))
	}
	cont, err := container.NewInMemory(cfg, log, opts...)
	if err != nil {
		return fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}
	defer cont.Close(context.WithoutCancel(ctx))

	hub, err := cont.NewHub()
	if err != nil {
		return fmt.Errorf("リアルタイム購読の初期化に失敗: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = hub.Run(runCtx)
	}()

	result, err := cont.Submitter.Submit(ctx, queueapp.SubmitInput{
		Request: jobdomain.GenerationRequest{
			Title:           cmd.String("title"),
			Premise:         cmd.String("premise"),
			ChapterCount:    cmd.Int("chapters"),
			WordsPerChapter: cmd.Int("words"),
		},
		MaxAttempts: 1,
	})
	if err != nil {
		return fmt.Errorf("ジョブの投入に失敗: %w", err)
	}
	jobID := result.Job.ID

	w := output(cmd)
	fmt.Fprintf(w, "ジョブを投入しました: %s\n", jobID)

	terminal := make(chan struct{})
	var once sync.Once
	feed := newPrintingFeed(w, jobID, rtapp.LogFetcher{Log: cont.Backend.Stores().Events}, hub,
		rtapp.WithFeedLogger(log),
		rtapp.WithEventHandler(func(m rtdomain.Message) {
			fmt.Fprintf(w, "%s  %-10s  %s\n", m.EmittedAt.Format(timeLayout), m.Kind, summarize(m))
			if m.Kind == jobdomain.EventKindJobStatus && m.Status.IsTerminal() {
				once.Do(func() { close(terminal) })
			}
		}))

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feed.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("cli: demo feed stopped")
		}
	}()

	// 購読が確立してからワーカーを動かす
	if err := waitConnected(ctx, feed); err != nil {
		return err
	}

	if _, err := cont.NewWorker("demo").RunOnce(ctx); err != nil {
		return fmt.Errorf("ワーカーの実行に失敗: %w", err)
	}

	select {
	case <-terminal:
	case <-time.After(demoSettle):
		log.Warn().Msg("cli: terminal event was not observed")
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()

	fmt.Fprintln(w)
	if err := showJob(ctx, cmd, cont.Backend.Stores().Jobs, cont.Queue, jobID); err != nil {
		return err
	}
	m, err := cont.Backend.Stores().Metrics.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("メトリクスの取得に失敗: %w", err)
	}
	renderMetrics(w, m)
	return nil
}

func waitConnected(ctx context.Context, feed *rtapp.Feed) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(demoSettle)
	for {
		switch feed.State().Status {
		case rtdomain.StatusConnected:
			return nil
		case rtdomain.StatusError:
			return fmt.Errorf("リアルタイム購読に失敗: %s", feed.State().Message)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errors.New("リアルタイム購読の確立がタイムアウトしました")
		case <-ticker.C:
		}
	}
}
