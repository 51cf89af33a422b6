package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v3"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	rtapp "github.com/jinford/novelforge/internal/module/realtime/application"
	rtdomain "github.com/jinford/novelforge/internal/module/realtime/domain"
)

// EventsListAction はジョブのイベントを新しい順に表示する
func EventsListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close(ctx)

	opts := jobdomain.ListOptions{Limit: cmd.Int("limit")}
	if s := cmd.String("before"); s != "" {
		before, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("before の形式が不正です（RFC3339）: %w", err)
		}
		opts.Before = &before
	}

	records, err := appCtx.Container.Backend.Stores().Events.List(ctx, cmd.String("id"), opts)
	if err != nil {
		return fmt.Errorf("イベントの取得に失敗: %w", err)
	}

	w := output(cmd)
	if len(records) == 0 {
		fmt.Fprintln(w, "イベントはありません")
		return nil
	}
	renderEvents(w, rtdomain.FromRecords(records))
	if len(records) == opts.Normalize().Limit {
		last := records[len(records)-1]
		fmt.Fprintf(w, "続き: --before %s\n", last.EmittedAt.Format(time.RFC3339Nano))
	}
	return nil
}

// EventsWatchAction はキャッチアップ後にライブでイベントを表示する
func EventsWatchAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close(ctx)

	hub, err := appCtx.Container.NewHub()
	if err != nil {
		return fmt.Errorf("リアルタイム購読の初期化に失敗: %w", err)
	}

	var subscriber rtapp.Subscriber
	if hub != nil {
		go func() {
			_ = hub.Run(ctx)
		}()
		subscriber = hub
	}

	feed := newPrintingFeed(output(cmd), cmd.String("id"),
		rtapp.LogFetcher{Log: appCtx.Container.Backend.Stores().Events}, subscriber,
		rtapp.WithCapacity(appCtx.Config.Realtime.CatchupLimit),
		rtapp.WithFeedLogger(appCtx.Logger))
	return feed.Run(ctx)
}

// newPrintingFeed は状態の変化と新着イベントを w に書き出す Feed を作成する
func newPrintingFeed(w io.Writer, jobID string, fetcher rtapp.Fetcher, subscriber rtapp.Subscriber, opts ...rtapp.FeedOption) *rtapp.Feed {
	base := []rtapp.FeedOption{
		rtapp.WithStateHandler(func(s rtdomain.ConnectionState) {
			if s.Message != "" {
				fmt.Fprintf(w, "[%s] %s\n", s.Status, s.Message)
				return
			}
			fmt.Fprintf(w, "[%s]\n", s.Status)
		}),
		rtapp.WithEventHandler(func(m rtdomain.Message) {
			fmt.Fprintf(w, "%s  %-10s  %s\n", m.EmittedAt.Format(timeLayout), m.Kind, summarize(m))
		}),
	}
	if subscriber == nil {
		base = append(base, rtapp.WithDisabled())
	}
	// 呼び出し元のオプションを優先する
	return rtapp.NewFeed(jobID, fetcher, subscriber, append(base, opts...)...)
}
