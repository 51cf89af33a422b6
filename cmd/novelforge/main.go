package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/novelforge/cmd/novelforge/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		os.Exit(1)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func jobIDFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "id",
		Usage:    "ジョブID",
		Required: true,
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "novelforge",
		Usage: "小説生成ジョブのワーカーとリアルタイム配信",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "データベースのマイグレーションを適用",
				Flags:  []cli.Flag{envFlag()},
				Action: commands.MigrateAction,
			},
			{
				Name:  "worker",
				Usage: "生成ワーカーコマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "キューワーカーを起動",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "worker-id",
								Usage: "ワーカーID（省略時はホスト名とPID）",
							},
							&cli.IntFlag{
								Name:  "concurrency",
								Usage: "同時処理数（省略時は WORKER_CONCURRENCY）",
							},
						},
						Action: commands.WorkerStartAction,
					},
				},
			},
			{
				Name:  "gateway",
				Usage: "リアルタイムゲートウェイコマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTP/WebSocket ゲートウェイを起動",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "port",
								Usage: "待ち受けポート（省略時は GATEWAY_PORT）",
							},
						},
						Action: commands.GatewayStartAction,
					},
				},
			},
			{
				Name:  "job",
				Usage: "ジョブ管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "submit",
						Usage: "生成ジョブを投入",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{Name: "title", Usage: "タイトル", Required: true},
							&cli.StringFlag{Name: "premise", Usage: "あらすじ", Required: true},
							&cli.StringFlag{Name: "genre", Usage: "ジャンル"},
							&cli.StringFlag{Name: "tone", Usage: "トーン"},
							&cli.StringFlag{Name: "audience", Usage: "想定読者"},
							&cli.StringFlag{Name: "language", Usage: "言語"},
							&cli.IntFlag{Name: "chapters", Usage: "章数", Value: 3},
							&cli.IntFlag{Name: "words", Usage: "1章あたりの語数"},
							&cli.StringFlag{Name: "model", Usage: "使用するモデル"},
							&cli.StringFlag{Name: "id", Usage: "ジョブID（省略時は採番）"},
							&cli.IntFlag{Name: "max-attempts", Usage: "最大試行回数（省略時は WORKER_MAX_ATTEMPTS）"},
						},
						Action: commands.JobSubmitAction,
					},
					{
						Name:   "show",
						Usage:  "ジョブの状態を表示",
						Flags:  []cli.Flag{envFlag(), jobIDFlag()},
						Action: commands.JobShowAction,
					},
				},
			},
			{
				Name:  "events",
				Usage: "イベントログコマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "イベントを新しい順に表示",
						Flags: []cli.Flag{
							envFlag(),
							jobIDFlag(),
							&cli.IntFlag{Name: "limit", Usage: "表示件数", Value: 50},
							&cli.StringFlag{Name: "before", Usage: "この時刻より前のイベントに限る（RFC3339）"},
						},
						Action: commands.EventsListAction,
					},
					{
						Name:   "watch",
						Usage:  "イベントをライブで表示",
						Flags:  []cli.Flag{envFlag(), jobIDFlag()},
						Action: commands.EventsWatchAction,
					},
				},
			},
			{
				Name:  "metrics",
				Usage: "メトリクスコマンド",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "ジョブのメトリクスを表示",
						Flags:  []cli.Flag{envFlag(), jobIDFlag()},
						Action: commands.MetricsShowAction,
					},
					{
						Name:   "reset",
						Usage:  "ジョブのメトリクスをリセット",
						Flags:  []cli.Flag{envFlag(), jobIDFlag()},
						Action: commands.MetricsResetAction,
					},
				},
			},
			{
				Name:  "demo",
				Usage: "データベースなしで投入から完了までを実行",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{Name: "title", Usage: "タイトル", Value: "The Lantern Keeper"},
					&cli.StringFlag{Name: "premise", Usage: "あらすじ", Value: "A keeper of lanterns remembers a town that forgot itself."},
					&cli.IntFlag{Name: "chapters", Usage: "章数", Value: 3},
					&cli.IntFlag{Name: "words", Usage: "1章あたりの語数", Value: 200},
					&cli.IntFlag{Name: "fail-chapter", Usage: "初回の試行を失敗させる章番号"},
					&cli.BoolFlag{Name: "openai", Usage: "OPENAI_API_KEY があれば OpenAI を使用"},
				},
				Action: commands.DemoAction,
			},
		},
	}
}
