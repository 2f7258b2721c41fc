package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/blogforge/cmd/blogforge/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
	idFlag := &cli.StringFlag{
		Name:     "id",
		Usage:    "ジョブID",
		Required: true,
	}

	app := &cli.Command{
		Name:  "blogforge",
		Usage: "マルチエージェントによるブログ記事生成パイプライン",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "HTTPサーバを起動",
				Flags: []cli.Flag{
					envFlag,
					&cli.IntFlag{
						Name:  "port",
						Usage: "HTTPポート（省略時は環境変数またはデフォルトの8080）",
					},
				},
				Action: commands.ServeAction,
			},
			{
				Name:  "job",
				Usage: "ジョブ管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "新しいジョブを開始",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "topic",
								Usage:    "記事のトピック",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "audience",
								Usage:    "想定読者層",
								Required: true,
							},
							&cli.StringSliceFlag{
								Name:  "ref-url",
								Usage: "参照URL（複数指定可）",
							},
							&cli.BoolFlag{
								Name:  "wait",
								Usage: "ジョブの完了まで待機して結果を表示",
								Value: true,
							},
							&cli.BoolFlag{
								Name:  "content",
								Usage: "組み立て済み本文も表示",
							},
						},
						Action: commands.JobStartAction,
					},
					{
						Name:  "status",
						Usage: "ジョブの状態を表示",
						Flags: []cli.Flag{
							envFlag,
							idFlag,
							&cli.BoolFlag{
								Name:  "content",
								Usage: "組み立て済み本文も表示",
							},
						},
						Action: commands.JobStatusAction,
					},
					{
						Name:  "pause",
						Usage: "ジョブを一時停止",
						Flags: []cli.Flag{
							envFlag,
							idFlag,
						},
						Action: commands.JobPauseAction,
					},
					{
						Name:  "resume",
						Usage: "一時停止中のジョブを再開",
						Flags: []cli.Flag{
							envFlag,
							idFlag,
							&cli.BoolFlag{
								Name:  "wait",
								Usage: "ジョブの完了まで待機して結果を表示",
							},
							&cli.BoolFlag{
								Name:  "content",
								Usage: "組み立て済み本文も表示",
							},
						},
						Action: commands.JobResumeAction,
					},
					{
						Name:  "cancel",
						Usage: "ジョブをキャンセル",
						Flags: []cli.Flag{
							envFlag,
							idFlag,
						},
						Action: commands.JobCancelAction,
					},
					{
						Name:  "trace",
						Usage: "ジョブの実行トレースを表示",
						Flags: []cli.Flag{
							envFlag,
							idFlag,
						},
						Action: commands.JobTraceAction,
					},
				},
			},
			{
				Name:  "profile",
				Usage: "読者層プロファイル管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "set",
						Usage: "読者層プロファイルを保存",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "audience",
								Usage:    "読者層キー",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "tone",
								Usage: "希望する文体",
							},
							&cli.StringFlag{
								Name:  "interests",
								Usage: "読者の関心事",
							},
						},
						Action: commands.ProfileSetAction,
					},
					{
						Name:  "show",
						Usage: "読者層プロファイルを表示",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "audience",
								Usage:    "読者層キー",
								Required: true,
							},
						},
						Action: commands.ProfileShowAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
