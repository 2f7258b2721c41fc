package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// JobStartAction はジョブを開始し、完了または停止まで待つコマンドのアクション
func JobStartAction(ctx context.Context, cmd *cli.Command) error {
	topic := cmd.String("topic")
	audience := cmd.String("audience")
	refs := cmd.StringSlice("ref-url")
	envFile := cmd.String("env")
	wait := cmd.Bool("wait")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	supervisor := appCtx.Container.Supervisor
	jobID, err := supervisor.StartJob(ctx, topic, audience, refs)
	if err != nil {
		return fmt.Errorf("ジョブの開始に失敗: %w", err)
	}
	appCtx.Logger().Info("Job started", "jobID", jobID, "topic", topic)
	fmt.Println(jobID)

	if !wait {
		return nil
	}

	if err := supervisor.WaitForJob(ctx, jobID); err != nil {
		return fmt.Errorf("ジョブの完了待機に失敗: %w", err)
	}

	job, err := supervisor.GetStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("ジョブ状態の取得に失敗: %w", err)
	}
	return printJob(job, cmd.Bool("content"))
}

// JobStatusAction はジョブの状態を表示するコマンドのアクション
func JobStatusAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, jobID, err := resolveJob(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	job, err := appCtx.Container.Supervisor.GetStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("ジョブ状態の取得に失敗: %w", err)
	}
	return printJob(job, cmd.Bool("content"))
}

// JobPauseAction はジョブを一時停止するコマンドのアクション
func JobPauseAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, jobID, err := resolveJob(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Supervisor.PauseJob(ctx, jobID); err != nil {
		return fmt.Errorf("ジョブの一時停止に失敗: %w", err)
	}
	appCtx.Logger().Info("Pause requested", "jobID", jobID)
	return nil
}

// JobResumeAction は一時停止中のジョブを再開するコマンドのアクション
func JobResumeAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, jobID, err := resolveJob(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	supervisor := appCtx.Container.Supervisor
	if err := supervisor.ResumeJob(ctx, jobID); err != nil {
		return fmt.Errorf("ジョブの再開に失敗: %w", err)
	}
	appCtx.Logger().Info("Job resumed", "jobID", jobID)

	if cmd.Bool("wait") {
		if err := supervisor.WaitForJob(ctx, jobID); err != nil {
			return fmt.Errorf("ジョブの完了待機に失敗: %w", err)
		}
		job, err := supervisor.GetStatus(ctx, jobID)
		if err != nil {
			return fmt.Errorf("ジョブ状態の取得に失敗: %w", err)
		}
		return printJob(job, cmd.Bool("content"))
	}
	return nil
}

// JobCancelAction はジョブをキャンセルするコマンドのアクション
func JobCancelAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, jobID, err := resolveJob(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Supervisor.CancelJob(ctx, jobID); err != nil {
		return fmt.Errorf("ジョブのキャンセルに失敗: %w", err)
	}
	appCtx.Logger().Info("Job cancelled", "jobID", jobID)
	return nil
}

// JobTraceAction はジョブの実行トレースを表示するコマンドのアクション
func JobTraceAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, jobID, err := resolveJob(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	events, err := appCtx.Container.Supervisor.GetTrace(ctx, jobID)
	if err != nil {
		return fmt.Errorf("トレースの取得に失敗: %w", err)
	}

	for _, ev := range events {
		fmt.Printf("%s  %-10s %-14s %-10s %s\n",
			ev.Timestamp.Format("15:04:05.000"), ev.StageName, ev.AgentName, ev.Status, ev.Detail)
	}
	return nil
}

// resolveJob は共通コンテキストを初期化し、--idフラグを解析する
func resolveJob(ctx context.Context, cmd *cli.Command) (*AppContext, uuid.UUID, error) {
	jobID, err := uuid.Parse(cmd.String("id"))
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("不正なジョブID %q: %w", cmd.String("id"), err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return nil, uuid.Nil, err
	}
	return appCtx, jobID, nil
}

// printJob はジョブをJSONで標準出力に書き出す。
// withContent=false の場合は組み立て済み本文を省略する。
func printJob(job *domain.Job, withContent bool) error {
	if !withContent {
		clone := job.Clone()
		clone.AssembledContent = ""
		job = clone
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(job); err != nil {
		return fmt.Errorf("ジョブの出力に失敗: %w", err)
	}
	return nil
}
