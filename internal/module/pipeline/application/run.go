package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// run はジョブ1件分の制御フロー。ステージをパイプライン順に駆動し、
// チェックポイントごとに (a) スナップショット永続化 (b) トレース出力
// (c) 一時停止要求の確認 を行う。
func (s *Supervisor) run(job *domain.Job, handle *jobHandle, version int64) {
	defer s.unregister(job.ID, handle)
	ctx := handle.runCtx

	stages := domain.Stages()
	for job.CurrentStageIndex < len(stages) {
		stage := stages[job.CurrentStageIndex]

		// ステージ入口: 状態をステージ実行中に揃えて永続化する
		if job.State != domain.StageState(stage) {
			if err := job.Transition(domain.StageState(stage)); err != nil {
				s.failJob(ctx, job, handle, &version, stage, err)
				return
			}
			v, err := s.saveWithRetry(ctx, job, version, handle)
			if err != nil {
				s.abortRun(ctx, job, handle, &version, stage, err)
				return
			}
			version = v
		}

		s.appendTrace(ctx, job.ID, stage, agentName(stage), domain.TraceStatusStarted, "")
		pausedMid, stageErr := s.executeStage(ctx, job, handle, &version, stage)
		if stageErr != nil {
			s.abortRun(ctx, job, handle, &version, stage, stageErr)
			return
		}
		if pausedMid {
			s.enterPause(ctx, job, handle, &version, stage)
			return
		}

		// ステージ完了チェックポイント
		job.CurrentStageIndex++
		job.UpdatedAt = time.Now().UTC()
		v, err := s.saveWithRetry(ctx, job, version, handle)
		if err != nil {
			s.abortRun(ctx, job, handle, &version, stage, err)
			return
		}
		version = v
		s.appendTrace(ctx, job.ID, stage, agentName(stage), domain.TraceStatusSucceeded, "")

		// 全ステージ完了後に残るのは完了遷移のみ。
		// ここで一時停止すると再開できなくなるため、完了を優先する。
		if job.CurrentStageIndex < len(stages) && s.pauseRequested(handle, job) {
			s.enterPause(ctx, job, handle, &version, stage)
			return
		}
	}

	job.PauseRequested = false
	if err := job.Transition(domain.JobStateCompleted); err != nil {
		s.failJob(ctx, job, handle, &version, domain.StageSEO, err)
		return
	}
	if _, err := s.saveWithRetry(ctx, job, version, handle); err != nil {
		s.abortRun(ctx, job, handle, &version, domain.StageSEO, err)
		return
	}
	s.logger.Info("Job completed",
		"jobID", job.ID,
		"sections", len(job.Sections),
		"failedSections", job.FailedSectionCount(),
	)
}

// executeStage は1ステージ分を実行する。
// 並列ステージの場合は pausedMid=true で途中一時停止を通知する。
func (s *Supervisor) executeStage(ctx context.Context, job *domain.Job, handle *jobHandle, version *int64, stage domain.Stage) (pausedMid bool, err error) {
	jc := domain.NewJobContext(job)

	switch stage {
	case domain.StageResearch:
		notes, rErr := s.executors.Researcher.Research(ctx, jc, job.ReferenceURLs)
		if rErr != nil {
			return false, domain.NewStageError(stage, agentName(stage), rErr)
		}
		job.ResearchNotes = notes
		return false, nil

	case domain.StageOutline:
		specs, oErr := s.executors.Outliner.Outline(ctx, jc)
		if oErr != nil {
			return false, domain.NewStageError(stage, agentName(stage), oErr)
		}
		if len(specs) == 0 {
			return false, domain.NewStageError(stage, agentName(stage), errors.New("outline produced no sections"))
		}
		job.Outline = specs
		job.InitSections()
		return false, nil

	case domain.StageDraft:
		return s.runSectionStage(ctx, job, handle, version, StagePlan{
			Stage:  stage,
			Agent:  agentName(stage),
			Active: domain.SectionStatusDrafting,
			Done:   domain.SectionStatusDrafted,
			Work: func(ctx context.Context, sec *domain.Section) (string, error) {
				return s.executors.Drafter.Draft(ctx, jc, domain.SectionSpec{
					Heading: sec.Title,
					Bullets: sec.Bullets,
				})
			},
			Assign: func(sec *domain.Section, content string) {
				sec.DraftContent = content
			},
		}, func(status domain.SectionStatus) bool {
			// 再開時、確定済み（drafted以降・failed）のセクションは再実行しない
			return status == domain.SectionStatusPending || status == domain.SectionStatusDrafting
		})

	case domain.StageEdit:
		return s.runSectionStage(ctx, job, handle, version, StagePlan{
			Stage:  stage,
			Agent:  agentName(stage),
			Active: domain.SectionStatusEditing,
			Done:   domain.SectionStatusEdited,
			Work: func(ctx context.Context, sec *domain.Section) (string, error) {
				return s.executors.Editor.Edit(ctx, jc, sec.DraftContent)
			},
			Assign: func(sec *domain.Section, content string) {
				sec.EditedContent = content
			},
		}, func(status domain.SectionStatus) bool {
			return status == domain.SectionStatusDrafted || status == domain.SectionStatusEditing
		})

	case domain.StageSEO:
		job.AssembledContent = assembleDocument(job)
		meta, mErr := s.executors.SEO.GenerateSEO(ctx, jc, job.AssembledContent)
		if mErr != nil {
			return false, domain.NewStageError(stage, agentName(stage), mErr)
		}
		job.SEO = meta
		return false, nil
	}

	return false, domain.NewStageError(stage, "supervisor", fmt.Errorf("unknown stage %q", stage))
}

// runSectionStage は並列セクションステージを実行し、
// セクション確定ごとのチェックポイントと閾値ポリシーを適用する
func (s *Supervisor) runSectionStage(ctx context.Context, job *domain.Job, handle *jobHandle, version *int64, plan StagePlan, eligible func(domain.SectionStatus) bool) (bool, error) {
	var pending []*domain.Section
	for _, sec := range job.SectionsByOrdinal() {
		if eligible(sec.Status) {
			pending = append(pending, sec)
		}
	}

	checkpoint := func(sec *domain.Section) (bool, error) {
		job.UpdatedAt = time.Now().UTC()
		v, err := s.saveWithRetry(ctx, job, *version, handle)
		if err != nil {
			return false, err
		}
		*version = v

		status := domain.TraceStatusSucceeded
		if sec.Status == domain.SectionStatusFailed {
			status = domain.TraceStatusFailed
		}
		s.appendTrace(ctx, job.ID, plan.Stage, plan.Agent, status, sec.ID)

		return s.pauseRequested(handle, job), nil
	}

	paused, err := s.scheduler.Run(ctx, pending, plan, checkpoint)
	if err != nil {
		if isStageErr := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded); isStageErr {
			return false, err
		}
		return false, domain.NewStageError(plan.Stage, plan.Agent, err)
	}
	if paused {
		return true, nil
	}

	if failed := job.FailedSectionCount(); s.scheduler.ExceedsFailureThreshold(failed, len(job.Sections)) {
		return false, domain.NewStageError(plan.Stage, plan.Agent,
			fmt.Errorf("%d of %d sections failed, exceeding the allowed failure ratio", failed, len(job.Sections)))
	}
	return false, nil
}

// abortRun はステージ実行失敗時の後始末を行う。
// キャンセル起因なら cancelled、それ以外は failed として確定する。
func (s *Supervisor) abortRun(ctx context.Context, job *domain.Job, handle *jobHandle, version *int64, stage domain.Stage, err error) {
	if errors.Is(err, errSuperseded) {
		// 並行する制御操作が既に終端状態を書き込んでいる
		s.logger.Info("Run superseded by concurrent control operation", "jobID", job.ID)
		return
	}
	if handle.cancelled.Load() || errors.Is(err, context.Canceled) {
		s.finalizeCancel(job, handle, version, stage)
		return
	}
	s.failJob(ctx, job, handle, version, stage, err)
}

// failJob はジョブを failed として確定し、エラーを含む最終スナップショットを永続化する
func (s *Supervisor) failJob(ctx context.Context, job *domain.Job, handle *jobHandle, version *int64, stage domain.Stage, cause error) {
	job.FailureReason = cause.Error()
	if err := job.Transition(domain.JobStateFailed); err != nil {
		s.logger.Error("Failed to mark job as failed", "jobID", job.ID, "error", err)
		return
	}
	if v, err := s.saveWithRetry(ctx, job, *version, handle); err != nil {
		if !errors.Is(err, errSuperseded) {
			s.logger.Error("Failed to persist failure snapshot", "jobID", job.ID, "error", err)
		}
	} else {
		*version = v
	}
	s.appendTrace(ctx, job.ID, stage, agentName(stage), domain.TraceStatusFailed, cause.Error())
	s.logger.Warn("Job failed", "jobID", job.ID, "stage", stage, "error", cause)
}

// finalizeCancel は実行ループ側からキャンセルを確定する。
// キャンセルされたctxでは永続化できないため background を使う。
func (s *Supervisor) finalizeCancel(job *domain.Job, handle *jobHandle, version *int64, stage domain.Stage) {
	ctx := context.Background()
	markInFlightSectionsFailed(job, "cancelled before completion")
	if err := job.Transition(domain.JobStateCancelled); err != nil {
		s.logger.Error("Failed to mark job as cancelled", "jobID", job.ID, "error", err)
		return
	}
	if v, err := s.saveWithRetry(ctx, job, *version, handle); err != nil {
		if !errors.Is(err, errSuperseded) {
			s.logger.Error("Failed to persist cancellation snapshot", "jobID", job.ID, "error", err)
		}
		return
	} else {
		*version = v
	}
	s.appendTrace(ctx, job.ID, stage, "supervisor", domain.TraceStatusFailed, "cancelled")
	s.logger.Info("Job cancelled", "jobID", job.ID)
}

// enterPause はチェックポイントで検出した一時停止要求を確定する
func (s *Supervisor) enterPause(ctx context.Context, job *domain.Job, handle *jobHandle, version *int64, stage domain.Stage) {
	job.PauseRequested = true
	if err := job.Transition(domain.JobStatePaused); err != nil {
		s.logger.Error("Failed to mark job as paused", "jobID", job.ID, "error", err)
		return
	}
	v, err := s.saveWithRetry(ctx, job, *version, handle)
	if err != nil {
		if !errors.Is(err, errSuperseded) {
			s.logger.Error("Failed to persist pause snapshot", "jobID", job.ID, "error", err)
		}
		return
	}
	*version = v
	s.appendTrace(ctx, job.ID, stage, "supervisor", domain.TraceStatusPaused, "")
	s.logger.Info("Job paused", "jobID", job.ID, "stage", stage)
}

// pauseRequested はランタイムフラグと永続フラグのどちらかが立っているかを返す
func (s *Supervisor) pauseRequested(handle *jobHandle, job *domain.Job) bool {
	return handle.pause.Load() || job.PauseRequested
}

// saveWithRetry は楽観的バージョンでスナップショットを保存する。
// バージョン競合時は1回だけ再読込して再試行し、並行して永続化された
// 一時停止要求を取り込む。再競合はエラーとして呼び出し側へ伝える。
func (s *Supervisor) saveWithRetry(ctx context.Context, job *domain.Job, version int64, handle *jobHandle) (int64, error) {
	v, err := s.store.Save(ctx, job, version)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, domain.ErrVersionConflict) {
		return 0, fmt.Errorf("checkpoint save failed: %w", err)
	}

	snap, loadErr := s.store.Load(ctx, job.ID)
	if loadErr != nil {
		return 0, fmt.Errorf("checkpoint reload after conflict failed: %w", loadErr)
	}
	if snap.Job.State.IsTerminal() {
		return 0, errSuperseded
	}
	// 終端状態の書き込み中に一時停止要求を取り込んでも意味がない
	if snap.Job.PauseRequested && !job.State.IsTerminal() {
		job.PauseRequested = true
		handle.pause.Store(true)
	}

	v, err = s.store.Save(ctx, job, snap.Version)
	if err != nil {
		return 0, fmt.Errorf("checkpoint save failed after reload: %w", err)
	}
	return v, nil
}

// appendTrace はトレースイベントを追記する。シンク障害でジョブを
// 巻き込まないよう、失敗はログに残すだけに留める。
func (s *Supervisor) appendTrace(ctx context.Context, jobID uuid.UUID, stage domain.Stage, agent string, status domain.TraceStatus, detail string) {
	event := domain.TraceEvent{
		JobID:     jobID,
		StageName: string(stage),
		AgentName: agent,
		Status:    status,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	if err := s.sink.Append(ctx, event); err != nil {
		s.logger.Warn("Failed to append trace event",
			"jobID", jobID,
			"stage", stage,
			"status", status,
			"error", err,
		)
	}
}

// markInFlightSectionsFailed は実行途中のままのセクションを失敗扱いにする
func markInFlightSectionsFailed(job *domain.Job, reason string) {
	for _, sec := range job.Sections {
		if sec.Status == domain.SectionStatusDrafting || sec.Status == domain.SectionStatusEditing {
			sec.Status = domain.SectionStatusFailed
			sec.Error = reason
		}
	}
}

// assembleDocument はordinal昇順でセクション本文を組み立てる。
// 失敗したセクションはスキップする（閾値ポリシーで許容された場合のみ到達する）。
func assembleDocument(job *domain.Job) string {
	var parts []string
	for _, sec := range job.SectionsByOrdinal() {
		if sec.Status == domain.SectionStatusFailed {
			continue
		}
		content := sec.Content()
		if content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", sec.Title, content))
	}
	return strings.Join(parts, "\n\n")
}
