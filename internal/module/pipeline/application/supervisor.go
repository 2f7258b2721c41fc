package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// agentName はステージに対応するエージェント名を返す
func agentName(stage domain.Stage) string {
	switch stage {
	case domain.StageResearch:
		return "research-agent"
	case domain.StageOutline:
		return "outline-agent"
	case domain.StageDraft:
		return "draft-agent"
	case domain.StageEdit:
		return "editor-agent"
	case domain.StageSEO:
		return "seo-agent"
	}
	return "supervisor"
}

// errSuperseded は並行する制御操作が先に終端状態を永続化していた場合の内部エラー。
// 実行ループはこのエラーを受けたら一切書き込まずに停止する。
var errSuperseded = errors.New("job state superseded by a concurrent writer")

// Config はスーパーバイザの設定
type Config struct {
	// Workers は並列セクションワーカー数の上限 W
	Workers int

	// SectionFailureRatio は並列ステージで許容する失敗セクションの割合。
	// 0 は「1つでも失敗したらステージ失敗」。
	SectionFailureRatio float64

	// CancelGrace はキャンセル時に未応答ワーカーを失敗扱いにするまでの猶予
	CancelGrace time.Duration
}

// DefaultConfig はデフォルトのスーパーバイザ設定を返す
func DefaultConfig() Config {
	return Config{
		Workers:             4,
		SectionFailureRatio: 0,
		CancelGrace:         5 * time.Second,
	}
}

// Executors はパイプラインの各ステージ実行器を束ねる
type Executors struct {
	Researcher domain.Researcher
	Outliner   domain.Outliner
	Drafter    domain.SectionDrafter
	Editor     domain.SectionEditor
	SEO        domain.SEOGenerator
}

// jobHandle は実行中ジョブのランタイム状態。
// 一時停止・キャンセルのシグナルはチェックポイントでのみ参照される。
type jobHandle struct {
	pause     atomic.Bool
	cancelled atomic.Bool
	runCtx    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Supervisor はジョブの状態機械を所有し、ステージ実行器を順に駆動する。
// ジョブごとに1つの制御フロー（goroutine）が走り、複数ジョブは
// スナップショットストアとトレースシンク以外の可変状態を共有しない。
type Supervisor struct {
	store     domain.SnapshotStore
	sink      domain.TraceSink
	executors Executors
	scheduler *SectionScheduler
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]*jobHandle
}

// NewSupervisor は新しいSupervisorを作成する
func NewSupervisor(store domain.SnapshotStore, sink domain.TraceSink, executors Executors, cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 5 * time.Second
	}
	return &Supervisor{
		store:     store,
		sink:      sink,
		executors: executors,
		scheduler: NewSectionScheduler(SchedulerConfig{
			Workers:      cfg.Workers,
			FailureRatio: cfg.SectionFailureRatio,
			CancelGrace:  cfg.CancelGrace,
		}, logger),
		cfg:     cfg,
		logger:  logger,
		running: make(map[uuid.UUID]*jobHandle),
	}
}

// StartJob はジョブを作成し、初期スナップショットを永続化してから
// 非同期にパイプライン実行を開始する。生成したジョブIDを即座に返し、
// 最終成果物は GetStatus で取得する。
func (s *Supervisor) StartJob(ctx context.Context, topic, audience string, referenceURLs []string) (uuid.UUID, error) {
	job, err := domain.NewJob(topic, audience, referenceURLs)
	if err != nil {
		return uuid.Nil, err
	}

	version, err := s.store.Save(ctx, job, 0)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to persist initial snapshot: %w", err)
	}

	handle := s.register(job.ID)
	s.logger.Info("Job started",
		"jobID", job.ID,
		"topic", topic,
		"audience", audience,
		"referenceURLs", len(referenceURLs),
	)
	go s.run(job, handle, version)

	return job.ID, nil
}

// PauseJob は一時停止を要求する。ノンブロッキングで、次のチェックポイントで
// 効果が現れる。既に一時停止中・終端状態の場合は何もしない（エラーにしない）。
func (s *Supervisor) PauseJob(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	handle := s.running[jobID]
	s.mu.Unlock()

	if handle != nil {
		handle.pause.Store(true)
	}

	snap, err := s.store.Load(ctx, jobID)
	if err != nil {
		return err
	}
	if snap.Job.State == domain.JobStatePaused || snap.Job.State.IsTerminal() {
		return nil
	}

	// 永続状態にも記録し、プロセス内のフラグと合わせて二重に伝える。
	// 実行ループ側のチェックポイント書き込みと競合した場合、
	// 負けた側が再読込でこのフラグを取り込む（saveWithRetry参照）。
	job := snap.Job
	job.PauseRequested = true
	job.UpdatedAt = time.Now().UTC()
	if _, err := s.store.Save(ctx, job, snap.Version); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) && handle != nil {
			// 実行ループが先に書き込んだ。ランタイムフラグで十分伝わる。
			return nil
		}
		return fmt.Errorf("failed to persist pause request: %w", err)
	}
	s.logger.Info("Pause requested", "jobID", jobID)
	return nil
}

// ResumeJob は一時停止中のジョブを再開する。
// スナップショットが存在しない場合は ErrNotFound、
// 一時停止中でない場合は ErrInvalidState を返す。
func (s *Supervisor) ResumeJob(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	_, isRunning := s.running[jobID]
	s.mu.Unlock()
	if isRunning {
		return fmt.Errorf("job %s is running: %w", jobID, domain.ErrInvalidState)
	}

	snap, err := s.store.Load(ctx, jobID)
	if err != nil {
		return err
	}
	job := snap.Job
	if job.State != domain.JobStatePaused {
		return fmt.Errorf("job %s is %s: %w", jobID, job.State, domain.ErrInvalidState)
	}

	stages := domain.Stages()
	if job.CurrentStageIndex >= len(stages) {
		return fmt.Errorf("job %s has no remaining stage: %w", jobID, domain.ErrInvalidState)
	}
	stage := stages[job.CurrentStageIndex]

	job.PauseRequested = false
	if err := job.Transition(domain.StageState(stage)); err != nil {
		return err
	}
	version, err := s.store.Save(ctx, job, snap.Version)
	if err != nil {
		return fmt.Errorf("failed to persist resume: %w", err)
	}
	s.appendTrace(ctx, job.ID, stage, "supervisor", domain.TraceStatusResumed, "")
	s.logger.Info("Job resumed", "jobID", jobID, "stage", stage)

	handle := s.register(job.ID)
	go s.run(job, handle, version)
	return nil
}

// CancelJob は協調的キャンセルを要求し、実行中のワーカーが確定するか
// 猶予時間が経過するまで待ってからジョブを cancelled にする。
// 終端状態のジョブに対しては何もしない。
func (s *Supervisor) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	snap, err := s.store.Load(ctx, jobID)
	if err != nil {
		return err
	}
	if snap.Job.State.IsTerminal() {
		return nil
	}

	s.mu.Lock()
	handle := s.running[jobID]
	s.mu.Unlock()

	if handle != nil {
		handle.cancelled.Store(true)
		handle.cancel()

		// 実行ループ自身が cancelled を永続化するのを待つ。
		// 猶予を超えた場合はこちらで強制的に確定させる。
		select {
		case <-handle.done:
			return nil
		case <-time.After(s.cfg.CancelGrace + time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return s.forceCancel(ctx, jobID)
}

// forceCancel は実行ループを介さずにキャンセル状態を永続化する
func (s *Supervisor) forceCancel(ctx context.Context, jobID uuid.UUID) error {
	for attempt := 0; attempt < 2; attempt++ {
		snap, err := s.store.Load(ctx, jobID)
		if err != nil {
			return err
		}
		job := snap.Job
		if job.State.IsTerminal() {
			return nil
		}
		markInFlightSectionsFailed(job, "cancelled before completion")
		if err := job.Transition(domain.JobStateCancelled); err != nil {
			return err
		}
		if _, err := s.store.Save(ctx, job, snap.Version); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				continue
			}
			return fmt.Errorf("failed to persist cancellation: %w", err)
		}
		s.appendTrace(ctx, jobID, s.currentStage(job), "supervisor", domain.TraceStatusFailed, "cancelled")
		s.logger.Info("Job cancelled", "jobID", jobID)
		return nil
	}
	return fmt.Errorf("failed to persist cancellation: %w", domain.ErrVersionConflict)
}

// GetStatus はジョブの読み取り専用ビューを返す。
// 未知のジョブIDの場合は ErrNotFound を返す。
func (s *Supervisor) GetStatus(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	snap, err := s.store.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return snap.Job, nil
}

// GetTrace はジョブの実行トレースを追記順で返す
func (s *Supervisor) GetTrace(ctx context.Context, jobID uuid.UUID) ([]domain.TraceEvent, error) {
	if _, err := s.store.Load(ctx, jobID); err != nil {
		return nil, err
	}
	return s.sink.Query(ctx, jobID)
}

// WaitForJob はジョブの制御フローが終了する（終端状態または一時停止で停止する）まで待つ。
// 実行中でないジョブに対しては即座に戻る。
func (s *Supervisor) WaitForJob(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	handle := s.running[jobID]
	s.mu.Unlock()
	if handle == nil {
		return nil
	}
	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown は全ジョブの制御フローが停止するまで待つ
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]*jobHandle, 0, len(s.running))
	for _, h := range s.running {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Supervisor) register(jobID uuid.UUID) *jobHandle {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &jobHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	handle.runCtx = ctx
	s.mu.Lock()
	s.running[jobID] = handle
	s.mu.Unlock()
	return handle
}

func (s *Supervisor) unregister(jobID uuid.UUID, handle *jobHandle) {
	s.mu.Lock()
	delete(s.running, jobID)
	s.mu.Unlock()
	handle.cancel()
	close(handle.done)
}

func (s *Supervisor) currentStage(job *domain.Job) domain.Stage {
	stages := domain.Stages()
	if job.CurrentStageIndex < len(stages) {
		return stages[job.CurrentStageIndex]
	}
	return domain.StageSEO
}
