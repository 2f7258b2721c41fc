package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/blogforge/internal/module/pipeline/adapter/memory"
	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

func newTestSupervisor(t *testing.T, executors Executors, cfg Config) (*Supervisor, *memory.SnapshotStore, *memory.TraceSink) {
	t.Helper()
	store := memory.NewSnapshotStore()
	sink := memory.NewTraceSink()
	return NewSupervisor(store, sink, executors, cfg, testLogger()), store, sink
}

func waitForJob(t *testing.T, s *Supervisor, jobID uuid.UUID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.WaitForJob(ctx, jobID))
}

func TestSupervisor_RunsFullPipelineToCompletion(t *testing.T) {
	// 3セクション・W=2: 2セクションが並行ドラフトされ、3つ目が待ち、
	// 最終的に全セクションがeditedに到達する
	drafter := &stubDrafter{}
	cfg := DefaultConfig()
	cfg.Workers = 2
	s, _, _ := newTestSupervisor(t, stubExecutors(drafter, &stubEditor{}, 3), cfg)

	jobID, err := s.StartJob(context.Background(), "Future of AI Agents", "Developers", nil)
	require.NoError(t, err)
	waitForJob(t, s, jobID)

	job, err := s.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
	require.Len(t, job.Sections, 3)
	for _, sec := range job.SectionsByOrdinal() {
		assert.Equal(t, domain.SectionStatusEdited, sec.Status)
	}

	require.NotNil(t, job.SEO)
	assert.NotEmpty(t, job.SEO.MetaTitle)
	assert.NotEmpty(t, job.SEO.Keywords)

	// 組み立てはordinal順
	idx0 := strings.Index(job.AssembledContent, "Heading 0")
	idx1 := strings.Index(job.AssembledContent, "Heading 1")
	idx2 := strings.Index(job.AssembledContent, "Heading 2")
	require.True(t, idx0 >= 0 && idx1 >= 0 && idx2 >= 0)
	assert.True(t, idx0 < idx1 && idx1 < idx2)
}

func TestSupervisor_StartJobRejectsEmptyTopic(t *testing.T) {
	s, _, _ := newTestSupervisor(t, stubExecutors(&stubDrafter{}, &stubEditor{}, 1), DefaultConfig())

	_, err := s.StartJob(context.Background(), "", "Developers", nil)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestSupervisor_GetStatusUnknownJob(t *testing.T) {
	s, _, _ := newTestSupervisor(t, stubExecutors(&stubDrafter{}, &stubEditor{}, 1), DefaultConfig())

	_, err := s.GetStatus(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSupervisor_ResearchNotesFromReferences(t *testing.T) {
	s, _, _ := newTestSupervisor(t, stubExecutors(&stubDrafter{}, &stubEditor{}, 2), DefaultConfig())

	urls := []string{"https://example.com/a", "https://example.com/b"}
	jobID, err := s.StartJob(context.Background(), "topic", "audience", urls)
	require.NoError(t, err)
	waitForJob(t, s, jobID)

	job, err := s.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, job.ResearchNotes)
	assert.Len(t, job.ResearchNotes.Citations, 2)
}

func TestSupervisor_SequentialStageFailureFailsJob(t *testing.T) {
	executors := stubExecutors(&stubDrafter{}, &stubEditor{}, 2)
	executors.Outliner = &stubOutliner{err: errors.New("outline model exploded")}
	s, _, sink := newTestSupervisor(t, executors, DefaultConfig())

	jobID, err := s.StartJob(context.Background(), "topic", "audience", nil)
	require.NoError(t, err)
	waitForJob(t, s, jobID)

	job, err := s.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Contains(t, job.FailureReason, "outline model exploded")

	events, err := sink.Query(context.Background(), jobID)
	require.NoError(t, err)
	var sawFailed bool
	for _, ev := range events {
		if ev.Status == domain.TraceStatusFailed && ev.StageName == "outline" {
			sawFailed = true
		}
	}
	assert.True(t, sawFailed, "失敗は必ずトレースイベントを残す")
}

func TestSupervisor_StrictThresholdFailsJobOnSingleSectionFailure(t *testing.T) {
	drafter := &stubDrafter{failFor: map[string]error{"Heading 1": errors.New("boom")}}
	cfg := DefaultConfig()
	cfg.SectionFailureRatio = 0
	s, _, _ := newTestSupervisor(t, stubExecutors(drafter, &stubEditor{}, 3), cfg)

	jobID, err := s.StartJob(context.Background(), "topic", "audience", nil)
	require.NoError(t, err)
	waitForJob(t, s, jobID)

	job, err := s.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Equal(t, domain.SectionStatusFailed, job.Sections["section-1"].Status)
}

func TestSupervisor_RelaxedThresholdCompletesWithSucceededSections(t *testing.T) {
	drafter := &stubDrafter{failFor: map[string]error{"Heading 1": errors.New("boom")}}
	cfg := DefaultConfig()
	cfg.SectionFailureRatio = 0.7 // 3セクション中2つまでの失敗を許容
	s, _, _ := newTestSupervisor(t, stubExecutors(drafter, &stubEditor{}, 3), cfg)

	jobID, err := s.StartJob(context.Background(), "topic", "audience", nil)
	require.NoError(t, err)
	waitForJob(t, s, jobID)

	job, err := s.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)

	// 失敗したセクションは最終文書から除外される
	assert.NotContains(t, job.AssembledContent, "Heading 1")
	assert.Contains(t, job.AssembledContent, "Heading 0")
	assert.Contains(t, job.AssembledContent, "Heading 2")
	assert.Equal(t, domain.SectionStatusFailed, job.Sections["section-1"].Status)
}

func TestSupervisor_ConcurrencyNeverExceedsWorkerLimit(t *testing.T) {
	drafter := &stubDrafter{}
	cfg := DefaultConfig()
	cfg.Workers = 2
	s, _, _ := newTestSupervisor(t, stubExecutors(drafter, &stubEditor{}, 8), cfg)

	jobID, err := s.StartJob(context.Background(), "topic", "audience", nil)
	require.NoError(t, err)
	waitForJob(t, s, jobID)

	assert.LessOrEqual(t, drafter.maxInFlight.Load(), int64(2))
}

func TestSupervisor_PauseIsIdempotent(t *testing.T) {
	gate := make(chan struct{})
	drafter := &stubDrafter{gate: gate}
	cfg := DefaultConfig()
	cfg.Workers = 1
	s, store, _ := newTestSupervisor(t, stubExecutors(drafter, &stubEditor{}, 3), cfg)

	ctx := context.Background()
	jobID, err := s.StartJob(ctx, "topic", "audience", nil)
	require.NoError(t, err)

	// 最初のセクションがディスパッチされるのを待ってから一時停止を要求する
	require.Eventually(t, func() bool { return drafter.callCount() >= 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, s.PauseJob(ctx, jobID))
	gate <- struct{}{} // 実行中のセクションを完了させる
	waitForJob(t, s, jobID)

	snap1, err := store.Load(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePaused, snap1.Job.State)

	// 2回目のpauseは観測可能な効果を持たない
	require.NoError(t, s.PauseJob(ctx, jobID))
	snap2, err := store.Load(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, snap1.Version, snap2.Version)
	assert.Equal(t, snap1.Job.State, snap2.Job.State)

	// 終端状態のジョブに対するpauseもno-op
	close(gate)
	require.NoError(t, s.ResumeJob(ctx, jobID))
	waitForJob(t, s, jobID)
	require.NoError(t, s.PauseJob(ctx, jobID))
	job, err := s.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
}

// saveInspectingStore はスナップショット保存時点のセクション状態を検査する。
// 実行中ステータスのセクションに本文が書き込まれたスナップショットは、
// ワーカーの書き込み途中を捉えた壊れたチェックポイントを意味する。
type saveInspectingStore struct {
	domain.SnapshotStore
	mu         sync.Mutex
	violations int
}

func (s *saveInspectingStore) Save(ctx context.Context, job *domain.Job, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	for _, sec := range job.Sections {
		if (sec.Status == domain.SectionStatusDrafting && sec.DraftContent != "") ||
			(sec.Status == domain.SectionStatusEditing && sec.EditedContent != "") {
			s.violations++
		}
	}
	s.mu.Unlock()
	return s.SnapshotStore.Save(ctx, job, expectedVersion)
}

func TestSupervisor_CheckpointNeverCapturesInFlightSectionWrites(t *testing.T) {
	inspect := &saveInspectingStore{SnapshotStore: memory.NewSnapshotStore()}
	cfg := DefaultConfig()
	cfg.Workers = 2
	s := NewSupervisor(inspect, memory.NewTraceSink(), stubExecutors(&stubDrafter{}, &stubEditor{}, 6), cfg, testLogger())

	jobID, err := s.StartJob(context.Background(), "topic", "audience", nil)
	require.NoError(t, err)
	waitForJob(t, s, jobID)

	job, err := s.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStateCompleted, job.State)
	assert.Zero(t, inspect.violations, "チェックポイントが書き込み途中のセクションを含んでいる")
}

func TestSupervisor_PauseDuringFinalStageStillCompletes(t *testing.T) {
	seo := &stubSEO{entered: make(chan struct{}), gate: make(chan struct{})}
	executors := stubExecutors(&stubDrafter{}, &stubEditor{}, 2)
	executors.SEO = seo
	s, _, _ := newTestSupervisor(t, executors, DefaultConfig())

	ctx := context.Background()
	jobID, err := s.StartJob(ctx, "topic", "audience", nil)
	require.NoError(t, err)

	// SEOステージ実行中（最後のチェックポイントの直前）に一時停止を要求する
	<-seo.entered
	require.NoError(t, s.PauseJob(ctx, jobID))
	close(seo.gate)
	waitForJob(t, s, jobID)

	// 残ステージのない一時停止状態に落ちず、完了が優先される
	job, err := s.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
	assert.False(t, job.PauseRequested)
}

func TestSupervisor_ResumeRunsOnlyRemainingSections(t *testing.T) {
	gate := make(chan struct{})
	drafter := &stubDrafter{gate: gate}
	cfg := DefaultConfig()
	cfg.Workers = 1
	s, store, sink := newTestSupervisor(t, stubExecutors(drafter, &stubEditor{}, 4), cfg)

	ctx := context.Background()
	jobID, err := s.StartJob(ctx, "topic", "audience", nil)
	require.NoError(t, err)

	// セクション2件を完了させ、3件目のディスパッチ前に一時停止させる
	require.Eventually(t, func() bool { return drafter.callCount() >= 1 }, 5*time.Second, time.Millisecond)
	gate <- struct{}{}
	require.Eventually(t, func() bool { return drafter.callCount() >= 2 }, 5*time.Second, time.Millisecond)
	require.NoError(t, s.PauseJob(ctx, jobID))
	gate <- struct{}{}
	waitForJob(t, s, jobID)

	snap, err := store.Load(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatePaused, snap.Job.State)
	drafted := 0
	for _, sec := range snap.Job.Sections {
		if sec.Status == domain.SectionStatusDrafted {
			drafted++
		}
	}
	require.Equal(t, 2, drafted, "一時停止時点でM=4中N=2セクションがdrafted")
	callsBeforeResume := drafter.callCount()
	require.Equal(t, 2, callsBeforeResume)

	// 再開: 残りM−N=2セクションだけが実行される
	close(gate)
	require.NoError(t, s.ResumeJob(ctx, jobID))
	waitForJob(t, s, jobID)

	job, err := s.GetStatus(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStateCompleted, job.State)
	assert.Equal(t, 4, drafter.callCount(), "drafted済みセクションは再ディスパッチされない")

	// 一時停止なしの実行と内容が一致する
	s2, _, _ := newTestSupervisor(t, stubExecutors(&stubDrafter{}, &stubEditor{}, 4), cfg)
	jobID2, err := s2.StartJob(ctx, "topic", "audience", nil)
	require.NoError(t, err)
	waitForJob(t, s2, jobID2)
	job2, err := s2.GetStatus(ctx, jobID2)
	require.NoError(t, err)
	assert.Equal(t, job2.AssembledContent, job.AssembledContent)

	// トレースにpaused/resumedイベントが残る
	events, err := sink.Query(ctx, jobID)
	require.NoError(t, err)
	var sawPaused, sawResumed bool
	for _, ev := range events {
		switch ev.Status {
		case domain.TraceStatusPaused:
			sawPaused = true
		case domain.TraceStatusResumed:
			sawResumed = true
		}
	}
	assert.True(t, sawPaused)
	assert.True(t, sawResumed)
}

func TestSupervisor_ResumeRequiresPausedState(t *testing.T) {
	s, _, _ := newTestSupervisor(t, stubExecutors(&stubDrafter{}, &stubEditor{}, 1), DefaultConfig())
	ctx := context.Background()

	err := s.ResumeJob(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)

	jobID, err := s.StartJob(ctx, "topic", "audience", nil)
	require.NoError(t, err)
	waitForJob(t, s, jobID)

	err = s.ResumeJob(ctx, jobID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSupervisor_ResumeSurvivesProcessRestart(t *testing.T) {
	gate := make(chan struct{})
	drafter := &stubDrafter{gate: gate}
	cfg := DefaultConfig()
	cfg.Workers = 1
	s1, store, sink := newTestSupervisor(t, stubExecutors(drafter, &stubEditor{}, 3), cfg)
	ctx := context.Background()

	jobID, err := s1.StartJob(ctx, "topic", "audience", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return drafter.callCount() >= 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, s1.PauseJob(ctx, jobID))
	gate <- struct{}{}
	waitForJob(t, s1, jobID)
	close(gate)

	// プロセス再起動を模す: 同じストア・シンクの上に新しいSupervisorを構築する
	s2 := NewSupervisor(store, sink, stubExecutors(&stubDrafter{}, &stubEditor{}, 3), cfg, testLogger())

	restored, err := s2.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePaused, restored.State)

	require.NoError(t, s2.ResumeJob(ctx, jobID))
	waitForJob(t, s2, jobID)

	job, err := s2.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
	for _, sec := range job.SectionsByOrdinal() {
		assert.Equal(t, domain.SectionStatusEdited, sec.Status)
	}
}

func TestSupervisor_CancelRespectsCooperativeWorkers(t *testing.T) {
	gate := make(chan struct{})
	drafter := &stubDrafter{gate: gate, honourCtx: true}
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.CancelGrace = 100 * time.Millisecond
	s, _, _ := newTestSupervisor(t, stubExecutors(drafter, &stubEditor{}, 3), cfg)
	ctx := context.Background()

	jobID, err := s.StartJob(ctx, "topic", "audience", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return drafter.callCount() >= 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, s.CancelJob(ctx, jobID))

	job, err := s.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCancelled, job.State)

	// キャンセルは冪等
	require.NoError(t, s.CancelJob(ctx, jobID))
	close(gate)
}

func TestSupervisor_CancelTerminatesWithinGraceForStuckWorkers(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	drafter := &stubDrafter{gate: gate} // ctxを無視してブロックし続けるワーカー
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.CancelGrace = 50 * time.Millisecond
	s, _, _ := newTestSupervisor(t, stubExecutors(drafter, &stubEditor{}, 2), cfg)
	ctx := context.Background()

	jobID, err := s.StartJob(ctx, "topic", "audience", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return drafter.callCount() >= 1 }, 5*time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, s.CancelJob(ctx, jobID))
	assert.Less(t, time.Since(start), 5*time.Second, "cancel_jobは有界時間で完了する")

	job, err := s.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCancelled, job.State)
	assert.Equal(t, domain.SectionStatusFailed, job.Sections["section-0"].Status, "未応答ワーカーのセクションはfailed扱い")
}

func TestSupervisor_TerminalStateIsExclusiveAndStable(t *testing.T) {
	s, store, _ := newTestSupervisor(t, stubExecutors(&stubDrafter{}, &stubEditor{}, 2), DefaultConfig())
	ctx := context.Background()

	jobID, err := s.StartJob(ctx, "topic", "audience", nil)
	require.NoError(t, err)
	waitForJob(t, s, jobID)

	job, err := s.GetStatus(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStateCompleted, job.State)

	// 終端状態後の制御操作は状態を変えない
	require.NoError(t, s.PauseJob(ctx, jobID))
	require.NoError(t, s.CancelJob(ctx, jobID))
	require.ErrorIs(t, s.ResumeJob(ctx, jobID), domain.ErrInvalidState)

	snap, err := store.Load(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, snap.Job.State)
}

func TestSupervisor_TraceCoversEveryStage(t *testing.T) {
	s, _, sink := newTestSupervisor(t, stubExecutors(&stubDrafter{}, &stubEditor{}, 2), DefaultConfig())
	ctx := context.Background()

	jobID, err := s.StartJob(ctx, "topic", "audience", nil)
	require.NoError(t, err)
	waitForJob(t, s, jobID)

	events, err := sink.Query(ctx, jobID)
	require.NoError(t, err)

	succeededByStage := map[string]int{}
	for _, ev := range events {
		if ev.Status == domain.TraceStatusSucceeded {
			succeededByStage[ev.StageName]++
		}
	}
	for _, stage := range domain.Stages() {
		assert.GreaterOrEqual(t, succeededByStage[string(stage)], 1, "stage %s", stage)
	}
	// 並列ステージはセクションごとのイベントも残す（2セクション + ステージ完了）
	assert.Equal(t, 3, succeededByStage[string(domain.StageDraft)])
	assert.Equal(t, 3, succeededByStage[string(domain.StageEdit)])
}
