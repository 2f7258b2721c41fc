package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// SchedulerConfig はセクションスケジューラの設定
type SchedulerConfig struct {
	// Workers は同時実行するセクションワーカー数の上限 W
	Workers int

	// FailureRatio は許容する失敗セクションの割合。
	// failed/total がこの値を超えるとステージ失敗とする。
	// 0 は「1セクションでも失敗したらステージ失敗」を意味する。
	FailureRatio float64

	// CancelGrace はキャンセル後、未応答のワーカーを失敗扱いにするまでの猶予時間
	CancelGrace time.Duration
}

// StagePlan は並列ステージ1回分の実行計画。
// ドラフトステージと編集ステージはワーカー関数と状態遷移だけが異なる。
type StagePlan struct {
	Stage  domain.Stage
	Agent  string
	Active domain.SectionStatus
	Done   domain.SectionStatus

	// Work は1セクション分の処理を実行し、生成した本文を返す。
	// ワーカーgoroutineで動くため、Sectionには書き込まない。
	Work func(ctx context.Context, sec *domain.Section) (string, error)

	// Assign は生成本文をセクションに書き込む。結果受信後の制御goroutineからのみ
	// 呼ばれるため、チェックポイントのスナップショットが書き込み途中の
	// セクションを観測することはない。
	Assign func(sec *domain.Section, content string)
}

// SectionCheckpoint はセクション1件の確定ごとに呼ばれる。
// 永続化・トレース出力を行い、以降のディスパッチを止めるべき場合
// （一時停止要求あり）は stop=true を返す。
type SectionCheckpoint func(sec *domain.Section) (stop bool, err error)

// SectionScheduler はアウトラインのセクション群を有界な並列度で実行する。
// ディスパッチ順はordinal順、完了順は不定だが、最終的な組み立ては
// 常にordinal順で行われる（Job.SectionsByOrdinal参照）。
type SectionScheduler struct {
	cfg    SchedulerConfig
	logger *slog.Logger
}

// NewSectionScheduler は新しいSectionSchedulerを作成する
func NewSectionScheduler(cfg SchedulerConfig, logger *slog.Logger) *SectionScheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 5 * time.Second
	}
	return &SectionScheduler{cfg: cfg, logger: logger}
}

type sectionResult struct {
	sec     *domain.Section
	content string
	err     error
}

// Run はpendingのセクションを並列実行する。
// 一時停止・キャンセル要求はディスパッチ済みのワーカーを中断せず、
// 次のディスパッチのみを止める。全ワーカーの確定を待ってから戻る。
// 一時停止要求によって途中で打ち切った場合は paused=true を返す。
func (s *SectionScheduler) Run(ctx context.Context, pending []*domain.Section, plan StagePlan, checkpoint SectionCheckpoint) (paused bool, err error) {
	if len(pending) == 0 {
		return false, nil
	}

	// バッファをpending全件分確保しておくことで、猶予時間超過後に
	// 完了したワーカーがブロックせずに終了できる
	results := make(chan sectionResult, len(pending))

	next := 0
	inFlight := 0
	stopDispatch := false
	var runErr error

	dispatch := func() {
		for !stopDispatch && inFlight < s.cfg.Workers && next < len(pending) {
			sec := pending[next]
			next++
			sec.Status = plan.Active
			sec.Error = ""
			inFlight++

			s.logger.Debug("Dispatching section",
				"stage", plan.Stage,
				"sectionID", sec.ID,
				"ordinal", sec.Ordinal,
			)
			go func(sec *domain.Section) {
				content, workErr := plan.Work(ctx, sec)
				results <- sectionResult{sec: sec, content: content, err: workErr}
			}(sec)
		}
	}

	dispatch()
	for inFlight > 0 {
		var res sectionResult
		settled := false
		if ctx.Err() == nil {
			select {
			case res = <-results:
				settled = true
			case <-ctx.Done():
			}
		}
		if !settled {
			// キャンセル済み: 残ワーカーの確定を猶予時間まで待つ
			timer := time.NewTimer(s.cfg.CancelGrace)
			select {
			case res = <-results:
				timer.Stop()
			case <-timer.C:
				for _, sec := range pending[:next] {
					if sec.Status == plan.Active {
						sec.MarkFailed(fmt.Errorf("worker did not settle within cancel grace: %w", ctx.Err()))
					}
				}
				return false, ctx.Err()
			}
		}
		inFlight--

		if res.err != nil {
			res.sec.MarkFailed(res.err)
			s.logger.Warn("Section failed",
				"stage", plan.Stage,
				"sectionID", res.sec.ID,
				"error", res.err,
			)
		} else {
			plan.Assign(res.sec, res.content)
			res.sec.Status = plan.Done
		}

		stop, cpErr := checkpoint(res.sec)
		if cpErr != nil {
			runErr = cpErr
			stopDispatch = true
		}
		if stop {
			paused = true
			stopDispatch = true
		}
		if ctx.Err() != nil {
			stopDispatch = true
		}
		dispatch()
	}

	if runErr != nil {
		return false, runErr
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return paused, nil
}

// ExceedsFailureThreshold は失敗セクション数が閾値ポリシーを超えたかを判定する
func (s *SectionScheduler) ExceedsFailureThreshold(failed, total int) bool {
	if failed == 0 || total == 0 {
		return false
	}
	return float64(failed)/float64(total) > s.cfg.FailureRatio
}
