package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Snapshot はジョブ状態の永続化単位を表す。
// バージョンはジョブごとに単調増加し、1ジョブのスナップショット書き込みは
// バージョン番号によって全順序付けされる。
type Snapshot struct {
	JobID   uuid.UUID `json:"jobID"`
	Version int64     `json:"version"`
	Job     *Job      `json:"job"`
	SavedAt time.Time `json:"savedAt"`
}

// SnapshotStore はジョブスナップショットの永続化ストアを表す。
// 実装はジョブIDごとに書き込みを直列化しつつ、異なるジョブIDへの
// 並行書き込みを許可しなければならない。
type SnapshotStore interface {
	// Save はジョブ状態を新しいバージョンとして保存する。
	// expectedVersionが現在のバージョンと一致しない場合は ErrVersionConflict を返す。
	// 新規ジョブの初回保存は expectedVersion=0 で行う。
	// 書き込みはアトミックであり、部分的に書かれたスナップショットが観測されることはない。
	Save(ctx context.Context, job *Job, expectedVersion int64) (int64, error)

	// Load は最新のスナップショットを読み込む。
	// 存在しない場合は ErrNotFound を返す。
	Load(ctx context.Context, jobID uuid.UUID) (*Snapshot, error)

	// Delete はジョブのスナップショットを削除する
	Delete(ctx context.Context, jobID uuid.UUID) error
}
