package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// SnapshotStore はインメモリのスナップショットストア実装。
// 開発用途とテスト用途向け。ジョブIDごとにバージョンを管理し、
// 複数ジョブからの並行アクセスに対して安全。
type SnapshotStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*domain.Snapshot
}

// NewSnapshotStore は新しいSnapshotStoreを作成する
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		items: make(map[uuid.UUID]*domain.Snapshot),
	}
}

// コンパイル時の型チェック
var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// Save はジョブ状態を新しいバージョンとして保存する
func (s *SnapshotStore) Save(ctx context.Context, job *domain.Job, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if snap, ok := s.items[job.ID]; ok {
		current = snap.Version
	}
	if current != expectedVersion {
		return 0, fmt.Errorf("job %s: expected version %d, found %d: %w",
			job.ID, expectedVersion, current, domain.ErrVersionConflict)
	}

	next := current + 1
	s.items[job.ID] = &domain.Snapshot{
		JobID:   job.ID,
		Version: next,
		Job:     job.Clone(),
		SavedAt: time.Now().UTC(),
	}
	return next, nil
}

// Load は最新のスナップショットを読み込む
func (s *SnapshotStore) Load(ctx context.Context, jobID uuid.UUID) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.items[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	return &domain.Snapshot{
		JobID:   snap.JobID,
		Version: snap.Version,
		Job:     snap.Job.Clone(),
		SavedAt: snap.SavedAt,
	}, nil
}

// Delete はジョブのスナップショットを削除する
func (s *SnapshotStore) Delete(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, jobID)
	return nil
}
