package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// TraceSink はインメモリの追記専用トレースシンク実装
type TraceSink struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]domain.TraceEvent
}

// NewTraceSink は新しいTraceSinkを作成する
func NewTraceSink() *TraceSink {
	return &TraceSink{
		events: make(map[uuid.UUID][]domain.TraceEvent),
	}
}

// コンパイル時の型チェック
var _ domain.TraceSink = (*TraceSink)(nil)

// Append はイベントを追記する
func (s *TraceSink) Append(ctx context.Context, event domain.TraceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.JobID] = append(s.events[event.JobID], event)
	return nil
}

// Query はジョブIDに紐づくイベントを追記順で返す
func (s *TraceSink) Query(ctx context.Context, jobID uuid.UUID) ([]domain.TraceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.TraceEvent(nil), s.events[jobID]...), nil
}
