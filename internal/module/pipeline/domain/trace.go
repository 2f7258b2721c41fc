package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TraceStatus はトレースイベントの種別を表す
type TraceStatus string

const (
	TraceStatusStarted   TraceStatus = "started"
	TraceStatusSucceeded TraceStatus = "succeeded"
	TraceStatusFailed    TraceStatus = "failed"
	TraceStatusPaused    TraceStatus = "paused"
	TraceStatusResumed   TraceStatus = "resumed"
)

// TraceEvent は実行トレースの1イベントを表す。一度書き込まれたら変更されない。
type TraceEvent struct {
	JobID     uuid.UUID   `json:"jobID"`
	StageName string      `json:"stageName"`
	AgentName string      `json:"agentName"`
	Status    TraceStatus `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// TraceSink は実行トレースの追記専用シンクを表す。
// 書き込むのはオーケストレータとセクションスケジューラのみで、
// 複数ジョブからの並行アクセスに対して安全でなければならない。
type TraceSink interface {
	// Append はイベントを追記する
	Append(ctx context.Context, event TraceEvent) error

	// Query はジョブIDに紐づくイベントを追記順で返す
	Query(ctx context.Context, jobID uuid.UUID) ([]TraceEvent, error)
}
