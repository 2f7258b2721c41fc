package pg

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// TraceRepository は domain.TraceSink のPostgreSQL実装。
// イベントは追記専用で、連番カラムにより挿入順が保存される。
type TraceRepository struct {
	pool *pgxpool.Pool
}

// NewTraceRepository は新しい TraceRepository を作成する
func NewTraceRepository(pool *pgxpool.Pool) *TraceRepository {
	return &TraceRepository{pool: pool}
}

// Append はトレースイベントを追記する
func (r *TraceRepository) Append(ctx context.Context, event domain.TraceEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO trace_events (job_id, stage_name, agent_name, status, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.JobID, event.StageName, event.AgentName, string(event.Status), event.Detail, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append trace event: %w", err)
	}
	return nil
}

// Query はジョブのトレースイベントを記録順に返す
func (r *TraceRepository) Query(ctx context.Context, jobID uuid.UUID) ([]domain.TraceEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT job_id, stage_name, agent_name, status, detail, occurred_at
		 FROM trace_events WHERE job_id = $1 ORDER BY seq`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace events: %w", err)
	}
	defer rows.Close()

	var events []domain.TraceEvent
	for rows.Next() {
		var (
			ev     domain.TraceEvent
			status string
		)
		if err := rows.Scan(&ev.JobID, &ev.StageName, &ev.AgentName, &status, &ev.Detail, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan trace event: %w", err)
		}
		ev.Status = domain.TraceStatus(status)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trace events: %w", err)
	}

	return events, nil
}

// コンパイル時の型チェック
var _ domain.TraceSink = (*TraceRepository)(nil)
