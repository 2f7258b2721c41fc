package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// uniqueViolationCode はPostgreSQLの一意制約違反のエラーコード
const uniqueViolationCode = "23505"

// SnapshotRepository は domain.SnapshotStore のPostgreSQL実装。
// ジョブ文書をJSONBで保持し、楽観的バージョニングを
// バージョン一致条件付きUPDATEで実現する。
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository は新しい SnapshotRepository を作成する
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Save はスナップショットを永続化する。
// expectedVersion が現在のバージョンと一致しない場合は domain.ErrVersionConflict を返す。
// 新規ジョブは expectedVersion=0 で挿入する。
func (r *SnapshotRepository) Save(ctx context.Context, job *domain.Job, expectedVersion int64) (int64, error) {
	doc, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal job snapshot: %w", err)
	}

	now := time.Now().UTC()

	if expectedVersion == 0 {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO job_snapshots (job_id, version, job, saved_at) VALUES ($1, 1, $2, $3)`,
			job.ID, doc, now,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
				return 0, domain.ErrVersionConflict
			}
			return 0, fmt.Errorf("failed to insert job snapshot: %w", err)
		}
		return 1, nil
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE job_snapshots SET version = $1, job = $2, saved_at = $3 WHERE job_id = $4 AND version = $5`,
		expectedVersion+1, doc, now, job.ID, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update job snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// ジョブが存在しないか、バージョンが一致しない
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM job_snapshots WHERE job_id = $1)`, job.ID,
		).Scan(&exists); err != nil {
			return 0, fmt.Errorf("failed to check job snapshot existence: %w", err)
		}
		if !exists {
			return 0, domain.ErrNotFound
		}
		return 0, domain.ErrVersionConflict
	}

	return expectedVersion + 1, nil
}

// Load は最新のスナップショットを取得する。
// ジョブが存在しない場合は domain.ErrNotFound を返す。
func (r *SnapshotRepository) Load(ctx context.Context, jobID uuid.UUID) (*domain.Snapshot, error) {
	var (
		version int64
		doc     []byte
		savedAt time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT version, job, saved_at FROM job_snapshots WHERE job_id = $1`, jobID,
	).Scan(&version, &doc, &savedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job snapshot: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal(doc, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job snapshot: %w", err)
	}

	return &domain.Snapshot{
		JobID:   jobID,
		Version: version,
		Job:     &job,
		SavedAt: savedAt,
	}, nil
}

// Delete はスナップショットを削除する
func (r *SnapshotRepository) Delete(ctx context.Context, jobID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM job_snapshots WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete job snapshot: %w", err)
	}
	return nil
}

// コンパイル時の型チェック
var _ domain.SnapshotStore = (*SnapshotRepository)(nil)
