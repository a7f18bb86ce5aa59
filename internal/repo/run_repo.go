package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	triggerJSON, err := json.Marshal(run.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}

	query := `
		INSERT INTO runs (id, pipeline_id, version, status, trigger, group_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.PipelineID,
		run.Version,
		run.Status,
		triggerJSON,
		run.GroupKey,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, pipeline_id, version, status, trigger, group_key,
		       started_at, finished_at, error, created_at
		FROM runs
		WHERE id = $1
	`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT id, pipeline_id, version, status, trigger, group_key,
		       started_at, finished_at, error, created_at
		FROM runs
		WHERE ($1::uuid IS NULL OR pipeline_id = $1)
		  AND ($2::text IS NULL OR status = $2::run_status)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.PipelineID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// UpdateActive обновляет run, только пока он в активном статусе
// (PENDING или RUNNING). Терминальный статус в БД финальный: если run
// уже завершён или отменён другим процессом, строка не трогается и
// возвращается ErrInvalidState.
func (r *RunRepo) UpdateActive(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $2, started_at = $3, finished_at = $4, error = $5
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ListPending возвращает runs в статусе PENDING.
// Используется polling-фоллбэком оркестратора, когда MQ недоступен.
func (r *RunRepo) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `
		SELECT id, pipeline_id, version, status, trigger, group_key,
		       started_at, finished_at, error, created_at
		FROM runs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ListActiveByGroupKey возвращает незавершённые runs группы конкурентности.
// Активными считаются PENDING и RUNNING. Исключает сам run excludeID.
func (r *RunRepo) ListActiveByGroupKey(ctx context.Context, groupKey string, excludeID uuid.UUID) ([]domain.Run, error) {
	query := `
		SELECT id, pipeline_id, version, status, trigger, group_key,
		       started_at, finished_at, error, created_at
		FROM runs
		WHERE group_key = $1
		  AND status IN ('PENDING', 'RUNNING')
		  AND id <> $2
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, groupKey, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list active runs by group key: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	PipelineID *uuid.UUID
	Status     domain.RunStatus
	Limit      int
	Offset     int
}

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var triggerJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.PipelineID,
		&run.Version,
		&run.Status,
		&triggerJSON,
		&run.GroupKey,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if triggerJSON != nil {
		if err := json.Unmarshal(triggerJSON, &run.Trigger); err != nil {
			return nil, fmt.Errorf("unmarshal trigger: %w", err)
		}
	}

	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// collectRuns собирает все строки rows в слайс Run.
func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
