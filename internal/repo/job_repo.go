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

// JobRepo — репозиторий для работы с jobs.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// Create создаёт новый job.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	defJSON, err := json.Marshal(job.Def)
	if err != nil {
		return fmt.Errorf("marshal def: %w", err)
	}
	variantJSON, err := json.Marshal(job.Variant)
	if err != nil {
		return fmt.Errorf("marshal variant: %w", err)
	}
	needsJSON, err := json.Marshal(job.Needs)
	if err != nil {
		return fmt.Errorf("marshal needs: %w", err)
	}

	query := `
		INSERT INTO jobs (id, run_id, name, template, variant, needs, soft_fail,
		                  outcome, def, cache_write, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.RunID,
		job.Name,
		job.Template,
		variantJSON,
		needsJSON,
		job.SoftFail,
		job.Outcome,
		defJSON,
		job.CacheWrite,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := jobSelect + ` WHERE id = $1`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// ListByRun возвращает все jobs одного run.
func (r *JobRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Job, error) {
	query := jobSelect + ` WHERE run_id = $1 ORDER BY created_at ASC, name ASC`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by run: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListPending возвращает jobs в статусе PENDING (диспатчены, но не взяты
// воркером). Используется polling-фоллбэком воркера, когда MQ недоступен.
func (r *JobRepo) ListPending(ctx context.Context, limit int) ([]domain.Job, error) {
	query := jobSelect + ` WHERE outcome = 'PENDING' ORDER BY created_at ASC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CancelByRun помечает незавершённые jobs run как CANCELLED.
// Возвращает количество отменённых jobs.
func (r *JobRepo) CancelByRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	query := `
		UPDATE jobs
		SET outcome = 'CANCELLED', finished_at = NOW()
		WHERE run_id = $1 AND outcome IN ('PENDING', 'RUNNING')
	`
	result, err := r.pool.Exec(ctx, query, runID)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs by run: %w", err)
	}
	return result.RowsAffected(), nil
}

// Update обновляет job.
func (r *JobRepo) Update(ctx context.Context, job *domain.Job) error {
	stepsJSON, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	query := `
		UPDATE jobs
		SET outcome = $2, soft_failed = $3, steps = $4,
		    started_at = $5, finished_at = $6, error = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Outcome,
		job.SoftFailed,
		stepsJSON,
		job.StartedAt,
		job.FinishedAt,
		nullString(job.Error),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Claim атомарно забирает PENDING job: outcome → RUNNING.
// Ноль затронутых строк — job уже взят другим воркером либо отменён;
// возвращается ErrInvalidState, и воркер шаги не запускает.
func (r *JobRepo) Claim(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET outcome = $2, started_at = $3
		WHERE id = $1 AND outcome = 'PENDING'
	`
	result, err := r.pool.Exec(ctx, query, job.ID, job.Outcome, job.StartedAt)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Complete записывает терминальный вердикт job, только пока он RUNNING.
// Если run отменили, пока job выполнялся (CancelByRun уже перевёл строку
// в CANCELLED), вердикт отбрасывается: возвращается ErrInvalidState.
func (r *JobRepo) Complete(ctx context.Context, job *domain.Job) error {
	stepsJSON, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	query := `
		UPDATE jobs
		SET outcome = $2, soft_failed = $3, steps = $4,
		    started_at = $5, finished_at = $6, error = $7
		WHERE id = $1 AND outcome = 'RUNNING'
	`
	result, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Outcome,
		job.SoftFailed,
		stepsJSON,
		job.StartedAt,
		job.FinishedAt,
		nullString(job.Error),
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// --- Helpers ---

const jobSelect = `
	SELECT id, run_id, name, template, variant, needs, soft_fail, outcome,
	       soft_failed, def, cache_write, steps, started_at, finished_at,
	       error, created_at
	FROM jobs
`

// scanJob сканирует одну строку в Job.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var variantJSON, needsJSON, defJSON, stepsJSON []byte
	var jobError *string

	err := row.Scan(
		&job.ID,
		&job.RunID,
		&job.Name,
		&job.Template,
		&variantJSON,
		&needsJSON,
		&job.SoftFail,
		&job.Outcome,
		&job.SoftFailed,
		&defJSON,
		&job.CacheWrite,
		&stepsJSON,
		&job.StartedAt,
		&job.FinishedAt,
		&jobError,
		&job.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if variantJSON != nil {
		if err := json.Unmarshal(variantJSON, &job.Variant); err != nil {
			return nil, fmt.Errorf("unmarshal variant: %w", err)
		}
	}
	if needsJSON != nil {
		if err := json.Unmarshal(needsJSON, &job.Needs); err != nil {
			return nil, fmt.Errorf("unmarshal needs: %w", err)
		}
	}
	if defJSON != nil {
		if err := json.Unmarshal(defJSON, &job.Def); err != nil {
			return nil, fmt.Errorf("unmarshal def: %w", err)
		}
	}
	if stepsJSON != nil {
		if err := json.Unmarshal(stepsJSON, &job.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}

	if jobError != nil {
		job.Error = *jobError
	}

	return &job, nil
}

// collectJobs собирает все строки rows в слайс Job.
func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
