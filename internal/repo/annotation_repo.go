package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// AnnotationRepo — репозиторий для работы с аннотациями.
type AnnotationRepo struct {
	pool *pgxpool.Pool
}

// NewAnnotationRepo создаёт новый AnnotationRepo.
func NewAnnotationRepo(pool *pgxpool.Pool) *AnnotationRepo {
	return &AnnotationRepo{pool: pool}
}

// Create создаёт аннотацию.
func (r *AnnotationRepo) Create(ctx context.Context, a *domain.Annotation) error {
	query := `
		INSERT INTO annotations (id, run_id, job_id, job_name, step_id,
		                         severity, message, file, line, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		a.ID,
		a.RunID,
		a.JobID,
		a.JobName,
		a.StepID,
		a.Severity,
		a.Message,
		nullString(a.File),
		nullInt(a.Line),
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

// ListByRun возвращает аннотации run в порядке создания.
func (r *AnnotationRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Annotation, error) {
	query := `
		SELECT id, run_id, job_id, job_name, step_id, severity, message,
		       file, line, created_at
		FROM annotations
		WHERE run_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list annotations by run: %w", err)
	}
	defer rows.Close()

	var annotations []domain.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, *a)
	}
	return annotations, rows.Err()
}

// ListByJob возвращает аннотации конкретного job.
func (r *AnnotationRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.Annotation, error) {
	query := `
		SELECT id, run_id, job_id, job_name, step_id, severity, message,
		       file, line, created_at
		FROM annotations
		WHERE job_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list annotations by job: %w", err)
	}
	defer rows.Close()

	var annotations []domain.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, *a)
	}
	return annotations, rows.Err()
}

// scanAnnotation сканирует одну строку в Annotation.
func scanAnnotation(row pgx.Row) (*domain.Annotation, error) {
	var a domain.Annotation
	var file *string
	var line *int

	err := row.Scan(
		&a.ID,
		&a.RunID,
		&a.JobID,
		&a.JobName,
		&a.StepID,
		&a.Severity,
		&a.Message,
		&file,
		&line,
		&a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan annotation: %w", err)
	}

	if file != nil {
		a.File = *file
	}
	if line != nil {
		a.Line = *line
	}

	return &a, nil
}

// nullInt возвращает nil для нулевого int.
func nullInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
