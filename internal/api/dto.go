package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Pipeline DTOs

// CreatePipelineRequest — запрос на создание pipeline.
type CreatePipelineRequest struct {
	Name string `json:"name"`
}

// UpdatePipelineRequest — запрос на обновление pipeline.
type UpdatePipelineRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// PipelineResponse — ответ с pipeline.
type PipelineResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// PipelineFromDomain конвертирует domain.Pipeline в PipelineResponse.
func PipelineFromDomain(p domain.Pipeline) PipelineResponse {
	return PipelineResponse{
		ID:        p.ID,
		Name:      p.Name,
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
	}
}

// PipelineVersion DTOs

// CreatePipelineVersionRequest — запрос на создание версии pipeline.
type CreatePipelineVersionRequest struct {
	Spec domain.PipelineSpec `json:"spec"`
}

// PipelineVersionResponse — ответ с версией pipeline.
type PipelineVersionResponse struct {
	PipelineID uuid.UUID           `json:"pipeline_id"`
	Version    int                 `json:"version"`
	Spec       domain.PipelineSpec `json:"spec"`
	CreatedAt  time.Time           `json:"created_at"`
}

// PipelineVersionFromDomain конвертирует domain.PipelineVersion
// в PipelineVersionResponse.
func PipelineVersionFromDomain(v domain.PipelineVersion) PipelineVersionResponse {
	return PipelineVersionResponse{
		PipelineID: v.PipelineID,
		Version:    v.Version,
		Spec:       v.Spec,
		CreatedAt:  v.CreatedAt,
	}
}

// Event DTOs

// EventRequest — входящее событие от хостинга репозитория.
type EventRequest struct {
	// Pipeline — имя pipeline, для которого пришло событие.
	Pipeline string `json:"pipeline"`

	// Event — вид события: "push" или "change_request".
	Event string `json:"event"`

	// Ref — ветка или commit reference.
	Ref string `json:"ref"`

	// Commit — SHA коммита.
	Commit string `json:"commit,omitempty"`

	// ChangeRequest — номер change request (для event="change_request").
	ChangeRequest int `json:"change_request,omitempty"`

	// ChangedPaths — изменённые пути (для path-фильтров).
	ChangedPaths []string `json:"changed_paths,omitempty"`
}

// EventResponse — результат обработки события.
type EventResponse struct {
	// Accepted — создан ли run для этого события.
	Accepted bool `json:"accepted"`

	// Reason — причина отказа, если run не создан.
	Reason string `json:"reason,omitempty"`

	// Run — созданный run.
	Run *RunResponse `json:"run,omitempty"`
}

// Run DTOs

// CreateRunRequest — запрос на ручной запуск pipeline.
type CreateRunRequest struct {
	Ref     string `json:"ref"`
	Commit  string `json:"commit,omitempty"`
	Version *int   `json:"version,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID         uuid.UUID           `json:"id"`
	PipelineID uuid.UUID           `json:"pipeline_id"`
	Version    int                 `json:"version"`
	Status     string              `json:"status"`
	Trigger    domain.TriggerEvent `json:"trigger"`
	GroupKey   string              `json:"group_key,omitempty"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		PipelineID: r.PipelineID,
		Version:    r.Version,
		Status:     string(r.Status),
		Trigger:    r.Trigger,
		GroupKey:   r.GroupKey,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
	}
}

// Job DTOs

// JobResponse — ответ с job.
type JobResponse struct {
	ID         uuid.UUID           `json:"id"`
	RunID      uuid.UUID           `json:"run_id"`
	Name       string              `json:"name"`
	Template   string              `json:"template"`
	Variant    map[string]string   `json:"variant,omitempty"`
	Needs      []string            `json:"needs,omitempty"`
	Outcome    string              `json:"outcome"`
	SoftFailed bool                `json:"soft_failed,omitempty"`
	CacheWrite bool                `json:"cache_write,omitempty"`
	Steps      []domain.StepResult `json:"steps,omitempty"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j domain.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		RunID:      j.RunID,
		Name:       j.Name,
		Template:   j.Template,
		Variant:    j.Variant,
		Needs:      j.Needs,
		Outcome:    string(j.Outcome),
		SoftFailed: j.SoftFailed,
		CacheWrite: j.CacheWrite,
		Steps:      j.Steps,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
	}
}

// Annotation DTOs

// AnnotationResponse — ответ с аннотацией.
type AnnotationResponse struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	JobID     uuid.UUID `json:"job_id"`
	JobName   string    `json:"job_name"`
	StepID    string    `json:"step_id"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	File      string    `json:"file,omitempty"`
	Line      int       `json:"line,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AnnotationFromDomain конвертирует domain.Annotation в AnnotationResponse.
func AnnotationFromDomain(a domain.Annotation) AnnotationResponse {
	return AnnotationResponse{
		ID:        a.ID,
		RunID:     a.RunID,
		JobID:     a.JobID,
		JobName:   a.JobName,
		StepID:    a.StepID,
		Severity:  string(a.Severity),
		Message:   a.Message,
		File:      a.File,
		Line:      a.Line,
		CreatedAt: a.CreatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string `json:"name"`
	Ref         string `json:"ref,omitempty"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	Ref         *string `json:"ref,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID          uuid.UUID  `json:"id"`
	PipelineID  uuid.UUID  `json:"pipeline_id"`
	Name        string     `json:"name,omitempty"`
	Ref         string     `json:"ref,omitempty"`
	CronExpr    string     `json:"cron_expr,omitempty"`
	IntervalSec int        `json:"interval_sec,omitempty"`
	Timezone    string     `json:"timezone"`
	Enabled     bool       `json:"enabled"`
	NextDueAt   *time.Time `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID `json:"last_run_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:          s.ID,
		PipelineID:  s.PipelineID,
		Name:        s.Name,
		Ref:         s.Ref,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Cache DTOs

// CacheEntryResponse — метаданные записи кэша.
type CacheEntryResponse struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}
