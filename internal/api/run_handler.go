package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?pipeline_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{}

	// Парсим query параметры
	if pipelineIDStr := r.URL.Query().Get("pipeline_id"); pipelineIDStr != "" {
		pipelineID, err := uuid.Parse(pipelineIDStr)
		if err != nil {
			BadRequest(w, "invalid pipeline_id")
			return
		}
		filter.PipelineID = &pipelineID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
	}

	filter.Limit = parseIntOr(r.URL.Query().Get("limit"), 50)
	filter.Offset = parseIntOr(r.URL.Query().Get("offset"), 0)

	runs, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun создаёт run вручную (событие "manual").
// Триггеры и path-фильтры спецификации при ручном запуске не применяются.
// POST /api/v1/pipelines/{id}/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Ref == "" {
		BadRequest(w, "ref is required")
		return
	}

	// Проверяем, что pipeline существует
	pipeline, err := h.pipelineRepo.GetByID(r.Context(), pipelineID)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	// Определяем версию
	var version *domain.PipelineVersion
	if req.Version != nil {
		version, err = h.pipelineRepo.GetVersion(r.Context(), pipelineID, *req.Version)
		if HandleRepoError(w, h.logger, err, "pipeline version not found") {
			return
		}
	} else {
		version, err = h.pipelineRepo.GetLatestVersion(r.Context(), pipelineID)
		if HandleRepoError(w, h.logger, err, "pipeline has no versions") {
			return
		}
	}

	trigger := domain.TriggerEvent{
		Event:  domain.EventManual,
		Ref:    req.Ref,
		Commit: req.Commit,
	}

	run := &domain.Run{
		ID:         uuid.New(),
		PipelineID: pipeline.ID,
		Version:    version.Version,
		Status:     domain.RunStatusPending,
		Trigger:    trigger,
		GroupKey:   engine.GroupKey(&version.Spec, pipeline.Name, trigger),
	}

	if err := h.runRepo.Create(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.publishRunPending(r.Context(), run.ID)

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun отменяет run по запросу пользователя.
// Семантика та же, что при суперседе группы: run и его незавершённые
// jobs переходят в CANCELLED, воркеры получают broadcast.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	if run.IsFinished() {
		InvalidState(w, "run is already finished")
		return
	}

	run.MarkCancelled()
	if err := h.runRepo.UpdateActive(r.Context(), run); err != nil {
		// Гонка с оркестратором: run финализирован между GetByID и отменой
		if errors.Is(err, repo.ErrInvalidState) {
			InvalidState(w, "run is already finished")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	if _, err := h.jobRepo.CancelByRun(r.Context(), run.ID); err != nil {
		h.logger.Error("failed to cancel run jobs", "run_id", run.ID, "error", err)
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunCancelled(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.cancelled", "run_id", run.ID, "error", err)
		}
	}

	h.logger.Info("run cancelled by user", "run_id", run.ID)

	Success(w, RunFromDomain(*run))
}

// ListRunJobs возвращает jobs run.
// GET /api/v1/runs/{id}/jobs
func (h *Handler) ListRunJobs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	// Проверяем, что run существует
	_, err = h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	jobs, err := h.jobRepo.ListByRun(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		result[i] = JobFromDomain(j)
	}

	List(w, result, len(result))
}

// ListRunAnnotations возвращает аннотации run.
// GET /api/v1/runs/{id}/annotations
func (h *Handler) ListRunAnnotations(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	// Проверяем, что run существует
	_, err = h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	annotations, err := h.annotationRepo.ListByRun(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]AnnotationResponse, len(annotations))
	for i, a := range annotations {
		result[i] = AnnotationFromDomain(a)
	}

	List(w, result, len(result))
}

// GetJob возвращает job по ID.
// GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	Success(w, JobFromDomain(*job))
}

// publishRunPending отправляет run оркестратору. Сбой публикации
// не фатален: оркестратор подхватит PENDING run через polling.
func (h *Handler) publishRunPending(ctx context.Context, runID uuid.UUID) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishRunPending(ctx, runID); err != nil {
		h.logger.Warn("failed to publish run.pending", "run_id", runID, "error", err)
	}
}

// parseIntOr парсит строку в int с дефолтным значением.
func parseIntOr(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
