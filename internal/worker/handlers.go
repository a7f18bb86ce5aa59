package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/steps"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// handleJobReady обрабатывает событие о готовом job из очереди jobs.ready.
func (w *Worker) handleJobReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobReadyPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse job.ready payload", "error", err)
		return err
	}

	w.logger.Debug("received job.ready event",
		"job_id", payload.JobID,
		"run_id", payload.RunID,
	)

	if err := w.processJob(ctx, payload.JobID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrJobNotPending) {
			w.logger.Debug("job not processed", "job_id", payload.JobID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process job", "job_id", payload.JobID, "error", err)
		return err
	}

	return nil
}

// handleRunCancelled обрабатывает fanout-событие отмены run:
// прерывает все выполняющиеся jobs этого run на данном воркере.
func (w *Worker) handleRunCancelled(_ context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunCancelledPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse run.cancelled payload", "error", err)
		return err
	}

	cancelled := w.cancelRunJobs(payload.RunID)
	if cancelled > 0 {
		w.logger.Info("run cancellation received, jobs interrupted",
			"run_id", payload.RunID,
			"jobs", cancelled,
		)
	}
	return nil
}

// processJob загружает job из БД, выполняет его шаги и публикует результат.
func (w *Worker) processJob(ctx context.Context, jobID uuid.UUID) error {
	// 1. Загружаем job из БД
	job, err := w.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return fmt.Errorf("get job: %w", err)
	}

	// 2. Проверяем статус (другой воркер мог уже забрать job)
	if job.Outcome != domain.JobOutcomePending {
		return ErrJobNotPending
	}

	// 3. Атомарно забираем job: PENDING → RUNNING. Ноль строк — job
	// взял другой воркер или run уже отменён
	job.MarkRunning()
	if err := w.jobRepo.Claim(ctx, job); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return ErrJobNotPending
		}
		return fmt.Errorf("claim job: %w", err)
	}

	w.logger.Info("job started",
		"job_id", job.ID,
		"run_id", job.RunID,
		"job", job.Name,
		"steps", len(job.Def.Steps),
	)

	// 4. Регистрируем job для отмены по run.cancelled
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.trackJob(job.ID, job.RunID, cancel)
	defer w.untrackJob(job.ID)

	// 5. Выполняем шаги
	result := w.runJob(jobCtx, job, w.loadRepoInfo(ctx, job))

	// 6. Обрабатываем результат.
	// Отмена: run уже суперсиднут, jobs отменены оркестратором в БД.
	if result.Cancelled {
		job.MarkCancelled()
		job.Steps = result.Steps
		if err := w.jobRepo.Update(ctx, job); err != nil {
			return fmt.Errorf("update job to cancelled: %w", err)
		}

		telemetry.JobsCompleted.WithLabelValues(string(job.Outcome)).Inc()
		w.logger.Info("job cancelled",
			"job_id", job.ID,
			"run_id", job.RunID,
			"job", job.Name,
		)

		return w.publishCompletion(ctx, job, nil)
	}

	if !result.Failed {
		job.MarkSuccess(result.Steps)
		ok, err := w.completeJob(ctx, job)
		if err != nil {
			return fmt.Errorf("update job to success: %w", err)
		}
		if !ok {
			return nil
		}

		telemetry.JobsCompleted.WithLabelValues(string(job.Outcome)).Inc()
		telemetry.JobDuration.Observe(job.Duration().Seconds())
		w.logger.Info("job succeeded",
			"job_id", job.ID,
			"run_id", job.RunID,
			"job", job.Name,
			"duration", job.Duration(),
		)

		return w.publishCompletion(ctx, job, result.Annotations)
	}

	job.MarkFailure(result.Steps, result.ErrMsg, result.Soft)
	ok, err := w.completeJob(ctx, job)
	if err != nil {
		return fmt.Errorf("update job to failure: %w", err)
	}
	if !ok {
		return nil
	}

	telemetry.JobsCompleted.WithLabelValues(string(job.Outcome)).Inc()
	telemetry.JobDuration.Observe(job.Duration().Seconds())
	w.logger.Warn("job failed",
		"job_id", job.ID,
		"run_id", job.RunID,
		"job", job.Name,
		"soft_failed", result.Soft,
		"error", result.ErrMsg,
	)

	return w.publishCompletion(ctx, job, result.Annotations)
}

// completeJob записывает терминальный вердикт job в БД.
// Возвращает false, если job успели отменить в БД, пока шли шаги
// (отмена пришла из другого процесса, broadcast до воркера не дошёл):
// вердикт отброшен, job.completed не публикуется.
func (w *Worker) completeJob(ctx context.Context, job *domain.Job) (bool, error) {
	err := w.jobRepo.Complete(ctx, job)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repo.ErrInvalidState) {
		telemetry.JobsCompleted.WithLabelValues(string(domain.JobOutcomeCancelled)).Inc()
		w.logger.Info("job cancelled in database, verdict dropped",
			"job_id", job.ID,
			"run_id", job.RunID,
			"job", job.Name,
			"verdict", job.Outcome,
		)
		return false, nil
	}
	return false, err
}

// publishCompletion публикует событие job.completed.
func (w *Worker) publishCompletion(ctx context.Context, job *domain.Job, annotations []domain.Annotation) error {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping job.completed publish",
			"job_id", job.ID,
		)
		return nil
	}

	payload := mq.JobCompletedPayload{
		JobID:       job.ID,
		RunID:       job.RunID,
		JobName:     job.Name,
		Outcome:     job.Outcome,
		SoftFailed:  job.SoftFailed,
		Error:       job.Error,
		Annotations: annotations,
		Steps:       job.Steps,
	}

	if err := w.publisher.PublishJobCompleted(ctx, payload); err != nil {
		w.logger.Warn("failed to publish job.completed",
			"job_id", job.ID,
			"error", err,
		)
		// Не возвращаем ошибку — job обновлён в БД, оркестратор подхватит через polling
	}

	return nil
}

// loadRepoInfo собирает координаты исходников для checkout-шагов.
// Repo URL хранится в спецификации pipeline, ref и коммит — в триггере run.
// Любой сбой загрузки не фатален: checkout сам вернёт ErrNoRepo.
func (w *Worker) loadRepoInfo(ctx context.Context, job *domain.Job) steps.RepoInfo {
	run, err := w.runRepo.GetByID(ctx, job.RunID)
	if err != nil {
		w.logger.Debug("failed to load run for repo info", "run_id", job.RunID, "error", err)
		return steps.RepoInfo{}
	}

	info := steps.RepoInfo{
		Ref:    run.Trigger.Ref,
		Commit: run.Trigger.Commit,
	}

	version, err := w.pipelineRepo.GetVersion(ctx, run.PipelineID, run.Version)
	if err != nil {
		w.logger.Debug("failed to load pipeline version for repo info",
			"pipeline_id", run.PipelineID,
			"version", run.Version,
			"error", err,
		)
		return info
	}

	info.URL = version.Spec.Repo
	return info
}
