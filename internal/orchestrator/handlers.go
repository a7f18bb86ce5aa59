package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// handleRunPending обрабатывает событие о новом pending run.
func (o *Orchestrator) handleRunPending(ctx context.Context, delivery *mq.Delivery) error {
	// Парсим payload
	payload, err := mq.ParsePayload[mq.RunPendingPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run.pending payload", "error", err)
		return err
	}

	o.logger.Debug("received run.pending event", "run_id", payload.RunID)

	// Проверяем, не обрабатывается ли уже
	if o.isRunActive(payload.RunID) {
		o.logger.Debug("run already active, skipping", "run_id", payload.RunID)
		return nil
	}

	// Обрабатываем run
	if err := o.processRun(ctx, payload.RunID); err != nil {
		// Логируем, но не возвращаем ошибку для некоторых случаев
		if errors.Is(err, ErrRunNotPending) || errors.Is(err, ErrRunAlreadyActive) {
			o.logger.Debug("run not processed", "run_id", payload.RunID, "reason", err)
			return nil
		}
		o.logger.Error("failed to process run", "run_id", payload.RunID, "error", err)
		return err
	}

	return nil
}

// handleJobCompleted обрабатывает событие о завершённом job.
func (o *Orchestrator) handleJobCompleted(ctx context.Context, delivery *mq.Delivery) error {
	// Парсим payload
	payload, err := mq.ParsePayload[mq.JobCompletedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse job.completed payload", "error", err)
		return err
	}

	o.logger.Debug("received job.completed event",
		"job_id", payload.JobID,
		"run_id", payload.RunID,
		"job", payload.JobName,
		"outcome", payload.Outcome,
	)

	// Обрабатываем завершение job
	if err := o.processJobCompleted(ctx, payload); err != nil {
		o.logger.Error("failed to process job completion",
			"job_id", payload.JobID,
			"run_id", payload.RunID,
			"error", err,
		)
		return err
	}

	return nil
}

// processRun обрабатывает новый run.
func (o *Orchestrator) processRun(ctx context.Context, runID uuid.UUID) error {
	// 1. Загружаем run из БД
	run, err := o.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	// 2. Проверяем статус
	if run.Status != domain.RunStatusPending {
		return ErrRunNotPending
	}

	// 3. Загружаем версию pipeline
	version, err := o.pipelineRepo.GetVersion(ctx, run.PipelineID, run.Version)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return o.failRun(ctx, run, fmt.Sprintf("pipeline version not found: %s v%d", run.PipelineID, run.Version))
		}
		return fmt.Errorf("get pipeline version: %w", err)
	}

	// 4. Контроль группы конкурентности: новый run суперсидит предыдущие
	if err := o.supersedePriorRuns(ctx, run, &version.Spec); err != nil {
		// Ошибка суперседе не блокирует новый run
		o.logger.Error("concurrency group control failed",
			"run_id", runID,
			"group_key", run.GroupKey,
			"error", err,
		)
	}

	// 5. Создаём и инициализируем RunState (валидация, job-граф)
	state := NewRunState(run, version)
	if err := state.Initialize(); err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("initialization failed: %v", err))
	}

	// 6. Добавляем в активные runs
	if err := o.addActiveRun(state); err != nil {
		return err
	}

	// 7. Переводим run в RUNNING. Ноль строк — run отменили через API,
	// пока мы готовили граф
	run.MarkRunning()
	if err := o.runRepo.UpdateActive(ctx, run); err != nil {
		o.removeActiveRun(runID)
		if errors.Is(err, repo.ErrInvalidState) {
			o.logger.Debug("run no longer active, not starting", "run_id", runID)
			return nil
		}
		return fmt.Errorf("update run to running: %w", err)
	}

	o.logger.Info("run started",
		"run_id", runID,
		"pipeline_id", run.PipelineID,
		"version", run.Version,
		"group_key", run.GroupKey,
		"jobs", state.DAG.Size(),
	)

	// 8. Диспатчим jobs без зависимостей
	if err := o.dispatchReadyJobs(ctx, state); err != nil {
		o.logger.Error("failed to dispatch initial jobs", "run_id", runID, "error", err)
		// Не удаляем из активных — попробуем при следующем событии
	}

	return nil
}

// processJobCompleted обрабатывает завершение job.
func (o *Orchestrator) processJobCompleted(ctx context.Context, payload mq.JobCompletedPayload) error {
	// 1. Получаем активный RunState
	state := o.getActiveRun(payload.RunID)

	// Если run не в памяти, пытаемся восстановить
	if state == nil {
		var err error
		state, err = o.restoreRunState(ctx, payload.RunID)
		if err != nil {
			return fmt.Errorf("restore run state: %w", err)
		}
		if state == nil {
			// Run завершён или отменён — событие опоздало
			o.logger.Debug("run not active and cannot restore", "run_id", payload.RunID)
			return nil
		}
	}

	// Отменённый run не получает ни вердикта, ни аннотаций
	if state.Run.Status == domain.RunStatusCancelled {
		o.logger.Debug("ignoring job completion for cancelled run",
			"run_id", payload.RunID,
			"job", payload.JobName,
		)
		return nil
	}

	// Память может отставать от БД: отменить run мог другой процесс
	// (API, соседний оркестратор). Сверяемся со статусом в БД, прежде
	// чем писать аннотации и диспатчить дальше.
	current, err := o.runRepo.GetByID(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			o.removeActiveRun(payload.RunID)
			return nil
		}
		return fmt.Errorf("get run: %w", err)
	}
	if current.Status.IsTerminal() {
		o.logger.Debug("run finished in database, dropping state",
			"run_id", payload.RunID,
			"status", current.Status,
		)
		o.removeActiveRun(payload.RunID)
		return nil
	}

	// 2. Сохраняем аннотации tolerated-шагов (Reporter)
	if err := o.persistAnnotations(ctx, payload); err != nil {
		return fmt.Errorf("persist annotations: %w", err)
	}

	// 3. Обновляем состояние узла
	name := payload.JobName

	switch payload.Outcome {
	case domain.JobOutcomeSuccess:
		state.MarkJobCompleted(name)
		o.logger.Debug("job completed",
			"run_id", payload.RunID,
			"job", name,
		)

	case domain.JobOutcomeFailure:
		state.MarkJobFailed(name, payload.SoftFailed)
		o.logger.Warn("job failed",
			"run_id", payload.RunID,
			"job", name,
			"soft", payload.SoftFailed,
			"error", payload.Error,
		)

	case domain.JobOutcomeCancelled:
		// Отмена учитывается при финализации, jobs не перезапускаются
		state.MarkJobSkipped(name)

	default:
		return fmt.Errorf("unexpected job outcome %q for %s", payload.Outcome, name)
	}

	// 4. Пропускаем jobs, чьи зависимости упали
	if err := o.skipDeadJobs(ctx, state); err != nil {
		return fmt.Errorf("skip dead jobs: %w", err)
	}

	// 5. Проверяем завершение run
	if state.IsComplete() {
		return o.completeRun(ctx, state)
	}

	// 6. Диспатчим следующие готовые jobs
	return o.dispatchReadyJobs(ctx, state)
}

// dispatchReadyJobs создаёт jobs для готовых узлов и публикует их.
func (o *Orchestrator) dispatchReadyJobs(ctx context.Context, state *RunState) error {
	ready := state.GetReadyJobs()

	if len(ready) == 0 {
		return nil
	}

	o.logger.Debug("dispatching ready jobs",
		"run_id", state.RunID(),
		"count", len(ready),
	)

	for _, node := range ready {
		if err := o.dispatchJob(ctx, state, node); err != nil {
			o.logger.Error("failed to dispatch job",
				"run_id", state.RunID(),
				"job", node.Name,
				"error", err,
			)
			// Продолжаем с другими jobs
		}
	}

	return nil
}

// dispatchJob создаёт job для узла и публикует его воркерам.
func (o *Orchestrator) dispatchJob(ctx context.Context, state *RunState, node *engine.Node) error {
	run := state.Run
	spec := &state.Version.Spec

	job := &domain.Job{
		ID:         uuid.New(),
		RunID:      run.ID,
		Name:       node.Name,
		Template:   node.Template,
		Variant:    node.Variant,
		Needs:      dependencyNames(node),
		SoftFail:   node.Def.SoftFail,
		Outcome:    domain.JobOutcomePending,
		Def:        expandJobDef(node.Def, spec, run),
		CacheWrite: cacheWriteAllowed(spec, run),
		CreatedAt:  time.Now(),
	}

	// Сохраняем в БД: PENDING-запись видна polling-фоллбэку воркеров
	if err := o.jobRepo.Create(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	// Помечаем узел как диспатченный
	state.MarkJobRunning(node.Name, job)

	// Публикуем событие для Worker
	if o.publisher != nil {
		if err := o.publisher.PublishJobReady(ctx, job.ID, job.RunID); err != nil {
			o.logger.Warn("failed to publish job.ready",
				"job_id", job.ID,
				"run_id", state.RunID(),
				"error", err,
			)
			// Job создан в БД — Worker может забрать через polling
		}
	}

	o.logger.Debug("job dispatched",
		"job_id", job.ID,
		"run_id", state.RunID(),
		"job", node.Name,
	)

	return nil
}

// skipDeadJobs помечает SKIPPED узлы, зависимости которых упали.
// Такие jobs получают запись в БД, но шаги не выполняются.
func (o *Orchestrator) skipDeadJobs(ctx context.Context, state *RunState) error {
	for _, node := range state.NewlySkipped() {
		job := &domain.Job{
			ID:        uuid.New(),
			RunID:     state.RunID(),
			Name:      node.Name,
			Template:  node.Template,
			Variant:   node.Variant,
			Needs:     dependencyNames(node),
			SoftFail:  node.Def.SoftFail,
			CreatedAt: time.Now(),
		}
		job.MarkSkipped()

		if err := o.jobRepo.Create(ctx, job); err != nil {
			return fmt.Errorf("create skipped job %s: %w", node.Name, err)
		}

		state.MarkJobSkipped(node.Name)
		state.SetJob(node.Name, job)

		o.logger.Info("job skipped: dependency failed",
			"run_id", state.RunID(),
			"job", node.Name,
		)
	}
	return nil
}

// persistAnnotations сохраняет аннотации из payload завершённого job.
func (o *Orchestrator) persistAnnotations(ctx context.Context, payload mq.JobCompletedPayload) error {
	for i := range payload.Annotations {
		a := payload.Annotations[i]

		// Атрибуция: аннотация всегда привязана к run, job и шагу
		a.RunID = payload.RunID
		a.JobID = payload.JobID
		if a.JobName == "" {
			a.JobName = payload.JobName
		}
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}

		if err := o.annotationRepo.Create(ctx, &a); err != nil {
			return fmt.Errorf("create annotation for %s/%s: %w", payload.JobName, a.StepID, err)
		}

		o.logger.Info("annotation recorded",
			"run_id", payload.RunID,
			"job", payload.JobName,
			"step_id", a.StepID,
			"severity", a.Severity,
		)
	}
	return nil
}

// restoreRunState восстанавливает RunState из БД.
// Используется когда job.completed приходит для run, которого нет в памяти
// (после рестарта Orchestrator).
func (o *Orchestrator) restoreRunState(ctx context.Context, runID uuid.UUID) (*RunState, error) {
	// Загружаем run
	run, err := o.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil // Run не существует
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	// Если run уже завершён — ничего не делаем
	if run.IsFinished() {
		return nil, nil
	}

	// Загружаем версию pipeline
	version, err := o.pipelineRepo.GetVersion(ctx, run.PipelineID, run.Version)
	if err != nil {
		return nil, fmt.Errorf("get pipeline version: %w", err)
	}

	// Создаём и инициализируем state
	state := NewRunState(run, version)
	if err := state.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize state: %w", err)
	}

	// Загружаем jobs и восстанавливаем состояние
	jobs, err := o.jobRepo.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	state.RestoreFromJobs(jobs)

	// Добавляем в активные
	if err := o.addActiveRun(state); err != nil {
		if errors.Is(err, ErrRunAlreadyActive) {
			// Кто-то уже восстановил — возвращаем его
			return o.getActiveRun(runID), nil
		}
		return nil, err
	}

	o.logger.Info("run state restored",
		"run_id", runID,
		"stats", state.Stats(),
	)

	return state, nil
}

// --- Helpers ---

// dependencyNames возвращает полные имена зависимостей узла.
func dependencyNames(node *engine.Node) []string {
	if len(node.DependsOn) == 0 {
		return nil
	}
	names := make([]string, 0, len(node.DependsOn))
	for _, dep := range node.DependsOn {
		names = append(names, dep.Name)
	}
	return names
}

// expandJobDef готовит определение job к отправке воркеру:
// подставляет переменные run (${branch}, ${commit}, ...) в команды,
// env и ключ кэша, и накладывает pipeline-env под job-env.
func expandJobDef(def *domain.JobDef, spec *domain.PipelineSpec, run *domain.Run) domain.JobDef {
	vars := engine.RunVars(spec.Name, run.Trigger)

	out := *def

	// pipeline env — основа, job env — поверх
	env := make(map[string]string, len(spec.Env)+len(def.Env))
	for k, v := range spec.Env {
		env[k] = engine.Expand(v, vars)
	}
	for k, v := range def.Env {
		env[k] = engine.Expand(v, vars)
	}
	if len(env) > 0 {
		out.Env = env
	}

	out.Steps = make([]domain.StepDef, len(def.Steps))
	copy(out.Steps, def.Steps)
	for i := range out.Steps {
		out.Steps[i].Run = engine.Expand(out.Steps[i].Run, vars)
		if len(out.Steps[i].Env) > 0 {
			stepEnv := make(map[string]string, len(out.Steps[i].Env))
			for k, v := range out.Steps[i].Env {
				stepEnv[k] = engine.Expand(v, vars)
			}
			out.Steps[i].Env = stepEnv
		}
	}

	if def.Cache != nil {
		cache := *def.Cache
		cache.Key = engine.Expand(cache.Key, vars)
		out.Cache = &cache
	}

	return out
}

// cacheWriteAllowed: кэш пишут только runs на защищённом ref.
// Остальные работают в режиме restore-only.
func cacheWriteAllowed(spec *domain.PipelineSpec, run *domain.Run) bool {
	cc := spec.Concurrency
	if cc == nil {
		cc = &domain.ConcurrencyDef{}
	}
	return cc.IsProtected(run.Trigger.Ref)
}
