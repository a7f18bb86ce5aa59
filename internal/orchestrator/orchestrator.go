package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// Хранилища описаны узкими интерфейсами по месту использования;
// в проде их реализуют repo.*Repo и mq.Publisher.

type runStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	UpdateActive(ctx context.Context, run *domain.Run) error
	ListPending(ctx context.Context, limit int) ([]domain.Run, error)
	ListActiveByGroupKey(ctx context.Context, groupKey string, excludeID uuid.UUID) ([]domain.Run, error)
}

type jobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	CancelByRun(ctx context.Context, runID uuid.UUID) (int64, error)
	ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Job, error)
}

type pipelineStore interface {
	GetVersion(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineVersion, error)
}

type annotationStore interface {
	Create(ctx context.Context, a *domain.Annotation) error
}

type eventPublisher interface {
	PublishJobReady(ctx context.Context, jobID, runID uuid.UUID) error
	PublishRunCancelled(ctx context.Context, runID uuid.UUID) error
}

// Orchestrator управляет выполнением runs.
//
// Orchestrator — центральный компонент системы, который:
//   - Получает новые runs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет pending runs в БД (polling fallback)
//   - Решает судьбу предыдущих runs той же группы конкурентности
//   - Разворачивает job-граф и создаёт jobs
//   - Диспатчит готовые jobs воркерам
//   - Финализирует runs (SUCCEEDED/FAILED)
type Orchestrator struct {
	// Repositories
	runRepo        runStore
	jobRepo        jobStore
	pipelineRepo   pipelineStore
	annotationRepo annotationStore

	// MQ
	publisher eventPublisher
	conn      *mq.Connection

	// Active runs — runs в процессе выполнения (runID → state)
	activeRuns map[uuid.UUID]*RunState
	mu         sync.RWMutex

	// Consumers
	runConsumer *mq.Consumer
	jobConsumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Repositories
	RunRepo        *repo.RunRepo
	JobRepo        *repo.JobRepo
	PipelineRepo   *repo.PipelineRepo
	AnnotationRepo *repo.AnnotationRepo

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 100)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		runRepo:        cfg.RunRepo,
		jobRepo:        cfg.JobRepo,
		pipelineRepo:   cfg.PipelineRepo,
		annotationRepo: cfg.AnnotationRepo,
		conn:           cfg.Conn,
		activeRuns:     make(map[uuid.UUID]*RunState),
		pollInterval:   pollInterval,
		batchSize:      batchSize,
		logger:         logger,
	}
	// Нулевой *mq.Publisher в интерфейсном поле не должен проходить
	// проверку publisher != nil
	if cfg.Publisher != nil {
		o.publisher = cfg.Publisher
	}
	return o
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для runs.pending
//   - Consumer для jobs.completed
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
	)

	// Создаём consumers
	o.runConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueRunsPending),
		Handler:  o.handleRunPending,
		Prefetch: 10,
	})

	o.jobConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueJobsCompleted),
		Handler:  o.handleJobCompleted,
		Prefetch: 10,
	})

	// Запускаем run consumer
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.runConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("run consumer error", "error", err)
		}
	}()

	// Запускаем job consumer
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.jobConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("job consumer error", "error", err)
		}
	}()

	// Запускаем polling
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	// Останавливаем consumers
	if o.runConsumer != nil {
		o.runConsumer.Stop()
	}
	if o.jobConsumer != nil {
		o.jobConsumer.Stop()
	}

	// Ждём завершения горутин
	o.wg.Wait()

	o.logger.Info("orchestrator stopped",
		"active_runs", len(o.activeRuns),
	)
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (o *Orchestrator) poll(ctx context.Context) {
	runs, err := o.runRepo.ListPending(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list pending runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	o.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		run := &runs[i]

		// Проверяем, не обрабатывается ли уже
		if o.isRunActive(run.ID) {
			continue
		}

		// Обрабатываем run
		if err := o.processRun(ctx, run.ID); err != nil {
			o.logger.Error("failed to process run from poll",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
}

// isRunActive проверяет, находится ли run в обработке.
func (o *Orchestrator) isRunActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeRuns[runID]
	return exists
}

// getActiveRun возвращает активный RunState.
func (o *Orchestrator) getActiveRun(runID uuid.UUID) *RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeRuns[runID]
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(state *RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[state.RunID()]; exists {
		return ErrRunAlreadyActive
	}

	o.activeRuns[state.RunID()] = state
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// GetActiveRunStats возвращает статистику по активному run.
func (o *Orchestrator) GetActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	state, exists := o.activeRuns[runID]
	if !exists {
		return RunStats{}, false
	}

	return state.Stats(), true
}
