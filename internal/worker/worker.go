package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/steps"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 10

	// Jobs длинные (минуты), воркер забирает из очереди по одному.
	defaultPrefetch = 1
)

// Хранилища описаны узкими интерфейсами по месту использования;
// в проде их реализуют repo.*Repo и mq.Publisher.

type jobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	Claim(ctx context.Context, job *domain.Job) error
	Update(ctx context.Context, job *domain.Job) error
	Complete(ctx context.Context, job *domain.Job) error
	ListPending(ctx context.Context, limit int) ([]domain.Job, error)
}

type runStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
}

type pipelineStore interface {
	GetVersion(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineVersion, error)
}

type completionPublisher interface {
	PublishJobCompleted(ctx context.Context, payload mq.JobCompletedPayload) error
}

// Worker выполняет jobs: шаг за шагом, в изолированном workspace.
type Worker struct {
	// Repositories
	jobRepo      jobStore
	runRepo      runStore
	pipelineRepo pipelineStore

	// Cache
	cache *cache.Manager

	// MQ
	publisher completionPublisher
	conn      *mq.Connection

	// Step registry
	registry *steps.Registry

	// Consumers
	jobConsumer    *mq.Consumer
	cancelConsumer *mq.Consumer

	// Выполняющиеся jobs: job ID → cancel. Нужно, чтобы fanout-событие
	// run.cancelled прервало jobs именно этого run.
	running   map[uuid.UUID]*runningJob
	runningMu sync.Mutex

	// Configuration
	pollInterval time.Duration
	batchSize    int
	workDirRoot  string

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// runningJob — выполняющийся job и его cancel.
type runningJob struct {
	runID  uuid.UUID
	cancel context.CancelFunc
}

// Config — конфигурация Worker.
type Config struct {
	// Repositories
	JobRepo      *repo.JobRepo
	RunRepo      *repo.RunRepo
	PipelineRepo *repo.PipelineRepo

	// Cache manager (опционально; если nil — кэш отключён)
	Cache *cache.Manager

	// MQ (Conn nil — polling-only режим)
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Step registry (опционально; если nil — steps.DefaultRegistry())
	Registry *steps.Registry

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество jobs за один poll (default: 10)

	// WorkDirRoot — корень для workspace jobs (default: os.TempDir()).
	WorkDirRoot string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
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

	registry := cfg.Registry
	if registry == nil {
		registry = steps.DefaultRegistry()
	}

	w := &Worker{
		jobRepo:      cfg.JobRepo,
		runRepo:      cfg.RunRepo,
		pipelineRepo: cfg.PipelineRepo,
		cache:        cfg.Cache,
		conn:         cfg.Conn,
		registry:     registry,
		running:      make(map[uuid.UUID]*runningJob),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		workDirRoot:  cfg.WorkDirRoot,
		logger:       logger,
	}
	// Нулевой *mq.Publisher в интерфейсном поле не должен проходить
	// проверку publisher != nil
	if cfg.Publisher != nil {
		w.publisher = cfg.Publisher
	}
	return w
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для jobs.ready
//   - Consumer отмен (эксклюзивная очередь, привязанная к fanout)
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
	)

	if w.conn != nil {
		w.jobConsumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueJobsReady),
			Handler:  w.handleJobReady,
			Prefetch: defaultPrefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.jobConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("job consumer error", "error", err)
			}
		}()

		if err := w.startCancelConsumer(ctx); err != nil {
			w.logger.Error("failed to start cancel consumer, cancellations degraded", "error", err)
		}
	} else {
		w.logger.Warn("mq connection not available, running in polling-only mode")
	}

	// Запускаем polling
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// startCancelConsumer объявляет эксклюзивную очередь воркера,
// привязанную к fanout-обменнику отмен, и запускает consumer.
func (w *Worker) startCancelConsumer(ctx context.Context) error {
	queue, err := mq.DeclareCancelQueue(ctx, w.conn)
	if err != nil {
		return err
	}

	w.cancelConsumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:   queue,
		Handler: w.handleRunCancelled,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.cancelConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("cancel consumer error", "error", err)
		}
	}()

	return nil
}

// Stop останавливает Worker. Выполняющиеся jobs прерываются.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.jobConsumer != nil {
		w.jobConsumer.Stop()
	}
	if w.cancelConsumer != nil {
		w.cancelConsumer.Stop()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// RunningJobs возвращает количество выполняющихся jobs.
func (w *Worker) RunningJobs() int {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()
	return len(w.running)
}

// trackJob регистрирует выполняющийся job для отмены по run.
func (w *Worker) trackJob(jobID, runID uuid.UUID, cancel context.CancelFunc) {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()
	w.running[jobID] = &runningJob{runID: runID, cancel: cancel}
}

// untrackJob снимает job с учёта.
func (w *Worker) untrackJob(jobID uuid.UUID) {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()
	delete(w.running, jobID)
}

// cancelRunJobs прерывает все выполняющиеся jobs данного run.
// Возвращает количество прерванных jobs.
func (w *Worker) cancelRunJobs(runID uuid.UUID) int {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()

	cancelled := 0
	for _, rj := range w.running {
		if rj.runID == runID {
			rj.cancel()
			cancelled++
		}
	}
	return cancelled
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем jobs, созданные пока были выключены)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	jobs, err := w.jobRepo.ListPending(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list pending jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	w.logger.Debug("poll found pending jobs", "count", len(jobs))

	for i := range jobs {
		job := &jobs[i]

		if err := w.processJob(ctx, job.ID); err != nil {
			if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrJobNotPending) {
				continue
			}
			w.logger.Error("failed to process job from poll",
				"job_id", job.ID,
				"error", err,
			)
		}
	}
}
