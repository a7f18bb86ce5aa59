package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	scheduleRepo *repo.ScheduleRepo
	runRepo      *repo.RunRepo
	pipelineRepo *repo.PipelineRepo
	publisher    *mq.Publisher
	logger       *slog.Logger
	batchSize    int
}

// Config — конфигурация Scheduler.
type Config struct {
	ScheduleRepo *repo.ScheduleRepo
	RunRepo      *repo.RunRepo
	PipelineRepo *repo.PipelineRepo
	Publisher    *mq.Publisher
	Logger       *slog.Logger
	BatchSize    int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Scheduler{
		scheduleRepo: cfg.ScheduleRepo,
		runRepo:      cfg.RunRepo,
		pipelineRepo: cfg.PipelineRepo,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger,
		batchSize:    batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule создаёт run
// 3. Обновляет next_due_at
// 4. Публикует run.pending в RabbitMQ
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := s.scheduleRepo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		runCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}

		processed++
		if runCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"runs_created", created,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если run был создан.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	// 1. Проверяем, что pipeline существует и имеет версии
	version, err := s.pipelineRepo.GetLatestVersion(ctx, sched.PipelineID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("pipeline not found for schedule, skipping",
				"schedule_id", sched.ID,
				"pipeline_id", sched.PipelineID,
			)
			// Не возвращаем ошибку — просто пропускаем
			return false, nil
		}
		return false, fmt.Errorf("get latest pipeline version: %w", err)
	}

	pipeline, err := s.pipelineRepo.GetByID(ctx, sched.PipelineID)
	if err != nil {
		return false, fmt.Errorf("get pipeline: %w", err)
	}

	// 2. Создаём run с событием "schedule".
	// Path-фильтры к таким runs не применяются.
	trigger := domain.TriggerEvent{
		Event: domain.EventSchedule,
		Ref:   scheduleRef(sched, &version.Spec),
	}

	run := &domain.Run{
		ID:         uuid.New(),
		PipelineID: sched.PipelineID,
		Version:    version.Version,
		Status:     domain.RunStatusPending,
		Trigger:    trigger,
		GroupKey:   engine.GroupKey(&version.Spec, pipeline.Name, trigger),
		CreatedAt:  now,
	}

	if err := s.runRepo.Create(ctx, run); err != nil {
		return false, fmt.Errorf("create run: %w", err)
	}

	s.logger.Info("created run from schedule",
		"run_id", run.ID,
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"pipeline_id", sched.PipelineID,
		"ref", trigger.Ref,
		"version", version.Version,
	)

	// 3. Вычисляем следующее время выполнения
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due",
			"schedule_id", sched.ID,
			"error", err,
		)
		// Schedule некорректный — лучше не трогать next_due_at
		return true, nil
	}

	// 4. Обновляем schedule
	sched.RecordRun(run.ID, nextDue)
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return true, fmt.Errorf("update schedule: %w", err)
	}

	// 5. Публикуем событие в RabbitMQ (если publisher настроен)
	if s.publisher != nil {
		if err := s.publisher.PublishRunPending(ctx, run.ID); err != nil {
			// Не фатальная ошибка — run уже создан в БД.
			// Orchestrator может забрать его через polling.
			s.logger.Warn("failed to publish run.pending",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	return true, nil
}

// scheduleRef выбирает ref для запланированного run.
// Если у schedule ref не задан, используется защищённый ref pipeline.
func scheduleRef(sched *domain.Schedule, spec *domain.PipelineSpec) string {
	if sched.Ref != "" {
		return sched.Ref
	}
	if spec.Concurrency != nil && len(spec.Concurrency.ProtectedRefs) > 0 {
		return spec.Concurrency.ProtectedRefs[0]
	}
	return "main"
}
