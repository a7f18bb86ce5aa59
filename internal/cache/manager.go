package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Store — хранилище кэш-архивов по ключу.
// Реализуется repo.CacheRepo.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, blob []byte) error
}

// Manager восстанавливает и сохраняет кэш job.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager создаёт менеджер кэша.
func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// Restore восстанавливает кэш в workspace перед шагами job.
// Промах и любой сбой — не ошибка: job просто стартует с пустым кэшем.
// Возвращает true, если кэш был восстановлен.
func (m *Manager) Restore(ctx context.Context, job *domain.Job, workDir string) bool {
	def := job.Def.Cache
	if def == nil || def.Key == "" {
		return false
	}

	blob, err := m.store.Get(ctx, def.Key)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			telemetry.CacheOperations.WithLabelValues("restore", "miss").Inc()
			m.logger.Debug("cache miss", "key", def.Key, "job", job.Name)
		} else {
			telemetry.CacheOperations.WithLabelValues("restore", "error").Inc()
			m.logger.Warn("cache restore failed", "key", def.Key, "job", job.Name, "error", err)
		}
		return false
	}

	if err := unpackPaths(workDir, blob); err != nil {
		telemetry.CacheOperations.WithLabelValues("restore", "error").Inc()
		m.logger.Warn("cache unpack failed", "key", def.Key, "job", job.Name, "error", err)
		return false
	}

	telemetry.CacheOperations.WithLabelValues("restore", "hit").Inc()
	m.logger.Info("cache restored",
		"key", def.Key,
		"job", job.Name,
		"size_bytes", len(blob),
	)
	return true
}

// Save сохраняет кэшируемые пути workspace после успешного job.
// Запись происходит только если run имеет право писать кэш
// (Job.CacheWrite, выставляется Orchestrator'ом для защищённых веток).
// Сбой сохранения не влияет на вердикт job.
func (m *Manager) Save(ctx context.Context, job *domain.Job, workDir string) {
	def := job.Def.Cache
	if def == nil || def.Key == "" {
		return
	}

	if !job.CacheWrite {
		m.logger.Debug("cache write skipped, restore-only run", "key", def.Key, "job", job.Name)
		return
	}

	blob, err := packPaths(workDir, def.Paths)
	if err != nil {
		telemetry.CacheOperations.WithLabelValues("save", "error").Inc()
		m.logger.Warn("cache pack failed", "key", def.Key, "job", job.Name, "error", err)
		return
	}

	if err := m.store.Put(ctx, def.Key, blob); err != nil {
		telemetry.CacheOperations.WithLabelValues("save", "error").Inc()
		m.logger.Warn("cache save failed", "key", def.Key, "job", job.Name, "error", err)
		return
	}

	telemetry.CacheOperations.WithLabelValues("save", "ok").Inc()
	m.logger.Info("cache saved",
		"key", def.Key,
		"job", job.Name,
		"size_bytes", len(blob),
	)
}
