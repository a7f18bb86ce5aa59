package api

import (
	"log/slog"

	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	pipelineRepo   *repo.PipelineRepo
	runRepo        *repo.RunRepo
	jobRepo        *repo.JobRepo
	annotationRepo *repo.AnnotationRepo
	scheduleRepo   *repo.ScheduleRepo
	cacheRepo      *repo.CacheRepo
	publisher      *mq.Publisher
	logger         *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	PipelineRepo   *repo.PipelineRepo
	RunRepo        *repo.RunRepo
	JobRepo        *repo.JobRepo
	AnnotationRepo *repo.AnnotationRepo
	ScheduleRepo   *repo.ScheduleRepo
	CacheRepo      *repo.CacheRepo
	Publisher      *mq.Publisher
	Logger         *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		pipelineRepo:   cfg.PipelineRepo,
		runRepo:        cfg.RunRepo,
		jobRepo:        cfg.JobRepo,
		annotationRepo: cfg.AnnotationRepo,
		scheduleRepo:   cfg.ScheduleRepo,
		cacheRepo:      cfg.CacheRepo,
		publisher:      cfg.Publisher,
		logger:         cfg.Logger,
	}
}
