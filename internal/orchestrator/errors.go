package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrPipelineNotFound — pipeline не найден.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrVersionNotFound — версия pipeline не найдена.
	ErrVersionNotFound = errors.New("pipeline version not found")

	// ErrInvalidPipelineSpec — PipelineSpec не прошёл валидацию.
	ErrInvalidPipelineSpec = errors.New("invalid pipeline spec")

	// ErrRunAlreadyActive — run уже обрабатывается.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotActive — run не найден в активных (для обработки job.completed).
	ErrRunNotActive = errors.New("run not in active runs")

	// ErrRunNotPending — run не в статусе PENDING.
	ErrRunNotPending = errors.New("run is not in PENDING status")

	// ErrJobNotFound — job не найден.
	ErrJobNotFound = errors.New("job not found")

	// ErrNodeNotFound — узел не найден в job-графе.
	ErrNodeNotFound = errors.New("node not found in job graph")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
