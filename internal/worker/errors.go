package worker

import "errors"

// Ошибки воркера.
var (
	// ErrJobNotFound — job не найден в БД.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotPending — job не в статусе PENDING.
	ErrJobNotPending = errors.New("job is not in PENDING status")

	// ErrJobCancelled — выполнение job прервано отменой run.
	ErrJobCancelled = errors.New("job cancelled")

	// ErrWorkspace — не удалось подготовить workspace.
	ErrWorkspace = errors.New("workspace setup failed")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
