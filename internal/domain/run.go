package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — один запуск pipeline для одного триггер-события.
//
// Run создаётся когда:
// - Приходит событие push / change_request, прошедшее path-фильтры
// - Пользователь запускает pipeline вручную (через API/CLI)
// - Scheduler создаёт run по расписанию
//
// Каждый run выполняет конкретную версию pipeline и владеет своим
// набором jobs. Единственное взаимодействие между runs — группа
// конкурентности: новый run может отменить предыдущий с тем же GroupKey.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на pipeline, который выполняется.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — версия pipeline, которая выполняется.
	Version int `json:"version"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Trigger — метаданные события, создавшего run.
	Trigger TriggerEvent `json:"trigger"`

	// GroupKey — ключ группы конкурентности.
	// Функция от идентификатора pipeline и номера change request
	// либо ref. Runs с одинаковым ключом суперсидят друг друга.
	GroupKey string `json:"group_key"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (в любом терминальном статусе).
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
// Отменённый run не получает вердикта pass/fail.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}
