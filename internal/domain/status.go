package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING, при суперседе группы)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все jobs завершились SUCCESS или SKIPPED.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — хотя бы один job завершился FAILURE.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён (вручную или новым run той же группы).
	// Отменённый run не даёт вердикта pass/fail и не создаёт аннотаций.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// JobOutcome — исход выполнения job.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCESS
//	                  ↘ FAILURE (в том числе soft-fail с аннотацией)
//	PENDING → SKIPPED   (зависимость упала)
//	PENDING → CANCELLED (run отменён до старта job)
type JobOutcome string

const (
	// JobOutcomePending — job диспатчен и ждёт, пока его заберёт воркер.
	JobOutcomePending JobOutcome = "PENDING"

	// JobOutcomeRunning — job выполняется воркером.
	JobOutcomeRunning JobOutcome = "RUNNING"

	// JobOutcomeSuccess — все шаги job завершились успешно.
	JobOutcomeSuccess JobOutcome = "SUCCESS"

	// JobOutcomeFailure — шаг job упал (или tolerated-шаг упал в soft-fail job).
	JobOutcomeFailure JobOutcome = "FAILURE"

	// JobOutcomeSkipped — job не выполнялся: упала его зависимость.
	JobOutcomeSkipped JobOutcome = "SKIPPED"

	// JobOutcomeCancelled — run отменён до того, как job начал шаги.
	JobOutcomeCancelled JobOutcome = "CANCELLED"
)

// IsTerminal возвращает true, если исход финальный.
func (o JobOutcome) IsTerminal() bool {
	switch o {
	case JobOutcomeSuccess, JobOutcomeFailure, JobOutcomeSkipped, JobOutcomeCancelled:
		return true
	default:
		return false
	}
}

// IsPassing возвращает true, если исход не мешает run'у стать SUCCEEDED.
// SUCCESS и SKIPPED считаются проходными, всё остальное — нет.
func (o JobOutcome) IsPassing() bool {
	return o == JobOutcomeSuccess || o == JobOutcomeSkipped
}

// StepStatus — исход выполнения одного шага внутри job.
//
// Job-драйвер принимает решение о продолжении по этому enum,
// а не по механизму ошибок: упавший шаг с continue_on_error
// получает TOLERATED, и выполнение идёт дальше.
type StepStatus string

const (
	// StepStatusSucceeded — шаг завершился с нулевым exit code.
	StepStatusSucceeded StepStatus = "SUCCEEDED"

	// StepStatusFailed — шаг упал, job останавливается.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusTolerated — шаг упал, но continue_on_error=true:
	// исход записан, выполнение job продолжается.
	StepStatusTolerated StepStatus = "TOLERATED"

	// StepStatusSkipped — шаг пропущен из-за condition.
	StepStatusSkipped StepStatus = "SKIPPED"
)

// Severity — важность аннотации.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityNotice  Severity = "NOTICE"
)

// EventKind — вид события-триггера.
type EventKind string

const (
	// EventManual — запуск вручную через API/CLI.
	EventManual EventKind = "manual"

	// EventPush — push в ветку.
	EventPush EventKind = "push"

	// EventChangeRequest — открытие или синхронизация change request.
	EventChangeRequest EventKind = "change_request"

	// EventSchedule — запуск по расписанию.
	EventSchedule EventKind = "schedule"
)
