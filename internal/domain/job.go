package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job — единица работы внутри run: один узел job-графа.
//
// Job создаётся Orchestrator'ом в момент диспатча: когда все его
// зависимости завершились SUCCESS. PENDING-запись в БД означает
// "готов и ждёт воркера".
// Jobs одного run выполняются параллельно в изолированных workspace,
// порядок между ними не гарантируется. Шаги внутри job строго
// последовательны.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский run.
	RunID uuid.UUID `json:"run_id"`

	// Name — полное имя job. Для matrix-вариантов включает вариант:
	// "check (features=none)".
	Name string `json:"name"`

	// Template — имя JobDef-шаблона, из которого job развёрнут.
	// Совпадает с Name, если matrix не задан.
	Template string `json:"template"`

	// Variant — выбранные значения matrix (ключ → значение).
	Variant map[string]string `json:"variant,omitempty"`

	// Needs — полные имена jobs-зависимостей.
	Needs []string `json:"needs,omitempty"`

	// SoftFail — job допускает tolerated-падение шага: оно не блокирует
	// merge, но даёт аннотацию.
	SoftFail bool `json:"soft_fail,omitempty"`

	// Outcome — текущий исход job.
	Outcome JobOutcome `json:"outcome"`

	// SoftFailed — true, если FAILURE вызван tolerated-шагом
	// (running → running(soft-failed) → failure с аннотацией).
	SoftFailed bool `json:"soft_failed,omitempty"`

	// Def — развёрнутое определение job: шаги, env (с уже подставленными
	// значениями matrix), кэш с вычисленным ключом. Это то, что воркер
	// получает для выполнения.
	Def JobDef `json:"def"`

	// CacheWrite — политика кэша для этого run: true только на
	// защищённом ref. Вычисляется оркестратором.
	CacheWrite bool `json:"cache_write,omitempty"`

	// Steps — результаты шагов. Заполняется воркером.
	Steps []StepResult `json:"steps,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки при FAILURE.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания job.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// IsFinished возвращает true, если job завершён.
func (j *Job) IsFinished() bool {
	return j.Outcome.IsTerminal()
}

// MarkRunning переводит job в RUNNING.
func (j *Job) MarkRunning() {
	now := time.Now()
	j.Outcome = JobOutcomeRunning
	j.StartedAt = &now
}

// MarkSuccess переводит job в SUCCESS с результатами шагов.
func (j *Job) MarkSuccess(steps []StepResult) {
	now := time.Now()
	j.Outcome = JobOutcomeSuccess
	j.FinishedAt = &now
	j.Steps = steps
}

// MarkFailure переводит job в FAILURE.
// soft=true означает tolerated-падение (с аннотацией вместо жёсткой ошибки).
func (j *Job) MarkFailure(steps []StepResult, errMsg string, soft bool) {
	now := time.Now()
	j.Outcome = JobOutcomeFailure
	j.SoftFailed = soft
	j.FinishedAt = &now
	j.Steps = steps
	j.Error = errMsg
}

// MarkSkipped переводит job в SKIPPED (зависимость упала).
// Шаги не выполняются.
func (j *Job) MarkSkipped() {
	now := time.Now()
	j.Outcome = JobOutcomeSkipped
	j.FinishedAt = &now
}

// MarkCancelled переводит job в CANCELLED (run отменён).
func (j *Job) MarkCancelled() {
	now := time.Now()
	j.Outcome = JobOutcomeCancelled
	j.FinishedAt = &now
}

// StepResult — результат выполнения одного шага.
//
// Job-драйвер воркера смотрит на Status и решает, продолжать ли
// выполнение — управление потоком идёт через enum, не через ошибки.
type StepResult struct {
	// StepID — ID шага из StepDef.
	StepID string `json:"step_id"`

	// Name — имя шага.
	Name string `json:"name,omitempty"`

	// Status — исход шага.
	Status StepStatus `json:"status"`

	// ExitCode — exit code команды (0 при успехе).
	ExitCode int `json:"exit_code"`

	// Output — захваченный stdout+stderr.
	Output string `json:"output,omitempty"`

	// DurationMs — продолжительность в миллисекундах.
	DurationMs int64 `json:"duration_ms"`

	// Error — инфраструктурная ошибка (не exit code).
	Error string `json:"error,omitempty"`
}

// Annotation — структурированная пользовательская аннотация.
//
// Аннотация создаётся, когда tolerated-шаг упал: вместо raw step error
// пользователь видит текст, заданный оператором (например, какой командой
// починить форматирование локально). Каждая аннотация атрибутирована
// к run, job и шагу, которые её породили.
type Annotation struct {
	// ID — уникальный идентификатор аннотации.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на run.
	RunID uuid.UUID `json:"run_id"`

	// JobID — ссылка на job.
	JobID uuid.UUID `json:"job_id"`

	// JobName — имя job (для отображения без дополнительного запроса).
	JobName string `json:"job_name"`

	// StepID — ID шага, породившего аннотацию.
	StepID string `json:"step_id"`

	// Severity — важность.
	Severity Severity `json:"severity"`

	// Message — дословный текст, заданный оператором в StepDef.Annotation.
	Message string `json:"message"`

	// File — путь к файлу (опционально).
	File string `json:"file,omitempty"`

	// Line — строка в файле (опционально).
	Line int `json:"line,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}
