package engine

import "errors"

// Ошибки валидации PipelineSpec.
var (
	// ErrEmptyJobs — pipeline не содержит jobs.
	ErrEmptyJobs = errors.New("pipeline spec has no jobs")

	// ErrEmptyJobName — job не имеет имени.
	ErrEmptyJobName = errors.New("job has empty name")

	// ErrDuplicateJobName — несколько jobs с одинаковым именем.
	ErrDuplicateJobName = errors.New("duplicate job name")

	// ErrEmptySteps — job не содержит шагов.
	ErrEmptySteps = errors.New("job has no steps")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID в рамках job.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrUnknownStepKind — неизвестный вид шага.
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrUnknownCondition — неизвестное условие выполнения шага.
	ErrUnknownCondition = errors.New("unknown step condition")

	// ErrMissingDependency — job зависит от несуществующего job.
	ErrMissingDependency = errors.New("job needs unknown job")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — job зависит от самого себя.
	ErrSelfDependency = errors.New("job needs itself")

	// ErrEmptyMatrix — matrix-ключ без значений.
	ErrEmptyMatrix = errors.New("matrix key has no values")

	// ErrInvalidCache — некорректная конфигурация кэша.
	ErrInvalidCache = errors.New("invalid cache config")

	// ErrEmptyAnnotation — аннотация без текста.
	ErrEmptyAnnotation = errors.New("annotation has empty message")

	// ErrSetupTolerated — подготовительный шаг с continue_on_error.
	// Падение checkout/setup всегда фатально для job.
	ErrSetupTolerated = errors.New("setup step cannot continue on error")
)

// Ошибки парсинга.
var (
	// ErrParseSpec — спецификация не распарсилась.
	ErrParseSpec = errors.New("parse pipeline spec failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	JobName string // имя job, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.JobName != "" {
		return "job " + e.JobName + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(jobName, field, message string, err error) *ValidationError {
	return &ValidationError{
		JobName: jobName,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
