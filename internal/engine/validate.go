package engine

import (
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Validate выполняет полную валидацию PipelineSpec.
//
// Проверяет:
// - Наличие jobs
// - Уникальность имён jobs
// - Шаги: наличие, уникальность ID, виды, условия
// - Валидность зависимостей (needs)
// - Matrix и кэш
// - Отсутствие циклов (делегируется DAG)
func Validate(spec *domain.PipelineSpec) error {
	if spec == nil || len(spec.Jobs) == 0 {
		return ErrEmptyJobs
	}

	jobNames := make(map[string]bool)

	for i := range spec.Jobs {
		job := &spec.Jobs[i]

		if err := validateJob(job, jobNames); err != nil {
			return err
		}
	}

	// Валидируем зависимости (по именам шаблонов)
	for i := range spec.Jobs {
		job := &spec.Jobs[i]

		for _, dep := range job.Needs {
			if dep == job.Name {
				return NewValidationError(job.Name, "needs",
					"job needs itself", ErrSelfDependency)
			}
			if !jobNames[dep] {
				return NewValidationError(job.Name, "needs",
					fmt.Sprintf("needs unknown job: %s", dep), ErrMissingDependency)
			}
		}
	}

	// Проверка на циклы — строим DAG
	if _, err := BuildDAG(spec); err != nil {
		return err
	}

	return nil
}

// validateJob валидирует один job.
// jobNames — уже встреченные имена (для проверки уникальности).
func validateJob(job *domain.JobDef, jobNames map[string]bool) error {
	if job.Name == "" {
		return NewValidationError("", "name", "job has empty name", ErrEmptyJobName)
	}

	if jobNames[job.Name] {
		return NewValidationError(job.Name, "name",
			fmt.Sprintf("duplicate job name: %s", job.Name), ErrDuplicateJobName)
	}
	jobNames[job.Name] = true

	if len(job.Steps) == 0 {
		return NewValidationError(job.Name, "steps", "job has no steps", ErrEmptySteps)
	}

	stepIDs := make(map[string]bool)
	for i := range job.Steps {
		step := &job.Steps[i]

		if err := validateStep(job.Name, step, stepIDs); err != nil {
			return err
		}
	}

	// Matrix: каждый ключ должен иметь хотя бы одно значение
	for key, values := range job.Matrix {
		if len(values) == 0 {
			return NewValidationError(job.Name, "matrix",
				fmt.Sprintf("matrix key %q has no values", key), ErrEmptyMatrix)
		}
	}

	// Кэш: ключ и пути обязательны
	if job.Cache != nil {
		if job.Cache.Key == "" {
			return NewValidationError(job.Name, "cache",
				"cache has empty key", ErrInvalidCache)
		}
		if len(job.Cache.Paths) == 0 {
			return NewValidationError(job.Name, "cache",
				"cache has no paths", ErrInvalidCache)
		}
	}

	return nil
}

// validateStep валидирует один шаг.
func validateStep(jobName string, step *domain.StepDef, stepIDs map[string]bool) error {
	if step.ID == "" {
		return NewValidationError(jobName, "steps", "step has empty ID", ErrEmptyStepID)
	}

	if stepIDs[step.ID] {
		return NewValidationError(jobName, "steps",
			fmt.Sprintf("duplicate step ID: %s", step.ID), ErrDuplicateStepID)
	}
	stepIDs[step.ID] = true

	if !validStepKinds[step.Kind] {
		return NewValidationError(jobName, "steps",
			fmt.Sprintf("step %s: unknown kind: %q", step.ID, step.Kind), ErrUnknownStepKind)
	}

	if !validConditions[step.Condition] {
		return NewValidationError(jobName, "steps",
			fmt.Sprintf("step %s: unknown condition: %q", step.ID, step.Condition), ErrUnknownCondition)
	}

	// Подготовительные шаги не бывают tolerated: их падение всегда фатально
	if step.IsSetup() && step.ContinueOnError {
		return NewValidationError(jobName, "steps",
			fmt.Sprintf("step %s: setup step cannot continue_on_error", step.ID), ErrSetupTolerated)
	}

	if step.Annotation != nil && step.Annotation.Message == "" {
		return NewValidationError(jobName, "steps",
			fmt.Sprintf("step %s: annotation has empty message", step.ID), ErrEmptyAnnotation)
	}

	return nil
}
