package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/steps"
)

// jobResult — итог прогона шагов job.
type jobResult struct {
	// Steps — результаты всех шагов (включая SKIPPED).
	Steps []domain.StepResult

	// Annotations — аннотации tolerated-шагов.
	Annotations []domain.Annotation

	// Failed — job завершился FAILURE.
	Failed bool

	// Soft — FAILURE вызван только tolerated-шагами в soft-fail job.
	Soft bool

	// Cancelled — выполнение прервано отменой run.
	Cancelled bool

	// ErrMsg — текст ошибки при FAILURE.
	ErrMsg string
}

// runJob прогоняет шаги job строго последовательно в одном workspace.
//
// Решения драйвера:
//   - шаг с condition "" выполняется, пока job не упал; "on_failure" —
//     только после падения; "always" — безусловно
//   - падение checkout/setup фатально всегда
//   - падение run-шага с continue_on_error даёт TOLERATED + аннотацию,
//     выполнение продолжается
//   - кэш восстанавливается до шагов и сохраняется после, только при
//     полном успехе
func (w *Worker) runJob(ctx context.Context, job *domain.Job, repoInfo steps.RepoInfo) *jobResult {
	result := &jobResult{}

	ws, err := newWorkspace(w.workDirRoot)
	if err != nil {
		result.Failed = true
		result.ErrMsg = fmt.Sprintf("workspace setup failed: %v", err)
		return result
	}
	defer ws.Cleanup(w.logger)

	// Общий дедлайн job. Отдельный контекст, чтобы отличать таймаут
	// job от отмены run.
	runCtx := ctx
	if job.Def.TimeoutSec > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(job.Def.TimeoutSec)*time.Second)
		defer cancel()
	}

	if w.cache != nil {
		w.cache.Restore(runCtx, job, ws.Dir)
	}

	jobFailed := false
	tolerated := false

	for i := range job.Def.Steps {
		step := &job.Def.Steps[i]

		if !shouldRunStep(step.Condition, jobFailed) {
			result.Steps = append(result.Steps, domain.StepResult{
				StepID: step.ID,
				Name:   step.Name,
				Status: domain.StepStatusSkipped,
			})
			continue
		}

		sr := w.executeStep(runCtx, step, ws.Dir, job, repoInfo)
		result.Steps = append(result.Steps, sr)

		switch sr.Status {
		case domain.StepStatusSucceeded, domain.StepStatusSkipped:
			// продолжаем

		case domain.StepStatusTolerated:
			tolerated = true
			result.Annotations = append(result.Annotations, annotationForStep(job, step, sr.ExitCode))

		case domain.StepStatusFailed:
			if ctx.Err() != nil {
				result.Cancelled = true
				return result
			}
			if runCtx.Err() != nil {
				result.Failed = true
				result.ErrMsg = fmt.Sprintf("job timed out after %ds", job.Def.TimeoutSec)
				return result
			}

			jobFailed = true
			if result.ErrMsg == "" {
				result.ErrMsg = failedStepMessage(step, sr)
			}
		}
	}

	if jobFailed {
		result.Failed = true
		return result
	}

	if tolerated {
		// Tolerated-падение — всё равно FAILURE, но в soft-fail job
		// оно не блокирует вердикт run.
		result.Failed = true
		result.Soft = job.SoftFail
		result.ErrMsg = "tolerated step failure"
		return result
	}

	if w.cache != nil {
		w.cache.Save(runCtx, job, ws.Dir)
	}

	return result
}

// executeStep выполняет один шаг и сводит его исход к StepStatus.
func (w *Worker) executeStep(ctx context.Context, step *domain.StepDef, workDir string, job *domain.Job, repoInfo steps.RepoInfo) domain.StepResult {
	result := domain.StepResult{
		StepID: step.ID,
		Name:   step.Name,
	}

	executor, err := w.registry.Get(step.Kind)
	if err != nil {
		result.Status = domain.StepStatusFailed
		result.Error = err.Error()
		return result
	}

	w.logger.Debug("step started",
		"job_id", job.ID,
		"job", job.Name,
		"step", step.ID,
		"kind", step.Kind,
	)

	req := &steps.Request{
		Step:    step,
		WorkDir: workDir,
		Env:     mergeEnv(job.Def.Env, step.Env),
		Repo:    repoInfo,
	}

	start := time.Now()
	resp, err := executor.Execute(ctx, req)
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Status = domain.StepStatusFailed
		result.Error = err.Error()
		if resp != nil {
			result.ExitCode = resp.ExitCode
			result.Output = resp.Output
		}
		return result
	}

	result.ExitCode = resp.ExitCode
	result.Output = resp.Output

	switch {
	case resp.OK():
		result.Status = domain.StepStatusSucceeded

	case step.ContinueOnError && !step.IsSetup():
		result.Status = domain.StepStatusTolerated

	default:
		result.Status = domain.StepStatusFailed
	}

	w.logger.Debug("step finished",
		"job_id", job.ID,
		"job", job.Name,
		"step", step.ID,
		"status", result.Status,
		"exit_code", result.ExitCode,
		"duration_ms", result.DurationMs,
	)

	return result
}

// shouldRunStep решает, выполнять ли шаг при текущем состоянии job.
func shouldRunStep(condition string, jobFailed bool) bool {
	switch condition {
	case "on_failure":
		return jobFailed
	case "always":
		return true
	default:
		return !jobFailed
	}
}

// annotationForStep строит аннотацию для tolerated-падения шага.
// Текст оператора из StepDef.Annotation выводится дословно; если
// оператор его не задал, подставляется generic-сообщение.
func annotationForStep(job *domain.Job, step *domain.StepDef, exitCode int) domain.Annotation {
	ann := domain.Annotation{
		ID:        uuid.New(),
		RunID:     job.RunID,
		JobID:     job.ID,
		JobName:   job.Name,
		StepID:    step.ID,
		Severity:  domain.SeverityWarning,
		Message:   fmt.Sprintf("step %s failed with exit code %d", step.ID, exitCode),
		CreatedAt: time.Now(),
	}

	if def := step.Annotation; def != nil {
		if def.Severity != "" {
			ann.Severity = def.Severity
		}
		if def.Message != "" {
			ann.Message = def.Message
		}
		ann.File = def.File
		ann.Line = def.Line
	}

	return ann
}

// failedStepMessage — текст ошибки job по упавшему шагу.
func failedStepMessage(step *domain.StepDef, sr domain.StepResult) string {
	if sr.Error != "" {
		return fmt.Sprintf("step %s: %s", step.ID, sr.Error)
	}
	return fmt.Sprintf("step %s exited with code %d", step.ID, sr.ExitCode)
}

// mergeEnv накладывает env шага поверх env job.
func mergeEnv(jobEnv, stepEnv map[string]string) map[string]string {
	if len(stepEnv) == 0 {
		return jobEnv
	}

	merged := make(map[string]string, len(jobEnv)+len(stepEnv))
	for k, v := range jobEnv {
		merged[k] = v
	}
	for k, v := range stepEnv {
		merged[k] = v
	}
	return merged
}
