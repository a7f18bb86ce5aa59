package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Агрегация результатов run.
//
// Вердикт: run SUCCEEDED тогда и только тогда, когда каждый job завершился
// SUCCESS или SKIPPED, а все FAILURE — soft-fail (им вместо провала
// полагается аннотация). Отменённый run вердикта не получает вовсе.

// completeRun финализирует run по состоянию всех его jobs.
func (o *Orchestrator) completeRun(ctx context.Context, state *RunState) error {
	run := state.Run

	if state.IsBlockingFailure() {
		blocking := state.BlockingFailedJobs()
		run.MarkFailed(failureMessage(blocking))
		o.logger.Warn("run failed",
			"run_id", run.ID,
			"failed_jobs", blocking,
			"duration", run.Duration(),
		)
	} else {
		run.MarkSucceeded()

		soft := softFailedJobs(state)
		if len(soft) > 0 {
			// Run прошёл, но оператору оставлены аннотации
			o.logger.Info("run succeeded with soft-failed jobs",
				"run_id", run.ID,
				"soft_failed_jobs", soft,
				"duration", run.Duration(),
			)
		} else {
			o.logger.Info("run succeeded",
				"run_id", run.ID,
				"duration", run.Duration(),
			)
		}
	}

	// Обновляем в БД. Ноль строк — run уже финализирован другим
	// процессом (отмена через API); вердикт его не перезаписывает
	if err := o.runRepo.UpdateActive(ctx, run); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			o.logger.Info("run already finalized, verdict dropped",
				"run_id", run.ID,
				"verdict", run.Status,
			)
			o.removeActiveRun(run.ID)
			return nil
		}
		return fmt.Errorf("update run status: %w", err)
	}

	telemetry.RunsCompleted.WithLabelValues(string(run.Status)).Inc()

	// Удаляем из активных
	o.removeActiveRun(run.ID)

	return nil
}

// failRun переводит run в статус FAILED до начала выполнения jobs
// (ошибка валидации, отсутствующая версия и т.п.).
func (o *Orchestrator) failRun(ctx context.Context, run *domain.Run, errMsg string) error {
	run.MarkFailed(errMsg)

	if err := o.runRepo.UpdateActive(ctx, run); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			o.logger.Debug("run already finalized, early failure dropped",
				"run_id", run.ID,
			)
			return nil
		}
		return fmt.Errorf("update run to failed: %w", err)
	}

	telemetry.RunsCompleted.WithLabelValues(string(run.Status)).Inc()

	o.logger.Warn("run failed early",
		"run_id", run.ID,
		"error", errMsg,
	)

	return fmt.Errorf("run failed: %s", errMsg)
}

// failureMessage формирует текст ошибки run из имён упавших jobs.
func failureMessage(failed []string) string {
	if len(failed) == 1 {
		return fmt.Sprintf("job failed: %s", failed[0])
	}
	return fmt.Sprintf("jobs failed: %s", strings.Join(failed, ", "))
}

// softFailedJobs возвращает имена soft-failed jobs в порядке графа.
func softFailedJobs(state *RunState) []string {
	state.mu.RLock()
	defer state.mu.RUnlock()

	names := make([]string, 0, len(state.softFailed))
	for _, node := range state.DAG.Order {
		if state.softFailed[node.Name] {
			names = append(names, node.Name)
		}
	}
	return names
}
