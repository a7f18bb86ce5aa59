package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// ShouldCancel решает, отменять ли предыдущий run группы при появлении
// нового run с тем же GroupKey.
//
// Правило одно: runs на защищённом ref не отменяются никогда. Всё
// остальное в группе суперсидится — устаревший результат для того же
// change request никому не нужен.
func ShouldCancel(spec *domain.PipelineSpec, prior *domain.Run) bool {
	if prior.Status.IsTerminal() {
		return false
	}

	cc := spec.Concurrency
	if cc == nil {
		cc = &domain.ConcurrencyDef{}
	}
	return !cc.IsProtected(prior.Trigger.Ref)
}

// supersedePriorRuns отменяет предыдущие активные runs той же группы
// конкурентности.
//
// Для каждого отменяемого run:
//   - Статус в БД → CANCELLED (вердикта pass/fail не будет)
//   - Незавершённые jobs → CANCELLED
//   - Broadcast run.cancelled: воркеры прерывают выполняющиеся jobs
func (o *Orchestrator) supersedePriorRuns(ctx context.Context, run *domain.Run, spec *domain.PipelineSpec) error {
	if run.GroupKey == "" {
		return nil
	}

	prior, err := o.runRepo.ListActiveByGroupKey(ctx, run.GroupKey, run.ID)
	if err != nil {
		return fmt.Errorf("list group runs: %w", err)
	}

	for i := range prior {
		p := &prior[i]

		if !ShouldCancel(spec, p) {
			o.logger.Debug("prior run protected, not cancelling",
				"run_id", p.ID,
				"group_key", run.GroupKey,
				"ref", p.Trigger.Ref,
			)
			continue
		}

		if err := o.cancelRun(ctx, p); err != nil {
			o.logger.Error("failed to cancel superseded run",
				"run_id", p.ID,
				"group_key", run.GroupKey,
				"error", err,
			)
			continue
		}

		telemetry.RunsSuperseded.Inc()
		o.logger.Info("run superseded",
			"cancelled_run_id", p.ID,
			"new_run_id", run.ID,
			"group_key", run.GroupKey,
		)
	}

	return nil
}

// CancelRun отменяет run по запросу пользователя (API).
// Семантика та же, что при суперседе группы.
func (o *Orchestrator) CancelRun(ctx context.Context, run *domain.Run) error {
	if run.Status.IsTerminal() {
		return ErrRunNotActive
	}
	return o.cancelRun(ctx, run)
}

// cancelRun выполняет отмену: БД, jobs, broadcast, память.
func (o *Orchestrator) cancelRun(ctx context.Context, run *domain.Run) error {
	run.MarkCancelled()
	if err := o.runRepo.UpdateActive(ctx, run); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			// Run успел завершиться — отменять нечего
			o.removeActiveRun(run.ID)
			return nil
		}
		return fmt.Errorf("mark run cancelled: %w", err)
	}

	// Незапущенные jobs переходят в CANCELLED, не начиная шагов
	cancelled, err := o.jobRepo.CancelByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("cancel jobs: %w", err)
	}
	if cancelled > 0 {
		o.logger.Debug("jobs cancelled", "run_id", run.ID, "count", cancelled)
	}

	// Воркеры получают broadcast и прерывают выполняющиеся jobs этого run
	if o.publisher != nil {
		if err := o.publisher.PublishRunCancelled(ctx, run.ID); err != nil {
			o.logger.Warn("failed to publish run.cancelled",
				"run_id", run.ID,
				"error", err,
			)
			// Jobs уже CANCELLED в БД: запись вердикта воркером
			// не пройдёт, шаги доработают впустую
		}
	}

	telemetry.RunsCompleted.WithLabelValues(string(run.Status)).Inc()

	o.removeActiveRun(run.ID)
	return nil
}
