package orchestrator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// RunState — состояние выполнения одного run в памяти.
//
// RunState создаётся когда Orchestrator начинает обработку run
// и удаляется когда run завершается (SUCCEEDED/FAILED/CANCELLED).
//
// Содержит:
//   - Кэш данных из БД (Run, PipelineVersion)
//   - Построенный job-граф
//   - Отслеживание исхода каждого job по имени узла
type RunState struct {
	// Run — данные run из БД.
	Run *domain.Run

	// Version — версия pipeline со спецификацией.
	Version *domain.PipelineVersion

	// DAG — граф зависимостей jobs.
	DAG *engine.DAG

	// completed — успешно завершённые jobs (имя узла → true).
	completed map[string]bool

	// running — jobs в процессе выполнения (имя узла → true).
	running map[string]bool

	// failed — упавшие jobs (имя узла → true).
	failed map[string]bool

	// skipped — пропущенные jobs: их зависимость упала (имя узла → true).
	skipped map[string]bool

	// softFailed — jobs, упавшие только tolerated-шагом (имя узла → true).
	// Не блокируют вердикт run.
	softFailed map[string]bool

	// jobs — созданные jobs (имя узла → Job).
	jobs map[string]*domain.Job

	// mu — мьютекс для потокобезопасного доступа.
	mu sync.RWMutex
}

// NewRunState создаёт новый RunState.
func NewRunState(run *domain.Run, version *domain.PipelineVersion) *RunState {
	return &RunState{
		Run:        run,
		Version:    version,
		completed:  make(map[string]bool),
		running:    make(map[string]bool),
		failed:     make(map[string]bool),
		skipped:    make(map[string]bool),
		softFailed: make(map[string]bool),
		jobs:       make(map[string]*domain.Job),
	}
}

// Initialize инициализирует RunState: валидирует PipelineSpec, строит граф.
func (s *RunState) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec := &s.Version.Spec

	// 1. Валидация PipelineSpec
	if err := engine.Validate(spec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPipelineSpec, err)
	}

	// 2. Построение job-графа (с развёрнутыми matrix-вариантами)
	dag, err := engine.BuildDAG(spec)
	if err != nil {
		return fmt.Errorf("build job graph: %w", err)
	}
	s.DAG = dag

	return nil
}

// GetReadyJobs возвращает узлы, готовые к диспатчу.
// Узел готов, если все его зависимости завершились SUCCESS.
func (s *RunState) GetReadyJobs() []*engine.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocked := s.blockedLocked()
	return s.DAG.GetReadyNodes(s.completed, s.running, blocked)
}

// blockedLocked объединяет failed и skipped в один dead-set.
// Вызывается под мьютексом.
func (s *RunState) blockedLocked() map[string]bool {
	blocked := make(map[string]bool, len(s.failed)+len(s.skipped))
	for name := range s.failed {
		blocked[name] = true
	}
	for name := range s.skipped {
		blocked[name] = true
	}
	return blocked
}

// MarkJobRunning помечает job как выполняющийся.
func (s *RunState) MarkJobRunning(name string, job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running[name] = true
	s.jobs[name] = job
}

// MarkJobCompleted помечает job как успешно завершённый.
func (s *RunState) MarkJobCompleted(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, name)
	s.completed[name] = true
}

// MarkJobFailed помечает job как упавший.
// soft=true — падение вызвано только tolerated-шагом soft-fail job.
func (s *RunState) MarkJobFailed(name string, soft bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, name)
	s.failed[name] = true
	if soft {
		s.softFailed[name] = true
	}
}

// MarkJobSkipped помечает job как пропущенный.
func (s *RunState) MarkJobSkipped(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, name)
	s.skipped[name] = true
}

// NewlySkipped возвращает узлы, которые стали мёртвыми из-за упавших
// зависимостей, но ещё не помечены skipped.
func (s *RunState) NewlySkipped() []*engine.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dead := s.DAG.GetSkippedNodes(s.blockedLocked())

	fresh := make([]*engine.Node, 0, len(dead))
	for _, node := range dead {
		if !s.skipped[node.Name] {
			fresh = append(fresh, node)
		}
	}
	return fresh
}

// GetJob возвращает job по имени узла.
func (s *RunState) GetJob(name string) *domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.jobs[name]
}

// SetJob сохраняет job для узла.
func (s *RunState) SetJob(name string, job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[name] = job
}

// IsComplete проверяет, все ли jobs достигли терминального состояния.
func (s *RunState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, node := range s.DAG.Order {
		name := node.Name
		if !s.completed[name] && !s.failed[name] && !s.skipped[name] {
			return false
		}
	}
	return true
}

// IsBlockingFailure проверяет, есть ли падения, блокирующие вердикт.
// Soft-failed jobs не считаются: они дают аннотацию, а не провал run.
func (s *RunState) IsBlockingFailure() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name := range s.failed {
		if !s.softFailed[name] {
			return true
		}
	}
	return false
}

// FailedJobs возвращает имена упавших jobs (включая soft-failed).
func (s *RunState) FailedJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.failed))
	for _, node := range s.DAG.Order {
		if s.failed[node.Name] {
			names = append(names, node.Name)
		}
	}
	return names
}

// BlockingFailedJobs возвращает имена jobs, проваливших run.
func (s *RunState) BlockingFailedJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.failed))
	for _, node := range s.DAG.Order {
		if s.failed[node.Name] && !s.softFailed[node.Name] {
			names = append(names, node.Name)
		}
	}
	return names
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// PipelineID возвращает ID pipeline.
func (s *RunState) PipelineID() uuid.UUID {
	return s.Run.PipelineID
}

// GroupKey возвращает ключ группы конкурентности run.
func (s *RunState) GroupKey() string {
	return s.Run.GroupKey
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.DAG.Size()
	done := len(s.completed) + len(s.failed) + len(s.skipped)
	return RunStats{
		TotalJobs:     total,
		CompletedJobs: len(s.completed),
		RunningJobs:   len(s.running),
		FailedJobs:    len(s.failed),
		SkippedJobs:   len(s.skipped),
		PendingJobs:   total - done - len(s.running),
	}
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalJobs     int
	CompletedJobs int
	RunningJobs   int
	FailedJobs    int
	SkippedJobs   int
	PendingJobs   int
}

// RestoreFromJobs восстанавливает состояние из списка jobs (после рестарта).
func (s *RunState) RestoreFromJobs(jobs []domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range jobs {
		job := &jobs[i]
		s.jobs[job.Name] = job

		switch job.Outcome {
		case domain.JobOutcomeSuccess:
			s.completed[job.Name] = true

		case domain.JobOutcomeFailure:
			s.failed[job.Name] = true
			if job.SoftFailed {
				s.softFailed[job.Name] = true
			}

		case domain.JobOutcomeSkipped:
			s.skipped[job.Name] = true

		case domain.JobOutcomeRunning:
			s.running[job.Name] = true

		case domain.JobOutcomePending:
			// Job создан, но не диспатчен — подхватится dispatchReadyJobs

		case domain.JobOutcomeCancelled:
			// Отменённый job: считаем мёртвым, чтобы не диспатчить зависимых
			s.skipped[job.Name] = true
		}
	}
}
