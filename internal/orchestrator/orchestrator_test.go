package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ciVersion строит версию pipeline для тестов: check (matrix 2 варианта),
// test (зависит от check), fmt (soft-fail), независимый lint.
func ciVersion() *domain.PipelineVersion {
	return &domain.PipelineVersion{
		Version: 1,
		Spec: domain.PipelineSpec{
			Name: "ci",
			Env:  map[string]string{"CI": "1"},
			Concurrency: &domain.ConcurrencyDef{
				ProtectedRefs: []string{"main"},
			},
			Jobs: []domain.JobDef{
				{
					Name:   "check",
					Matrix: map[string][]string{"features": {"all", "none"}},
					Steps: []domain.StepDef{
						{ID: "checkout", Kind: "checkout"},
						{ID: "check", Kind: "run", Run: "cargo check --features ${matrix.features}"},
					},
				},
				{
					Name:  "test",
					Needs: []string{"check"},
					Steps: []domain.StepDef{
						{ID: "checkout", Kind: "checkout"},
						{ID: "test", Kind: "run", Run: "cargo test"},
					},
				},
				{
					Name:     "fmt",
					SoftFail: true,
					Steps: []domain.StepDef{
						{ID: "checkout", Kind: "checkout"},
						{
							ID: "fmt", Kind: "run", Run: "cargo fmt --check",
							ContinueOnError: true,
							Annotation: &domain.AnnotationDef{
								Severity: domain.SeverityError,
								Message:  "Run 'cargo fmt' locally and push the result",
							},
						},
					},
				},
				{
					Name: "lint",
					Steps: []domain.StepDef{
						{ID: "checkout", Kind: "checkout"},
						{ID: "lint", Kind: "run", Run: "cargo clippy"},
					},
				},
			},
		},
	}
}

// --- RunState Tests ---

func TestRunState_Initialize(t *testing.T) {
	run := &domain.Run{ID: uuid.New()}
	state := NewRunState(run, ciVersion())

	if err := state.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// check развёрнут в 2 варианта: всего 5 узлов
	if state.DAG.Size() != 5 {
		t.Errorf("expected 5 nodes, got %d", state.DAG.Size())
	}
}

func TestRunState_Initialize_EmptySpec(t *testing.T) {
	run := &domain.Run{ID: uuid.New()}
	version := &domain.PipelineVersion{Spec: domain.PipelineSpec{}}

	state := NewRunState(run, version)
	if err := state.Initialize(); err == nil {
		t.Error("expected error for empty spec")
	}
}

func TestRunState_ReadyJobs(t *testing.T) {
	state := NewRunState(&domain.Run{ID: uuid.New()}, ciVersion())
	if err := state.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Готовы все, кроме test: он ждёт оба варианта check
	ready := state.GetReadyJobs()
	if len(ready) != 4 {
		t.Fatalf("expected 4 ready jobs, got %d", len(ready))
	}
	for _, node := range ready {
		if node.Template == "test" {
			t.Error("test must not be ready before check variants")
		}
	}

	// Один вариант check завершён — test всё ещё не готов
	state.MarkJobCompleted("check (features=all)")
	for _, node := range state.GetReadyJobs() {
		if node.Template == "test" {
			t.Error("test must wait for all check variants")
		}
	}

	// Оба варианта завершены — test готов
	state.MarkJobCompleted("check (features=none)")
	found := false
	for _, node := range state.GetReadyJobs() {
		if node.Template == "test" {
			found = true
		}
	}
	if !found {
		t.Error("test should be ready after all check variants succeed")
	}
}

func TestRunState_SkipOnFailedDependency(t *testing.T) {
	state := NewRunState(&domain.Run{ID: uuid.New()}, ciVersion())
	if err := state.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Один вариант check упал — test мёртв, даже если второй вариант прошёл
	state.MarkJobCompleted("check (features=all)")
	state.MarkJobFailed("check (features=none)", false)

	skipped := state.NewlySkipped()
	if len(skipped) != 1 || skipped[0].Name != "test" {
		t.Fatalf("expected test to be newly skipped, got %v", skipped)
	}

	state.MarkJobSkipped("test")

	// Повторный вызов ничего не возвращает
	if len(state.NewlySkipped()) != 0 {
		t.Error("NewlySkipped must not return already skipped nodes")
	}

	// lint и fmt падение check не задевает
	for _, node := range state.GetReadyJobs() {
		if node.Name == "test" {
			t.Error("dead job must not be ready")
		}
	}
}

func TestRunState_Verdict(t *testing.T) {
	state := NewRunState(&domain.Run{ID: uuid.New()}, ciVersion())
	if err := state.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state.MarkJobCompleted("check (features=all)")
	state.MarkJobCompleted("check (features=none)")
	state.MarkJobCompleted("test")
	state.MarkJobCompleted("lint")

	// fmt упал как soft-fail: вердикт остаётся проходным
	state.MarkJobFailed("fmt", true)

	if !state.IsComplete() {
		t.Fatal("run should be complete")
	}
	if state.IsBlockingFailure() {
		t.Error("soft-failed job must not block the verdict")
	}
	if got := state.BlockingFailedJobs(); len(got) != 0 {
		t.Errorf("expected no blocking failures, got %v", got)
	}
	if got := state.FailedJobs(); len(got) != 1 || got[0] != "fmt" {
		t.Errorf("expected fmt in failed jobs, got %v", got)
	}
}

func TestRunState_Verdict_HardFailure(t *testing.T) {
	state := NewRunState(&domain.Run{ID: uuid.New()}, ciVersion())
	if err := state.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state.MarkJobCompleted("check (features=all)")
	state.MarkJobFailed("check (features=none)", false)
	state.MarkJobSkipped("test")
	state.MarkJobCompleted("lint")
	state.MarkJobFailed("fmt", true)

	if !state.IsComplete() {
		t.Fatal("run should be complete")
	}
	if !state.IsBlockingFailure() {
		t.Error("hard failure must block the verdict")
	}

	blocking := state.BlockingFailedJobs()
	if len(blocking) != 1 || blocking[0] != "check (features=none)" {
		t.Errorf("unexpected blocking failures: %v", blocking)
	}
}

func TestRunState_RestoreFromJobs(t *testing.T) {
	runID := uuid.New()
	state := NewRunState(&domain.Run{ID: runID}, ciVersion())
	if err := state.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobs := []domain.Job{
		{ID: uuid.New(), RunID: runID, Name: "check (features=all)", Outcome: domain.JobOutcomeSuccess},
		{ID: uuid.New(), RunID: runID, Name: "check (features=none)", Outcome: domain.JobOutcomeFailure},
		{ID: uuid.New(), RunID: runID, Name: "test", Outcome: domain.JobOutcomeSkipped},
		{ID: uuid.New(), RunID: runID, Name: "fmt", Outcome: domain.JobOutcomeFailure, SoftFailed: true},
		{ID: uuid.New(), RunID: runID, Name: "lint", Outcome: domain.JobOutcomeRunning},
	}
	state.RestoreFromJobs(jobs)

	if state.IsComplete() {
		t.Error("run with a running job must not be complete")
	}
	if !state.IsBlockingFailure() {
		t.Error("restored hard failure must block the verdict")
	}
	if got := softFailedJobs(state); len(got) != 1 || got[0] != "fmt" {
		t.Errorf("expected fmt restored as soft-failed, got %v", got)
	}

	stats := state.Stats()
	if stats.TotalJobs != 5 || stats.CompletedJobs != 1 || stats.FailedJobs != 2 ||
		stats.SkippedJobs != 1 || stats.RunningJobs != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// --- Concurrency Group Tests ---

func TestShouldCancel(t *testing.T) {
	spec := &ciVersion().Spec

	prior := &domain.Run{
		Status:  domain.RunStatusRunning,
		Trigger: domain.TriggerEvent{Event: domain.EventChangeRequest, Ref: "feature/x", ChangeRequest: 42},
	}
	if !ShouldCancel(spec, prior) {
		t.Error("run on unprotected ref must be cancelled on group collision")
	}

	protected := &domain.Run{
		Status:  domain.RunStatusRunning,
		Trigger: domain.TriggerEvent{Event: domain.EventPush, Ref: "main"},
	}
	if ShouldCancel(spec, protected) {
		t.Error("run on protected ref must never be cancelled")
	}

	finished := &domain.Run{
		Status:  domain.RunStatusSucceeded,
		Trigger: domain.TriggerEvent{Event: domain.EventPush, Ref: "feature/x"},
	}
	if ShouldCancel(spec, finished) {
		t.Error("terminal run must not be cancelled")
	}
}

func TestShouldCancel_DefaultProtectedRefs(t *testing.T) {
	// Без явного concurrency защищённым считается main
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobDef{{Name: "a", Steps: []domain.StepDef{{ID: "s", Kind: "run", Run: "true"}}}},
	}

	onMain := &domain.Run{
		Status:  domain.RunStatusRunning,
		Trigger: domain.TriggerEvent{Ref: "main"},
	}
	if ShouldCancel(spec, onMain) {
		t.Error("main must be protected by default")
	}
}

// --- Dispatch Helpers ---

func TestExpandJobDef(t *testing.T) {
	version := ciVersion()
	run := &domain.Run{
		ID: uuid.New(),
		Trigger: domain.TriggerEvent{
			Event:  domain.EventPush,
			Ref:    "main",
			Commit: "abc123",
		},
	}

	def := &domain.JobDef{
		Name: "build",
		Env:  map[string]string{"TARGET": "${branch}"},
		Cache: &domain.CacheDef{
			Key:   "${branch}-cargo",
			Paths: []string{"target/"},
		},
		Steps: []domain.StepDef{
			{ID: "build", Kind: "run", Run: "git checkout ${commit} && cargo build"},
		},
	}

	out := expandJobDef(def, &version.Spec, run)

	if out.Cache.Key != "main-cargo" {
		t.Errorf("expected cache key main-cargo, got %s", out.Cache.Key)
	}
	if out.Steps[0].Run != "git checkout abc123 && cargo build" {
		t.Errorf("unexpected expanded command: %s", out.Steps[0].Run)
	}
	if out.Env["TARGET"] != "main" {
		t.Errorf("expected TARGET=main, got %s", out.Env["TARGET"])
	}
	// pipeline env ложится под job env
	if out.Env["CI"] != "1" {
		t.Errorf("pipeline env must be merged, got %v", out.Env)
	}
	// Исходное определение не тронуто
	if def.Cache.Key != "${branch}-cargo" {
		t.Error("source definition must not be mutated")
	}
}

func TestCacheWriteAllowed(t *testing.T) {
	spec := &ciVersion().Spec

	onMain := &domain.Run{Trigger: domain.TriggerEvent{Ref: "main"}}
	if !cacheWriteAllowed(spec, onMain) {
		t.Error("protected ref must write cache")
	}

	onBranch := &domain.Run{Trigger: domain.TriggerEvent{Ref: "feature/x"}}
	if cacheWriteAllowed(spec, onBranch) {
		t.Error("unprotected ref must be restore-only")
	}
}

// --- Aggregation ---

func TestFailureMessage(t *testing.T) {
	if got := failureMessage([]string{"test"}); got != "job failed: test" {
		t.Errorf("unexpected message: %s", got)
	}
	if got := failureMessage([]string{"a", "b"}); got != "jobs failed: a, b" {
		t.Errorf("unexpected message: %s", got)
	}
}

// --- Cross-Process Cancellation ---

type fakeRunStore struct {
	byID      map[uuid.UUID]*domain.Run
	updateErr error
	updated   []domain.RunStatus
}

func (f *fakeRunStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	run, ok := f.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (f *fakeRunStore) UpdateActive(_ context.Context, run *domain.Run) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, run.Status)
	return nil
}

func (f *fakeRunStore) ListPending(context.Context, int) ([]domain.Run, error) { return nil, nil }

func (f *fakeRunStore) ListActiveByGroupKey(context.Context, string, uuid.UUID) ([]domain.Run, error) {
	return nil, nil
}

type fakeJobStore struct {
	created []string
}

func (f *fakeJobStore) Create(_ context.Context, job *domain.Job) error {
	f.created = append(f.created, job.Name)
	return nil
}

func (f *fakeJobStore) CancelByRun(context.Context, uuid.UUID) (int64, error) { return 0, nil }

func (f *fakeJobStore) ListByRun(context.Context, uuid.UUID) ([]domain.Job, error) { return nil, nil }

type fakeAnnotationStore struct {
	created int
}

func (f *fakeAnnotationStore) Create(context.Context, *domain.Annotation) error {
	f.created++
	return nil
}

// chainVersion строит pipeline из двух jobs: test ждёт build.
func chainVersion() *domain.PipelineVersion {
	return &domain.PipelineVersion{
		Version: 1,
		Spec: domain.PipelineSpec{
			Name: "ci",
			Jobs: []domain.JobDef{
				{Name: "build", Steps: []domain.StepDef{{ID: "build", Kind: "run", Run: "make"}}},
				{Name: "test", Needs: []string{"build"}, Steps: []domain.StepDef{{ID: "test", Kind: "run", Run: "make test"}}},
			},
		},
	}
}

// chainState возвращает оркестратор с активным run build→test,
// где build уже диспатчен.
func chainState(t *testing.T, dbStatus domain.RunStatus) (*Orchestrator, *fakeJobStore, *fakeAnnotationStore, *domain.Run, *domain.Job) {
	t.Helper()

	run := &domain.Run{ID: uuid.New(), Status: domain.RunStatusRunning}
	state := NewRunState(run, chainVersion())
	if err := state.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buildJob := &domain.Job{ID: uuid.New(), RunID: run.ID, Name: "build", Outcome: domain.JobOutcomeRunning}
	state.MarkJobRunning("build", buildJob)

	// Статус в БД может отличаться от статуса в памяти
	dbRun := *run
	dbRun.Status = dbStatus

	jobs := &fakeJobStore{}
	anns := &fakeAnnotationStore{}

	orch := New(Config{})
	orch.runRepo = &fakeRunStore{byID: map[uuid.UUID]*domain.Run{run.ID: &dbRun}}
	orch.jobRepo = jobs
	orch.annotationRepo = anns
	if err := orch.addActiveRun(state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return orch, jobs, anns, run, buildJob
}

func TestProcessJobCompleted_RunCancelledInDatabase(t *testing.T) {
	// Run отменили из другого процесса: в памяти RUNNING, в БД CANCELLED
	orch, jobs, anns, run, buildJob := chainState(t, domain.RunStatusCancelled)

	payload := mq.JobCompletedPayload{
		JobID:       buildJob.ID,
		RunID:       run.ID,
		JobName:     "build",
		Outcome:     domain.JobOutcomeSuccess,
		Annotations: []domain.Annotation{{StepID: "build", Message: "late"}},
	}
	if err := orch.processJobCompleted(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(jobs.created) != 0 {
		t.Errorf("jobs dispatched for cancelled run: %v", jobs.created)
	}
	if anns.created != 0 {
		t.Error("annotations persisted for cancelled run")
	}
	if orch.isRunActive(run.ID) {
		t.Error("cancelled run must be dropped from active runs")
	}
}

func TestProcessJobCompleted_DispatchesNextJob(t *testing.T) {
	orch, jobs, _, run, buildJob := chainState(t, domain.RunStatusRunning)

	payload := mq.JobCompletedPayload{
		JobID:   buildJob.ID,
		RunID:   run.ID,
		JobName: "build",
		Outcome: domain.JobOutcomeSuccess,
	}
	if err := orch.processJobCompleted(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(jobs.created) != 1 || jobs.created[0] != "test" {
		t.Errorf("expected test dispatched, got %v", jobs.created)
	}
	if !orch.isRunActive(run.ID) {
		t.Error("run must stay active while jobs remain")
	}
}

func TestCompleteRun_VerdictDoesNotOverwriteCancellation(t *testing.T) {
	run := &domain.Run{ID: uuid.New(), Status: domain.RunStatusRunning}
	state := NewRunState(run, chainVersion())
	if err := state.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state.MarkJobCompleted("build")
	state.MarkJobCompleted("test")

	// В БД run уже CANCELLED: условный UPDATE не находит строку
	runs := &fakeRunStore{updateErr: repo.ErrInvalidState}
	orch := New(Config{})
	orch.runRepo = runs
	_ = orch.addActiveRun(state)

	if err := orch.completeRun(context.Background(), state); err != nil {
		t.Fatalf("completeRun() = %v, want nil", err)
	}
	if len(runs.updated) != 0 {
		t.Error("verdict written despite finalized run")
	}
	if orch.isRunActive(run.ID) {
		t.Error("finalized run must be dropped from active runs")
	}
}

func TestCompleteRun_RecordsVerdict(t *testing.T) {
	run := &domain.Run{ID: uuid.New(), Status: domain.RunStatusRunning}
	state := NewRunState(run, chainVersion())
	if err := state.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state.MarkJobCompleted("build")
	state.MarkJobCompleted("test")

	runs := &fakeRunStore{}
	orch := New(Config{})
	orch.runRepo = runs
	_ = orch.addActiveRun(state)

	if err := orch.completeRun(context.Background(), state); err != nil {
		t.Fatalf("completeRun() = %v, want nil", err)
	}
	if len(runs.updated) != 1 || runs.updated[0] != domain.RunStatusSucceeded {
		t.Errorf("expected SUCCEEDED recorded, got %v", runs.updated)
	}
}

// --- Orchestrator Tests ---

func TestNew(t *testing.T) {
	orch := New(Config{})

	if orch.activeRuns == nil {
		t.Error("activeRuns should be initialized")
	}
	if orch.pollInterval != defaultPollInterval {
		t.Errorf("expected default poll interval %v, got %v", defaultPollInterval, orch.pollInterval)
	}
	if orch.batchSize != defaultBatchSize {
		t.Errorf("expected default batch size %d, got %d", defaultBatchSize, orch.batchSize)
	}
}

func TestNew_CustomConfig(t *testing.T) {
	orch := New(Config{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
	})

	if orch.pollInterval != 5*time.Second {
		t.Errorf("expected poll interval 5s, got %v", orch.pollInterval)
	}
	if orch.batchSize != 50 {
		t.Errorf("expected batch size 50, got %d", orch.batchSize)
	}
}

func TestOrchestrator_ActiveRuns(t *testing.T) {
	orch := New(Config{})

	runID := uuid.New()
	state := &RunState{
		Run: &domain.Run{ID: runID},
	}

	// Initially no active runs
	if orch.ActiveRunsCount() != 0 {
		t.Error("should have no active runs initially")
	}
	if orch.isRunActive(runID) {
		t.Error("run should not be active initially")
	}

	// Add active run
	err := orch.addActiveRun(state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if orch.ActiveRunsCount() != 1 {
		t.Error("should have 1 active run")
	}
	if !orch.isRunActive(runID) {
		t.Error("run should be active")
	}
	if orch.getActiveRun(runID) != state {
		t.Error("getActiveRun should return the state")
	}

	// Try to add same run again
	err = orch.addActiveRun(state)
	if err != ErrRunAlreadyActive {
		t.Errorf("expected ErrRunAlreadyActive, got %v", err)
	}

	// Remove active run
	orch.removeActiveRun(runID)

	if orch.ActiveRunsCount() != 0 {
		t.Error("should have no active runs after removal")
	}
}

func TestOrchestrator_GetActiveRunStats(t *testing.T) {
	orch := New(Config{})

	runID := uuid.New()
	state := NewRunState(&domain.Run{ID: runID}, ciVersion())
	if err := state.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// No stats for non-existent run
	if _, ok := orch.GetActiveRunStats(runID); ok {
		t.Error("should not find stats for non-active run")
	}

	// Add run and get stats
	_ = orch.addActiveRun(state)
	stats, ok := orch.GetActiveRunStats(runID)
	if !ok {
		t.Fatal("should find stats for active run")
	}
	if stats.TotalJobs != 5 {
		t.Errorf("expected 5 total jobs, got %d", stats.TotalJobs)
	}
}

func TestOrchestrator_IsStopped(t *testing.T) {
	orch := New(Config{})

	if orch.IsStopped() {
		t.Error("should not be stopped initially")
	}

	orch.stoppedMu.Lock()
	orch.stopped = true
	orch.stoppedMu.Unlock()

	if !orch.IsStopped() {
		t.Error("should be stopped")
	}
}
