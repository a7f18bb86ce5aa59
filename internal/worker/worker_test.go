package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/steps"
)

// fakeStep — подменный исполнитель для тестов драйвера.
type fakeStep struct {
	kind string
	fn   func(ctx context.Context, req *steps.Request) (*steps.Response, error)
}

func (f *fakeStep) Kind() string { return f.kind }

func (f *fakeStep) Execute(ctx context.Context, req *steps.Request) (*steps.Response, error) {
	return f.fn(ctx, req)
}

// exitWith — исполнитель, возвращающий фиксированный exit code.
func exitWith(kind string, codes map[string]int) *fakeStep {
	return &fakeStep{
		kind: kind,
		fn: func(_ context.Context, req *steps.Request) (*steps.Response, error) {
			return &steps.Response{ExitCode: codes[req.Step.ID]}, nil
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testWorker(t *testing.T, reg *steps.Registry) *Worker {
	t.Helper()
	return New(Config{
		Registry:    reg,
		WorkDirRoot: t.TempDir(),
		Logger:      testLogger(),
	})
}

func testJob(softFail bool, stepDefs ...domain.StepDef) *domain.Job {
	return &domain.Job{
		ID:       uuid.New(),
		RunID:    uuid.New(),
		Name:     "fmt",
		Template: "fmt",
		SoftFail: softFail,
		Outcome:  domain.JobOutcomeRunning,
		Def: domain.JobDef{
			Name:     "fmt",
			SoftFail: softFail,
			Steps:    stepDefs,
		},
	}
}

func TestRunJobSuccess(t *testing.T) {
	reg := steps.NewRegistry()
	reg.Register(exitWith("run", nil))

	w := testWorker(t, reg)
	job := testJob(false,
		domain.StepDef{ID: "build", Kind: "run", Run: "make"},
		domain.StepDef{ID: "test", Kind: "run", Run: "make test"},
	)

	result := w.runJob(context.Background(), job, steps.RepoInfo{})

	if result.Failed || result.Cancelled {
		t.Fatalf("runJob failed: %+v", result)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(result.Steps))
	}
	for _, sr := range result.Steps {
		if sr.Status != domain.StepStatusSucceeded {
			t.Errorf("step %s status = %s, want SUCCEEDED", sr.StepID, sr.Status)
		}
	}
}

func TestRunJobHardFailureStopsSubsequentSteps(t *testing.T) {
	reg := steps.NewRegistry()
	reg.Register(exitWith("run", map[string]int{"build": 1}))

	w := testWorker(t, reg)
	job := testJob(false,
		domain.StepDef{ID: "build", Kind: "run", Run: "make"},
		domain.StepDef{ID: "test", Kind: "run", Run: "make test"},
		domain.StepDef{ID: "report", Kind: "run", Run: "notify", Condition: "on_failure"},
		domain.StepDef{ID: "cleanup", Kind: "run", Run: "rm -rf tmp", Condition: "always"},
	)

	result := w.runJob(context.Background(), job, steps.RepoInfo{})

	if !result.Failed {
		t.Fatal("Failed = false, want true")
	}
	if result.Soft {
		t.Error("Soft = true for hard failure")
	}

	want := map[string]domain.StepStatus{
		"build":   domain.StepStatusFailed,
		"test":    domain.StepStatusSkipped,
		"report":  domain.StepStatusSucceeded,
		"cleanup": domain.StepStatusSucceeded,
	}
	for _, sr := range result.Steps {
		if sr.Status != want[sr.StepID] {
			t.Errorf("step %s status = %s, want %s", sr.StepID, sr.Status, want[sr.StepID])
		}
	}
	if result.ErrMsg != "step build exited with code 1" {
		t.Errorf("ErrMsg = %q", result.ErrMsg)
	}
}

func TestRunJobToleratedStepSoftFail(t *testing.T) {
	reg := steps.NewRegistry()
	reg.Register(exitWith("run", map[string]int{"fmt-check": 1}))

	w := testWorker(t, reg)
	job := testJob(true,
		domain.StepDef{
			ID:              "fmt-check",
			Kind:            "run",
			Run:             "cargo fmt --check",
			ContinueOnError: true,
			Annotation: &domain.AnnotationDef{
				Severity: domain.SeverityNotice,
				Message:  "Run 'cargo fmt' locally and push the result",
			},
		},
		domain.StepDef{ID: "lint", Kind: "run", Run: "cargo clippy"},
	)

	result := w.runJob(context.Background(), job, steps.RepoInfo{})

	if !result.Failed {
		t.Fatal("Failed = false, want true")
	}
	if !result.Soft {
		t.Error("Soft = false for tolerated failure in soft-fail job")
	}

	// Шаг после tolerated-падения выполняется
	if result.Steps[1].Status != domain.StepStatusSucceeded {
		t.Errorf("lint status = %s, want SUCCEEDED", result.Steps[1].Status)
	}
	if result.Steps[0].Status != domain.StepStatusTolerated {
		t.Errorf("fmt-check status = %s, want TOLERATED", result.Steps[0].Status)
	}

	if len(result.Annotations) != 1 {
		t.Fatalf("len(Annotations) = %d, want 1", len(result.Annotations))
	}
	ann := result.Annotations[0]
	if ann.Message != "Run 'cargo fmt' locally and push the result" {
		t.Errorf("annotation message = %q, want operator text verbatim", ann.Message)
	}
	if ann.Severity != domain.SeverityNotice {
		t.Errorf("annotation severity = %s, want NOTICE", ann.Severity)
	}
	if ann.JobName != "fmt" || ann.StepID != "fmt-check" {
		t.Errorf("annotation attribution = %s/%s", ann.JobName, ann.StepID)
	}
}

func TestRunJobToleratedStepHardJob(t *testing.T) {
	reg := steps.NewRegistry()
	reg.Register(exitWith("run", map[string]int{"audit": 1}))

	w := testWorker(t, reg)
	job := testJob(false,
		domain.StepDef{ID: "audit", Kind: "run", Run: "cargo audit", ContinueOnError: true},
	)

	result := w.runJob(context.Background(), job, steps.RepoInfo{})

	if !result.Failed {
		t.Fatal("Failed = false, want true")
	}
	if result.Soft {
		t.Error("Soft = true for job without soft_fail")
	}
	if len(result.Annotations) != 1 {
		t.Fatalf("len(Annotations) = %d, want 1", len(result.Annotations))
	}
	// Оператор не задал текст — generic-сообщение
	if result.Annotations[0].Severity != domain.SeverityWarning {
		t.Errorf("default severity = %s, want WARNING", result.Annotations[0].Severity)
	}
}

func TestRunJobSetupFailureAlwaysFatal(t *testing.T) {
	reg := steps.NewRegistry()
	reg.Register(exitWith("setup", map[string]int{"toolchain": 1}))
	reg.Register(exitWith("run", nil))

	w := testWorker(t, reg)
	job := testJob(true,
		// continue_on_error на setup игнорируется
		domain.StepDef{ID: "toolchain", Kind: "setup", Run: "rustup install", ContinueOnError: true},
		domain.StepDef{ID: "build", Kind: "run", Run: "make"},
	)

	result := w.runJob(context.Background(), job, steps.RepoInfo{})

	if !result.Failed {
		t.Fatal("Failed = false, want true")
	}
	if result.Soft {
		t.Error("Soft = true for setup failure")
	}
	if result.Steps[0].Status != domain.StepStatusFailed {
		t.Errorf("toolchain status = %s, want FAILED", result.Steps[0].Status)
	}
	if result.Steps[1].Status != domain.StepStatusSkipped {
		t.Errorf("build status = %s, want SKIPPED", result.Steps[1].Status)
	}
}

func TestRunJobUnknownStepKind(t *testing.T) {
	w := testWorker(t, steps.NewRegistry())
	job := testJob(false,
		domain.StepDef{ID: "deploy", Kind: "deploy", Run: "kubectl apply"},
	)

	result := w.runJob(context.Background(), job, steps.RepoInfo{})

	if !result.Failed {
		t.Fatal("Failed = false, want true")
	}
	if result.Steps[0].Error == "" {
		t.Error("step error is empty, want registry error")
	}
}

func TestRunJobCancellation(t *testing.T) {
	reg := steps.NewRegistry()
	reg.Register(&fakeStep{
		kind: "run",
		fn: func(ctx context.Context, _ *steps.Request) (*steps.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	w := testWorker(t, reg)
	job := testJob(false,
		domain.StepDef{ID: "build", Kind: "run", Run: "make"},
		domain.StepDef{ID: "test", Kind: "run", Run: "make test"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := w.runJob(ctx, job, steps.RepoInfo{})

	if !result.Cancelled {
		t.Fatal("Cancelled = false, want true")
	}
	if result.Failed {
		t.Error("Failed = true for cancelled job")
	}
	// После отмены оставшиеся шаги не выполняются
	if len(result.Steps) != 1 {
		t.Errorf("len(Steps) = %d, want 1", len(result.Steps))
	}
}

func TestRunJobTimeout(t *testing.T) {
	reg := steps.NewRegistry()
	reg.Register(&fakeStep{
		kind: "run",
		fn: func(ctx context.Context, _ *steps.Request) (*steps.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	w := testWorker(t, reg)
	job := testJob(false, domain.StepDef{ID: "build", Kind: "run", Run: "make"})
	job.Def.TimeoutSec = 1

	result := w.runJob(context.Background(), job, steps.RepoInfo{})

	if result.Cancelled {
		t.Error("Cancelled = true for timeout, want FAILURE")
	}
	if !result.Failed {
		t.Fatal("Failed = false, want true")
	}
	if result.ErrMsg != "job timed out after 1s" {
		t.Errorf("ErrMsg = %q", result.ErrMsg)
	}
}

// --- processJob против гонок с отменой ---

type fakeJobStore struct {
	jobs        map[uuid.UUID]*domain.Job
	claimErr    error
	completeErr error
	claimed     int
	completed   []domain.JobOutcome
	updated     []domain.JobOutcome
}

func (f *fakeJobStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobStore) Claim(_ context.Context, _ *domain.Job) error {
	if f.claimErr != nil {
		return f.claimErr
	}
	f.claimed++
	return nil
}

func (f *fakeJobStore) Update(_ context.Context, job *domain.Job) error {
	f.updated = append(f.updated, job.Outcome)
	return nil
}

func (f *fakeJobStore) Complete(_ context.Context, job *domain.Job) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, job.Outcome)
	return nil
}

func (f *fakeJobStore) ListPending(context.Context, int) ([]domain.Job, error) { return nil, nil }

type fakeRunStore struct{}

func (fakeRunStore) GetByID(context.Context, uuid.UUID) (*domain.Run, error) {
	return nil, repo.ErrNotFound
}

type fakePublisher struct {
	payloads []mq.JobCompletedPayload
}

func (f *fakePublisher) PublishJobCompleted(_ context.Context, p mq.JobCompletedPayload) error {
	f.payloads = append(f.payloads, p)
	return nil
}

func TestProcessJobLostClaimSkipsExecution(t *testing.T) {
	executed := false
	reg := steps.NewRegistry()
	reg.Register(&fakeStep{
		kind: "run",
		fn: func(context.Context, *steps.Request) (*steps.Response, error) {
			executed = true
			return &steps.Response{}, nil
		},
	})

	job := testJob(false, domain.StepDef{ID: "build", Kind: "run", Run: "make"})
	job.Outcome = domain.JobOutcomePending

	// Условный claim не нашёл PENDING-строку: job взят другим воркером
	// или run отменён
	store := &fakeJobStore{
		jobs:     map[uuid.UUID]*domain.Job{job.ID: job},
		claimErr: repo.ErrInvalidState,
	}

	w := testWorker(t, reg)
	w.jobRepo = store
	w.runRepo = fakeRunStore{}

	err := w.processJob(context.Background(), job.ID)
	if !errors.Is(err, ErrJobNotPending) {
		t.Fatalf("processJob() = %v, want ErrJobNotPending", err)
	}
	if executed {
		t.Error("steps executed for a job claimed elsewhere")
	}
	if len(store.updated)+len(store.completed) != 0 {
		t.Error("job row written despite lost claim")
	}
}

func TestProcessJobVerdictDroppedWhenCancelledInDatabase(t *testing.T) {
	reg := steps.NewRegistry()
	reg.Register(exitWith("run", nil))

	job := testJob(false, domain.StepDef{ID: "build", Kind: "run", Run: "make"})
	job.Outcome = domain.JobOutcomePending

	// Пока шли шаги, run отменили из другого процесса: строка job
	// в БД уже CANCELLED, условный UPDATE её не находит
	store := &fakeJobStore{
		jobs:        map[uuid.UUID]*domain.Job{job.ID: job},
		completeErr: repo.ErrInvalidState,
	}
	pub := &fakePublisher{}

	w := testWorker(t, reg)
	w.jobRepo = store
	w.runRepo = fakeRunStore{}
	w.publisher = pub

	if err := w.processJob(context.Background(), job.ID); err != nil {
		t.Fatalf("processJob() = %v, want nil", err)
	}
	if len(store.completed) != 0 {
		t.Error("verdict written for cancelled job")
	}
	if len(store.updated) != 0 {
		t.Error("unconditional update used for verdict")
	}
	if len(pub.payloads) != 0 {
		t.Error("job.completed published for dropped verdict")
	}
}

func TestProcessJobPublishesVerdict(t *testing.T) {
	reg := steps.NewRegistry()
	reg.Register(exitWith("run", nil))

	job := testJob(false, domain.StepDef{ID: "build", Kind: "run", Run: "make"})
	job.Outcome = domain.JobOutcomePending

	store := &fakeJobStore{jobs: map[uuid.UUID]*domain.Job{job.ID: job}}
	pub := &fakePublisher{}

	w := testWorker(t, reg)
	w.jobRepo = store
	w.runRepo = fakeRunStore{}
	w.publisher = pub

	if err := w.processJob(context.Background(), job.ID); err != nil {
		t.Fatalf("processJob() = %v, want nil", err)
	}
	if store.claimed != 1 {
		t.Errorf("claimed = %d, want 1", store.claimed)
	}
	if len(store.completed) != 1 || store.completed[0] != domain.JobOutcomeSuccess {
		t.Errorf("expected SUCCESS recorded, got %v", store.completed)
	}
	if len(pub.payloads) != 1 || pub.payloads[0].Outcome != domain.JobOutcomeSuccess {
		t.Errorf("expected one SUCCESS job.completed, got %v", pub.payloads)
	}
}

func TestCancelRunJobs(t *testing.T) {
	w := testWorker(t, steps.NewRegistry())

	runID := uuid.New()
	otherRun := uuid.New()

	cancelled := make(map[string]bool)
	w.trackJob(uuid.New(), runID, func() { cancelled["a"] = true })
	w.trackJob(uuid.New(), runID, func() { cancelled["b"] = true })
	w.trackJob(uuid.New(), otherRun, func() { cancelled["c"] = true })

	if n := w.cancelRunJobs(runID); n != 2 {
		t.Errorf("cancelRunJobs() = %d, want 2", n)
	}
	if !cancelled["a"] || !cancelled["b"] {
		t.Error("jobs of cancelled run were not interrupted")
	}
	if cancelled["c"] {
		t.Error("job of another run was interrupted")
	}
	if w.RunningJobs() != 3 {
		t.Errorf("RunningJobs() = %d, want 3", w.RunningJobs())
	}
}

func TestShouldRunStep(t *testing.T) {
	tests := []struct {
		condition string
		jobFailed bool
		want      bool
	}{
		{"", false, true},
		{"", true, false},
		{"on_failure", false, false},
		{"on_failure", true, true},
		{"always", false, true},
		{"always", true, true},
	}

	for _, tt := range tests {
		if got := shouldRunStep(tt.condition, tt.jobFailed); got != tt.want {
			t.Errorf("shouldRunStep(%q, %v) = %v, want %v", tt.condition, tt.jobFailed, got, tt.want)
		}
	}
}

func TestMergeEnv(t *testing.T) {
	jobEnv := map[string]string{"CI": "1", "TARGET": "debug"}
	stepEnv := map[string]string{"TARGET": "release"}

	merged := mergeEnv(jobEnv, stepEnv)
	if merged["CI"] != "1" {
		t.Errorf("CI = %q, want 1", merged["CI"])
	}
	if merged["TARGET"] != "release" {
		t.Errorf("TARGET = %q, want step env to win", merged["TARGET"])
	}

	// Исходный env job не мутируется
	if jobEnv["TARGET"] != "debug" {
		t.Error("job env mutated")
	}

	if got := mergeEnv(jobEnv, nil); len(got) != len(jobEnv) {
		t.Errorf("mergeEnv(env, nil) = %v", got)
	}
}

func TestWorkerNewDefaults(t *testing.T) {
	w := New(Config{Logger: testLogger()})

	if w.pollInterval != defaultPollInterval {
		t.Errorf("pollInterval = %v, want %v", w.pollInterval, defaultPollInterval)
	}
	if w.batchSize != defaultBatchSize {
		t.Errorf("batchSize = %d, want %d", w.batchSize, defaultBatchSize)
	}
	if w.registry.Count() == 0 {
		t.Error("default registry is empty")
	}
	if w.IsStopped() {
		t.Error("new worker reports stopped")
	}
}
