package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func specWithJobs(jobs ...domain.JobDef) *domain.PipelineSpec {
	return &domain.PipelineSpec{Jobs: jobs}
}

func simpleJob(name string, needs ...string) domain.JobDef {
	return domain.JobDef{
		Name:  name,
		Needs: needs,
		Steps: []domain.StepDef{
			{ID: "checkout", Kind: "checkout"},
			{ID: "main", Kind: "run", Run: "true"},
		},
	}
}

func TestBuildDAG_NoEdges(t *testing.T) {
	// Все jobs независимы — полный параллелизм, но граф строится явно
	spec := specWithJobs(
		simpleJob("build"),
		simpleJob("test"),
		simpleJob("lint"),
	)

	dag, err := BuildDAG(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dag.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", dag.Size())
	}
	if len(dag.RootNodes) != 3 {
		t.Errorf("expected 3 root nodes, got %d", len(dag.RootNodes))
	}

	ready := dag.GetReadyNodes(map[string]bool{}, map[string]bool{}, map[string]bool{})
	if len(ready) != 3 {
		t.Errorf("all 3 jobs should be ready immediately, got %d", len(ready))
	}
}

func TestBuildDAG_Chain(t *testing.T) {
	spec := specWithJobs(
		simpleJob("build"),
		simpleJob("test", "build"),
		simpleJob("deploy", "test"),
	)

	dag, err := BuildDAG(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dag.RootNodes) != 1 || dag.RootNodes[0].Name != "build" {
		t.Fatalf("expected single root build, got %v", dag.RootNodes)
	}

	nodeTest := dag.GetNode("test")
	if len(nodeTest.DependsOn) != 1 || nodeTest.DependsOn[0].Name != "build" {
		t.Error("test should depend on build")
	}

	// Пока build не завершён, test не готов
	ready := dag.GetReadyNodes(map[string]bool{}, map[string]bool{}, map[string]bool{})
	if len(ready) != 1 || ready[0].Name != "build" {
		t.Errorf("only build should be ready, got %v", ready)
	}

	ready = dag.GetReadyNodes(map[string]bool{"build": true}, map[string]bool{}, map[string]bool{})
	if len(ready) != 1 || ready[0].Name != "test" {
		t.Errorf("only test should be ready after build, got %v", ready)
	}
}

func TestBuildDAG_Diamond(t *testing.T) {
	// build → test → release
	// build → lint → release
	spec := specWithJobs(
		simpleJob("build"),
		simpleJob("test", "build"),
		simpleJob("lint", "build"),
		simpleJob("release", "test", "lint"),
	)

	dag, err := BuildDAG(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	release := dag.GetNode("release")
	if release.InDegree != 2 {
		t.Errorf("release should have inDegree 2, got %d", release.InDegree)
	}

	// release готов только после обеих зависимостей
	completed := map[string]bool{"build": true, "test": true}
	ready := dag.GetReadyNodes(completed, map[string]bool{}, map[string]bool{})
	for _, n := range ready {
		if n.Name == "release" {
			t.Error("release should not be ready while lint incomplete")
		}
	}

	completed["lint"] = true
	ready = dag.GetReadyNodes(completed, map[string]bool{}, map[string]bool{})
	if len(ready) != 1 || ready[0].Name != "release" {
		t.Errorf("release should be ready, got %v", ready)
	}
}

func TestBuildDAG_Cycle(t *testing.T) {
	spec := specWithJobs(
		simpleJob("a", "b"),
		simpleJob("b", "a"),
	)

	_, err := BuildDAG(spec)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestBuildDAG_MatrixExpansion(t *testing.T) {
	job := simpleJob("check")
	job.Matrix = map[string][]string{
		"features": {"all", "none", "each"},
	}
	job.Steps = []domain.StepDef{
		{ID: "checkout", Kind: "checkout"},
		{ID: "check", Kind: "run", Run: "cargo check --features ${matrix.features}"},
	}

	dag, err := BuildDAG(specWithJobs(job))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Один шаблон — три независимых job
	if dag.Size() != 3 {
		t.Fatalf("expected 3 expanded jobs, got %d", dag.Size())
	}

	node := dag.GetNode("check (features=none)")
	if node == nil {
		t.Fatal("expected node check (features=none)")
	}
	if node.Template != "check" {
		t.Errorf("template should be check, got %s", node.Template)
	}
	if node.Variant["features"] != "none" {
		t.Errorf("variant should be none, got %v", node.Variant)
	}

	// Значение matrix подставлено в команду
	if got := node.Def.Steps[1].Run; got != "cargo check --features none" {
		t.Errorf("matrix value not expanded into command: %q", got)
	}

	// Все варианты независимы и готовы сразу
	ready := dag.GetReadyNodes(map[string]bool{}, map[string]bool{}, map[string]bool{})
	if len(ready) != 3 {
		t.Errorf("all variants should be ready, got %d", len(ready))
	}
}

func TestBuildDAG_NeedsMatrixTemplate(t *testing.T) {
	check := simpleJob("check")
	check.Matrix = map[string][]string{"mode": {"debug", "release"}}

	spec := specWithJobs(check, simpleJob("publish", "check"))

	dag, err := BuildDAG(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Зависимость от шаблона — зависимость от всех его вариантов
	publish := dag.GetNode("publish")
	if publish.InDegree != 2 {
		t.Errorf("publish should depend on both variants, got inDegree %d", publish.InDegree)
	}
}

func TestDAG_SkippedNodes(t *testing.T) {
	spec := specWithJobs(
		simpleJob("build"),
		simpleJob("test", "build"),
		simpleJob("deploy", "test"),
		simpleJob("lint"),
	)

	dag, err := BuildDAG(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// build упал — test и deploy пропускаются транзитивно, lint не задет
	skipped := dag.GetSkippedNodes(map[string]bool{"build": true})

	names := make(map[string]bool)
	for _, n := range skipped {
		names[n.Name] = true
	}
	if !names["test"] || !names["deploy"] {
		t.Errorf("test and deploy should be skipped, got %v", names)
	}
	if names["lint"] {
		t.Error("lint should not be skipped")
	}
}
