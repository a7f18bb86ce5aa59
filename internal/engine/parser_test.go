package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

const sampleYAML = `
name: ci
env:
  BUILD_INCREMENTAL: "0"
triggers:
  - events: [push, change_request]
    paths_ignore:
      - "docs/**"
      - "!docs/build.md"
concurrency:
  protected_refs: [main]
jobs:
  - name: check
    matrix:
      features: [all, none]
    steps:
      - id: checkout
        kind: checkout
      - id: check
        kind: run
        run: cargo check --features ${matrix.features}
  - name: fmt
    soft_fail: true
    steps:
      - id: checkout
        kind: checkout
      - id: fmt
        kind: run
        run: cargo fmt --check
        continue_on_error: true
        annotation:
          severity: ERROR
          message: "Run 'cargo fmt' locally and push the result"
`

func TestParseYAML(t *testing.T) {
	spec, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if spec.Name != "ci" {
		t.Errorf("expected name ci, got %s", spec.Name)
	}
	if spec.Env["BUILD_INCREMENTAL"] != "0" {
		t.Error("pipeline env not parsed")
	}
	if len(spec.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(spec.Jobs))
	}

	fmtJob := spec.Jobs[1]
	if !fmtJob.SoftFail {
		t.Error("fmt job should be soft_fail")
	}
	step := fmtJob.Steps[1]
	if !step.ContinueOnError {
		t.Error("fmt step should be continue_on_error")
	}
	if step.Annotation == nil || step.Annotation.Message != "Run 'cargo fmt' locally and push the result" {
		t.Errorf("annotation message lost: %+v", step.Annotation)
	}

	if len(spec.Triggers) != 1 || len(spec.Triggers[0].PathsIgnore) != 2 {
		t.Errorf("triggers not parsed: %+v", spec.Triggers)
	}
}

func TestParseYAML_Invalid(t *testing.T) {
	_, err := ParseYAML([]byte("jobs: ["))
	if !errors.Is(err, ErrParseSpec) {
		t.Errorf("expected ErrParseSpec, got %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec *domain.PipelineSpec
		want error
	}{
		{
			name: "no jobs",
			spec: &domain.PipelineSpec{},
			want: ErrEmptyJobs,
		},
		{
			name: "duplicate job name",
			spec: specWithJobs(simpleJob("a"), simpleJob("a")),
			want: ErrDuplicateJobName,
		},
		{
			name: "no steps",
			spec: specWithJobs(domain.JobDef{Name: "a"}),
			want: ErrEmptySteps,
		},
		{
			name: "unknown step kind",
			spec: specWithJobs(domain.JobDef{
				Name:  "a",
				Steps: []domain.StepDef{{ID: "x", Kind: "teleport"}},
			}),
			want: ErrUnknownStepKind,
		},
		{
			name: "duplicate step id",
			spec: specWithJobs(domain.JobDef{
				Name: "a",
				Steps: []domain.StepDef{
					{ID: "x", Kind: "run", Run: "true"},
					{ID: "x", Kind: "run", Run: "true"},
				},
			}),
			want: ErrDuplicateStepID,
		},
		{
			name: "unknown dependency",
			spec: specWithJobs(simpleJob("a", "ghost")),
			want: ErrMissingDependency,
		},
		{
			name: "self dependency",
			spec: specWithJobs(simpleJob("a", "a")),
			want: ErrSelfDependency,
		},
		{
			name: "setup with continue_on_error",
			spec: specWithJobs(domain.JobDef{
				Name: "a",
				Steps: []domain.StepDef{
					{ID: "co", Kind: "checkout", ContinueOnError: true},
				},
			}),
			want: ErrSetupTolerated,
		},
		{
			name: "empty matrix key",
			spec: specWithJobs(domain.JobDef{
				Name:   "a",
				Matrix: map[string][]string{"features": {}},
				Steps:  []domain.StepDef{{ID: "x", Kind: "run", Run: "true"}},
			}),
			want: ErrEmptyMatrix,
		},
		{
			name: "cache without paths",
			spec: specWithJobs(domain.JobDef{
				Name:  "a",
				Cache: &domain.CacheDef{Key: "k"},
				Steps: []domain.StepDef{{ID: "x", Kind: "run", Run: "true"}},
			}),
			want: ErrInvalidCache,
		},
		{
			name: "annotation without message",
			spec: specWithJobs(domain.JobDef{
				Name: "a",
				Steps: []domain.StepDef{
					{ID: "x", Kind: "run", Run: "true", ContinueOnError: true,
						Annotation: &domain.AnnotationDef{Severity: domain.SeverityError}},
				},
			}),
			want: ErrEmptyAnnotation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.spec)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_OK(t *testing.T) {
	spec, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Validate(spec); err != nil {
		t.Errorf("valid spec rejected: %v", err)
	}
}
