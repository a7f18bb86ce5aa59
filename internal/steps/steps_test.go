package steps

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	if r.Count() != 3 {
		t.Errorf("Count() = %d, want 3", r.Count())
	}

	want := []string{"checkout", "run", "setup"}
	kinds := r.Kinds()
	if len(kinds) != len(want) {
		t.Fatalf("Kinds() = %v, want %v", kinds, want)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("Kinds()[%d] = %q, want %q", i, kinds[i], k)
		}
	}
}

func TestRegistryGet(t *testing.T) {
	r := DefaultRegistry()

	step, err := r.Get("run")
	if err != nil {
		t.Fatalf("Get(run) error: %v", err)
	}
	if step.Kind() != "run" {
		t.Errorf("Kind() = %q, want run", step.Kind())
	}

	if _, err := r.Get("deploy"); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("Get(deploy) error = %v, want ErrStepNotFound", err)
	}
}

func TestRegistryRegisterOverwrite(t *testing.T) {
	r := NewRegistry()
	r.Register(NewCommandStep())
	r.Register(NewCommandStep())

	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
	if !r.Has("run") {
		t.Error("Has(run) = false, want true")
	}
}

func TestCommandStepSuccess(t *testing.T) {
	step := NewCommandStep()

	resp, err := step.Execute(context.Background(), &Request{
		Step:    &domain.StepDef{ID: "ok", Kind: "run", Run: "echo hello"},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !resp.OK() {
		t.Errorf("ExitCode = %d, want 0", resp.ExitCode)
	}
	if !strings.Contains(resp.Output, "hello") {
		t.Errorf("Output = %q, want contains hello", resp.Output)
	}
}

func TestCommandStepFailure(t *testing.T) {
	step := NewCommandStep()

	resp, err := step.Execute(context.Background(), &Request{
		Step:    &domain.StepDef{ID: "fail", Kind: "run", Run: "exit 3"},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if resp.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", resp.ExitCode)
	}
	if resp.OK() {
		t.Error("OK() = true for failed command")
	}
}

func TestCommandStepNoCommand(t *testing.T) {
	step := NewCommandStep()

	_, err := step.Execute(context.Background(), &Request{
		Step:    &domain.StepDef{ID: "empty", Kind: "run"},
		WorkDir: t.TempDir(),
	})
	if !errors.Is(err, ErrNoCommand) {
		t.Errorf("Execute() error = %v, want ErrNoCommand", err)
	}
}

func TestCommandStepEnv(t *testing.T) {
	step := NewCommandStep()

	resp, err := step.Execute(context.Background(), &Request{
		Step:    &domain.StepDef{ID: "env", Kind: "run", Run: "echo $GREETING"},
		WorkDir: t.TempDir(),
		Env:     map[string]string{"GREETING": "privet"},
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !strings.Contains(resp.Output, "privet") {
		t.Errorf("Output = %q, want contains privet", resp.Output)
	}
}

func TestCommandStepTimeout(t *testing.T) {
	step := NewCommandStep()

	start := time.Now()
	_, err := step.Execute(context.Background(), &Request{
		Step:    &domain.StepDef{ID: "slow", Kind: "run", Run: "sleep 30"},
		WorkDir: t.TempDir(),
		Timeout: 100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want cancellation")
	}
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Errorf("Execute() took %v, want fast cancellation", elapsed)
	}
}

func TestCommandStepCancel(t *testing.T) {
	step := NewCommandStep()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := step.Execute(ctx, &Request{
		Step:    &domain.StepDef{ID: "slow", Kind: "run", Run: "sleep 30"},
		WorkDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want cancellation")
	}
}

func TestSetupStepRunsCommand(t *testing.T) {
	step := NewSetupStep()

	if step.Kind() != "setup" {
		t.Errorf("Kind() = %q, want setup", step.Kind())
	}

	resp, err := step.Execute(context.Background(), &Request{
		Step:    &domain.StepDef{ID: "toolchain", Kind: "setup", Run: "true"},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !resp.OK() {
		t.Errorf("ExitCode = %d, want 0", resp.ExitCode)
	}
}

func TestSetupStepNoCommand(t *testing.T) {
	step := NewSetupStep()

	_, err := step.Execute(context.Background(), &Request{
		Step:    &domain.StepDef{ID: "toolchain", Kind: "setup"},
		WorkDir: t.TempDir(),
	})
	if !errors.Is(err, ErrNoCommand) {
		t.Errorf("Execute() error = %v, want ErrNoCommand", err)
	}
}

func TestCheckoutStepNoRepo(t *testing.T) {
	step := NewCheckoutStep()

	_, err := step.Execute(context.Background(), &Request{
		Step:    &domain.StepDef{ID: "checkout", Kind: "checkout"},
		WorkDir: t.TempDir(),
	})
	if !errors.Is(err, ErrNoRepo) {
		t.Errorf("Execute() error = %v, want ErrNoRepo", err)
	}
}

func TestCheckoutScript(t *testing.T) {
	tests := []struct {
		name string
		repo RepoInfo
		want []string
	}{
		{
			name: "commit pinned",
			repo: RepoInfo{URL: "https://git.local/ci.git", Ref: "main", Commit: "abc123"},
			want: []string{"git init", "git fetch -q origin 'abc123'", "git checkout -q 'abc123'"},
		},
		{
			name: "branch only",
			repo: RepoInfo{URL: "https://git.local/ci.git", Ref: "feature/x"},
			want: []string{"git clone -q --depth 1 --branch 'feature/x'"},
		},
		{
			name: "default branch",
			repo: RepoInfo{URL: "https://git.local/ci.git"},
			want: []string{"git clone -q --depth 1 'https://git.local/ci.git' ."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := checkoutScript(tt.repo)
			for _, frag := range tt.want {
				if !strings.Contains(script, frag) {
					t.Errorf("script %q missing %q", script, frag)
				}
			}
		})
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("plain"); got != "'plain'" {
		t.Errorf("shellQuote(plain) = %q", got)
	}
	if got := shellQuote("o'neil"); got != `'o'\''neil'` {
		t.Errorf("shellQuote(o'neil) = %q", got)
	}
}

func TestTruncateOutput(t *testing.T) {
	short := "hello"
	if got := truncateOutput(short); got != short {
		t.Errorf("truncateOutput(short) = %q", got)
	}

	long := strings.Repeat("x", maxOutputBytes+100)
	got := truncateOutput(long)
	if len(got) >= len(long) {
		t.Error("truncateOutput did not shrink long output")
	}
	if !strings.HasSuffix(got, "(output truncated)") {
		t.Error("truncateOutput missing truncation marker")
	}
}
