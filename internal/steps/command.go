package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

const (
	// defaultStepTimeout — таймаут шага, если job не задал свой.
	defaultStepTimeout = 30 * time.Minute

	// killGracePeriod — сколько процессу даётся на завершение после
	// отмены (SIGINT), прежде чем он получит SIGKILL.
	killGracePeriod = 10 * time.Second

	// maxOutputBytes — предел захваченного вывода шага.
	maxOutputBytes = 1 << 20
)

// CommandStep выполняет командную нагрузку шага через sh -c.
type CommandStep struct {
	shell string
}

// NewCommandStep создаёт исполнителя команд.
func NewCommandStep() *CommandStep {
	return &CommandStep{shell: "sh"}
}

// Kind возвращает вид шага.
func (s *CommandStep) Kind() string {
	return "run"
}

// Execute выполняет команду шага в workspace.
func (s *CommandStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Step.Run) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCommand, req.Step.ID)
	}

	return runShell(ctx, s.shell, req.Step.Run, req.WorkDir, req.Env, req.Timeout)
}

// runShell запускает команду через оболочку и захватывает stdout+stderr.
//
// Падение команды (ненулевой exit code) — не ошибка Execute: решение
// о судьбе job принимает драйвер. error возвращается только для
// инфраструктурных сбоев и отмены.
func runShell(ctx context.Context, shell, command, dir string, env map[string]string, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = mergedEnv(env)

	// При отмене контекста процесс получает SIGINT и grace period
	// на уборку, затем SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = killGracePeriod

	out, err := cmd.CombinedOutput()
	output := truncateOutput(string(out))

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ctx.Err() != nil {
				return &Response{ExitCode: exitErr.ExitCode(), Output: output},
					fmt.Errorf("%w: %v", ErrStepCancelled, context.Cause(ctx))
			}
			return &Response{ExitCode: exitErr.ExitCode(), Output: output}, nil
		}
		return nil, fmt.Errorf("run command: %w", err)
	}

	return &Response{ExitCode: 0, Output: output}, nil
}

// mergedEnv накладывает env шага поверх системного окружения.
// Ключи сортируются для детерминированности.
func mergedEnv(env map[string]string) []string {
	out := os.Environ()

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// truncateOutput обрезает слишком длинный вывод шага.
func truncateOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... (output truncated)"
}
