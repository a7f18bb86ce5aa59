package steps

import (
	"context"
	"fmt"
	"strings"
)

// SetupStep выполняет подготовку окружения job: установку тулчейна
// и системных зависимостей. Нагрузка та же, что у run, но падение
// setup драйвер всегда трактует как фатальное, независимо от
// continue_on_error.
type SetupStep struct {
	shell string
}

// NewSetupStep создаёт исполнителя setup.
func NewSetupStep() *SetupStep {
	return &SetupStep{shell: "sh"}
}

// Kind возвращает вид шага.
func (s *SetupStep) Kind() string {
	return "setup"
}

// Execute выполняет подготовительную команду в workspace.
func (s *SetupStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Step.Run) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCommand, req.Step.ID)
	}

	return runShell(ctx, s.shell, req.Step.Run, req.WorkDir, req.Env, req.Timeout)
}
