package steps

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — вид шага не найден в реестре.
	ErrStepNotFound = errors.New("step kind not found")

	// ErrNoCommand — шаг run без командной нагрузки.
	ErrNoCommand = errors.New("step has no command")

	// ErrNoRepo — checkout без URL репозитория.
	ErrNoRepo = errors.New("checkout has no repository URL")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")
)

// Step — интерфейс исполнителя одного вида шагов.
type Step interface {
	// Kind возвращает вид шага: "checkout", "setup", "run".
	Kind() string

	// Execute выполняет шаг и возвращает результат.
	// error — только инфраструктурные сбои; падение команды
	// возвращается как Response с ненулевым ExitCode.
	// Шаг должен уважать ctx.Done() для отмены run.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request — входные данные для выполнения шага.
type Request struct {
	// Step — определение шага (команда уже с подставленными переменными).
	Step *domain.StepDef

	// WorkDir — изолированный workspace job.
	WorkDir string

	// Env — полное окружение шага (pipeline + job + step поверх системного).
	Env map[string]string

	// Repo — источник кода для checkout.
	Repo RepoInfo

	// Timeout — таймаут шага. 0 — наследуется от job.
	Timeout time.Duration
}

// RepoInfo — координаты исходников для checkout.
type RepoInfo struct {
	// URL — адрес git-репозитория.
	URL string

	// Ref — ветка или тег.
	Ref string

	// Commit — SHA коммита. Если задан, checkout делается на него.
	Commit string
}

// Response — результат выполнения шага.
type Response struct {
	// ExitCode — код завершения команды (0 — успех).
	ExitCode int

	// Output — захваченный stdout+stderr.
	Output string
}

// OK возвращает true при нулевом exit code.
func (r *Response) OK() bool {
	return r.ExitCode == 0
}
