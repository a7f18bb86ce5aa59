package steps

import (
	"context"
	"fmt"
	"strings"
)

// CheckoutStep получает исходники из git-репозитория в workspace.
type CheckoutStep struct {
	shell string
}

// NewCheckoutStep создаёт исполнителя checkout.
func NewCheckoutStep() *CheckoutStep {
	return &CheckoutStep{shell: "sh"}
}

// Kind возвращает вид шага.
func (s *CheckoutStep) Kind() string {
	return "checkout"
}

// Execute клонирует репозиторий и переключается на нужный коммит.
// Если коммит не задан, используется ref; без ref — дефолтная ветка.
func (s *CheckoutStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req.Repo.URL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRepo, req.Step.ID)
	}

	return runShell(ctx, s.shell, checkoutScript(req.Repo), req.WorkDir, req.Env, req.Timeout)
}

// checkoutScript собирает git-сценарий под конкретные координаты.
//
// Коммит забирается прямым fetch: shallow clone по ветке может его
// не содержать, если ветку успели обновить после старта run.
func checkoutScript(repo RepoInfo) string {
	var b strings.Builder

	switch {
	case repo.Commit != "":
		fmt.Fprintf(&b, "git init -q . && git remote add origin %s", shellQuote(repo.URL))
		fmt.Fprintf(&b, " && git fetch -q origin %s", shellQuote(repo.Commit))
		fmt.Fprintf(&b, " && git checkout -q %s", shellQuote(repo.Commit))
	case repo.Ref != "":
		fmt.Fprintf(&b, "git clone -q --depth 1 --branch %s %s .",
			shellQuote(repo.Ref), shellQuote(repo.URL))
	default:
		fmt.Fprintf(&b, "git clone -q --depth 1 %s .", shellQuote(repo.URL))
	}

	return b.String()
}

// shellQuote экранирует аргумент для подстановки в sh -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
