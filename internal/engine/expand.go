package engine

import (
	"strconv"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Expand подставляет переменные вида ${имя} в строку.
//
// Поддерживается только форма со скобками: ${branch}, ${matrix.features}.
// Неизвестные переменные остаются как есть — команды шагов часто содержат
// shell-подстановки ($HOME, ${PATH}), которые трогать нельзя.
func Expand(s string, vars map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += start

		name := s[start+2 : end]
		b.WriteString(s[:start])

		if value, ok := vars[name]; ok {
			b.WriteString(value)
		} else {
			// не наша переменная — оставляем литерально
			b.WriteString(s[start : end+1])
		}

		s = s[end+1:]
	}

	return b.String()
}

// RunVars собирает переменные подстановки из метаданных run.
//
// Доступны: ${pipeline}, ${ref}, ${branch} (синоним ref), ${commit},
// ${change_request}, ${group_ref} (номер CR либо ref).
func RunVars(pipelineName string, trigger domain.TriggerEvent) map[string]string {
	groupRef := trigger.Ref
	if trigger.ChangeRequest > 0 {
		groupRef = "cr-" + strconv.Itoa(trigger.ChangeRequest)
	}

	return map[string]string{
		"pipeline":       pipelineName,
		"ref":            trigger.Ref,
		"branch":         trigger.Ref,
		"commit":         trigger.Commit,
		"change_request": strconv.Itoa(trigger.ChangeRequest),
		"group_ref":      groupRef,
	}
}

// GroupKey вычисляет ключ группы конкурентности для run.
//
// По умолчанию: "${pipeline}:${group_ref}" — runs одного change request
// (или одной ветки) попадают в одну группу и суперсидят друг друга.
func GroupKey(spec *domain.PipelineSpec, pipelineName string, trigger domain.TriggerEvent) string {
	tmpl := "${pipeline}:${group_ref}"
	if spec.Concurrency != nil && spec.Concurrency.Group != "" {
		tmpl = spec.Concurrency.Group
	}
	return Expand(tmpl, RunVars(pipelineName, trigger))
}
