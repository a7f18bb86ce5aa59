package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline — определение CI-конвейера.
//
// Pipeline — это "контракт" проверок для одного репозитория.
// Один pipeline может иметь множество версий (PipelineVersion).
// Каждый запуск (Run) выполняет конкретную версию pipeline.
type Pipeline struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя pipeline (например, "ci", "nightly-release").
	Name string `json:"name"`

	// IsActive — флаг активности. Неактивные pipelines не создают runs.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания pipeline.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineVersion — версия pipeline с конкретной спецификацией.
type PipelineVersion struct {
	// PipelineID — ссылка на родительский pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — номер версии (1, 2, 3, ...). Автоинкремент.
	Version int `json:"version"`

	// Spec — спецификация job-графа.
	Spec PipelineSpec `json:"spec"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineSpec — спецификация pipeline (содержимое JSONB поля spec).
//
// Это декларативный job-граф: какие jobs выполнять, при каких событиях,
// с каким кэшированием и какой политикой конкурентности.
type PipelineSpec struct {
	// Version — версия формата спецификации.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Name — имя pipeline (дублирует Pipeline.Name для удобства).
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Repo — URL git-репозитория для шагов checkout.
	Repo string `json:"repo,omitempty" yaml:"repo,omitempty"`

	// Triggers — события, создающие run.
	// Пустой список означает: только manual.
	Triggers []TriggerDef `json:"triggers,omitempty" yaml:"triggers,omitempty"`

	// Concurrency — политика групп конкурентности.
	Concurrency *ConcurrencyDef `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// Env — переменные окружения, передаваемые каждому job.
	// Например, флаг, отключающий инкрементальную сборку.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Jobs — jobs конвейера. Зависимости задаются через needs.
	Jobs []JobDef `json:"jobs" yaml:"jobs"`
}

// TriggerDef — определение триггера.
type TriggerDef struct {
	// Events — виды событий: "push", "change_request", "manual", "schedule".
	Events []string `json:"events" yaml:"events"`

	// Branches — ветки, для которых триггер активен. Пусто — все.
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`

	// PathsIgnore — пути, изменения в которых не создают run.
	// Паттерн с префиксом "!" — негация: принудительно включает путь
	// обратно даже под более широким исключением.
	PathsIgnore []string `json:"paths_ignore,omitempty" yaml:"paths_ignore,omitempty"`
}

// ConcurrencyDef — политика групп конкурентности.
type ConcurrencyDef struct {
	// Group — шаблон ключа группы. Поддерживает ${pipeline}, ${ref},
	// ${change_request}. По умолчанию: "${pipeline}:${group_ref}",
	// где group_ref — номер change request либо ref.
	Group string `json:"group,omitempty" yaml:"group,omitempty"`

	// ProtectedRefs — защищённые refs (например, "main"): runs на них
	// не отменяются при коллизии группы и только они пишут кэш.
	ProtectedRefs []string `json:"protected_refs,omitempty" yaml:"protected_refs,omitempty"`
}

// IsProtected проверяет, является ли ref защищённым.
// Если ProtectedRefs пуст, защищённым считается "main".
func (c *ConcurrencyDef) IsProtected(ref string) bool {
	refs := c.ProtectedRefs
	if len(refs) == 0 {
		refs = []string{"main"}
	}
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

// JobDef — определение job в pipeline.
type JobDef struct {
	// Name — уникальное имя job в рамках pipeline.
	Name string `json:"name" yaml:"name"`

	// Needs — имена jobs, от которых зависит этот job.
	// Job стартует только после SUCCESS всех зависимостей.
	Needs []string `json:"needs,omitempty" yaml:"needs,omitempty"`

	// SoftFail — если true, падение tolerated-шага не блокирует merge:
	// job помечается FAILURE, но с аннотацией вместо жёсткой ошибки.
	SoftFail bool `json:"soft_fail,omitempty" yaml:"soft_fail,omitempty"`

	// Matrix — параметризация шаблона job. Каждая комбинация значений
	// порождает отдельный job, выполняемый независимо и параллельно.
	// Значения доступны в шагах как ${matrix.<ключ>}.
	Matrix map[string][]string `json:"matrix,omitempty" yaml:"matrix,omitempty"`

	// Cache — кэширование для этого job.
	Cache *CacheDef `json:"cache,omitempty" yaml:"cache,omitempty"`

	// Env — переменные окружения job (поверх PipelineSpec.Env).
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// TimeoutSec — таймаут выполнения всего job в секундах.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`

	// Steps — упорядоченные шаги job. Выполняются строго последовательно.
	Steps []StepDef `json:"steps" yaml:"steps"`
}

// CacheDef — кэширование для job.
type CacheDef struct {
	// Key — ключ кэша. Поддерживает ${branch}, ${pipeline}, ${matrix.*}.
	// Например: "${branch}-cargo".
	Key string `json:"key" yaml:"key"`

	// Paths — пути внутри workspace, которые сохраняются/восстанавливаются.
	Paths []string `json:"paths" yaml:"paths"`
}

// StepDef — определение шага внутри job.
type StepDef struct {
	// ID — уникальный идентификатор шага в рамках job.
	ID string `json:"id" yaml:"id"`

	// Name — человекочитаемое имя шага.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Kind — вид шага: "checkout", "setup", "run".
	// checkout и setup — детерминированные подготовительные шаги:
	// их падение всегда фатально для job, независимо от soft_fail.
	Kind string `json:"kind" yaml:"kind"`

	// Run — командная нагрузка шага (выполняется через sh -c).
	// Для kind="checkout" игнорируется.
	Run string `json:"run,omitempty" yaml:"run,omitempty"`

	// Condition — условие выполнения: "" (всегда при успехе),
	// "on_failure" (только если предыдущий шаг упал), "always".
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// ContinueOnError — если true, падение шага записывается,
	// но выполнение job продолжается.
	ContinueOnError bool `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`

	// Env — переменные окружения шага (поверх job env).
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Annotation — аннотация, которую нужно выдать пользователю,
	// если этот шаг упал с ContinueOnError. Message выводится дословно
	// (например, инструкция какой командой починить форматирование).
	Annotation *AnnotationDef `json:"annotation,omitempty" yaml:"annotation,omitempty"`
}

// IsSetup возвращает true для подготовительных шагов.
func (s *StepDef) IsSetup() bool {
	return s.Kind == "checkout" || s.Kind == "setup"
}

// AnnotationDef — шаблон аннотации при tolerated-падении шага.
type AnnotationDef struct {
	// Severity — важность: "ERROR", "WARNING", "NOTICE".
	Severity Severity `json:"severity,omitempty" yaml:"severity,omitempty"`

	// Message — текст аннотации. Выводится ровно как задан оператором,
	// без подмены на generic "job failed".
	Message string `json:"message" yaml:"message"`

	// File — путь к файлу (опционально).
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// Line — строка в файле (опционально).
	Line int `json:"line,omitempty" yaml:"line,omitempty"`
}

// TriggerEvent — входное событие, из которого создаётся Run.
type TriggerEvent struct {
	// Event — вид события.
	Event EventKind `json:"event"`

	// Ref — ветка или commit reference.
	Ref string `json:"ref"`

	// ChangeRequest — номер change request (0, если событие не CR).
	ChangeRequest int `json:"change_request,omitempty"`

	// Commit — SHA коммита.
	Commit string `json:"commit,omitempty"`

	// ChangedPaths — изменённые пути (для path-фильтров).
	ChangedPaths []string `json:"changed_paths,omitempty"`
}
