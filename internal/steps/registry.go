package steps

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр исполнителей шагов по виду.
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]Step),
	}
}

// DefaultRegistry создаёт реестр со всеми стандартными исполнителями.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(NewCheckoutStep())
	r.Register(NewSetupStep())
	r.Register(NewCommandStep())

	return r
}

// Register регистрирует исполнителя.
// Если исполнитель такого вида уже существует, он будет перезаписан.
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.Kind()] = step
}

// Get возвращает исполнителя по виду шага.
// Возвращает ErrStepNotFound, если исполнитель не найден.
func (r *Registry) Get(kind string) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, exists := r.steps[kind]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, kind)
	}

	return step, nil
}

// Has проверяет, зарегистрирован ли исполнитель.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.steps[kind]
	return exists
}

// Kinds возвращает список всех зарегистрированных видов шагов.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.steps))
	for k := range r.steps {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Count возвращает количество зарегистрированных исполнителей.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}
