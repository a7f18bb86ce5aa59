package engine

import (
	"path"
	"strings"
)

// PathFilter — фильтр изменённых путей триггера.
//
// Строится из списка paths_ignore: обычный паттерн исключает пути,
// паттерн с префиксом "!" — негация, принудительно возвращающая путь
// даже под более широким исключением:
//
//	paths_ignore:
//	  - "docs/**"
//	  - "!docs/build.md"
//
// Run создаётся, только если хотя бы один изменённый путь не исключён.
type PathFilter struct {
	ignore  []string
	include []string
}

// NewPathFilter создаёт фильтр из списка paths_ignore.
func NewPathFilter(patterns []string) *PathFilter {
	f := &PathFilter{}
	for _, p := range patterns {
		if negated, ok := strings.CutPrefix(p, "!"); ok {
			f.include = append(f.include, negated)
		} else {
			f.ignore = append(f.ignore, p)
		}
	}
	return f
}

// ShouldRun решает, создавать ли run для набора изменённых путей.
//
// Изменение, затрагивающее только исключённые пути, run не создаёт —
// кроме случая, когда негированный паттерн возвращает путь обратно.
// Пустой список изменений (manual/schedule-триггеры без diff) даёт true.
func (f *PathFilter) ShouldRun(changedPaths []string) bool {
	if len(changedPaths) == 0 {
		return true
	}

	for _, p := range changedPaths {
		if !f.Excluded(p) {
			return true
		}
	}
	return false
}

// Excluded проверяет, исключён ли один путь.
func (f *PathFilter) Excluded(p string) bool {
	for _, inc := range f.include {
		if matchGlob(inc, p) {
			return false
		}
	}
	for _, ign := range f.ignore {
		if matchGlob(ign, p) {
			return true
		}
	}
	return false
}

// matchGlob сопоставляет путь с glob-паттерном.
//
// В отличие от path.Match, поддерживает "**" — любое число сегментов
// (включая ноль). Внутри сегмента действуют обычные правила path.Match.
func matchGlob(pattern, p string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(p, "/"))
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) == 0 {
		return len(segs) == 0
	}

	if pattern[0] == "**" {
		// "**" в хвосте матчит всё
		if len(pattern) == 1 {
			return true
		}
		// пробуем съесть 0..N сегментов
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pattern[1:], segs[i:]) {
				return true
			}
		}
		return false
	}

	if len(segs) == 0 {
		return false
	}

	ok, err := path.Match(pattern[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segs[1:])
}
