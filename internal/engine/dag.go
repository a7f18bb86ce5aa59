package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Node — узел job-графа: один конкретный job (вариант шаблона).
type Node struct {
	// Def — развёрнутое определение job. Для matrix-вариантов значения
	// ${matrix.*} уже подставлены в команды и env.
	Def *domain.JobDef

	// Name — полное имя узла: "check" или "check (features=none)".
	Name string

	// Template — имя JobDef-шаблона, из которого узел развёрнут.
	Template string

	// Variant — выбранные значения matrix (ключ → значение).
	Variant map[string]string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — направленный ациклический граф jobs одного pipeline.
//
// Граф строится явно даже для pipeline без единого ребра (полный
// параллелизм): логика готовности и пропуска одинакова для всех случаев.
type DAG struct {
	// Nodes — все узлы графа (полное имя → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node

	// byTemplate — узлы по имени шаблона (для связывания needs).
	byTemplate map[string][]*Node
}

// BuildDAG строит DAG из PipelineSpec.
//
// Для jobs с matrix создаётся по узлу на каждую комбинацию значений:
// шаблон "check" с matrix {features: [all, none]} даёт узлы
// "check (features=all)" и "check (features=none)", выполняемые
// независимо и параллельно, каждый со своим исходом.
//
// Needs ссылаются на имя шаблона: зависимость от "check" означает
// зависимость от всех его вариантов.
func BuildDAG(spec *domain.PipelineSpec) (*DAG, error) {
	dag := &DAG{
		Nodes:      make(map[string]*Node),
		RootNodes:  make([]*Node, 0),
		byTemplate: make(map[string][]*Node),
	}

	// Первый проход: разворачиваем шаблоны в узлы
	for i := range spec.Jobs {
		job := &spec.Jobs[i]

		for _, variant := range expandMatrix(job.Matrix) {
			node, err := dag.addNode(job, variant)
			if err != nil {
				return nil, err
			}
			dag.byTemplate[job.Name] = append(dag.byTemplate[job.Name], node)
		}
	}

	// Второй проход: связываем узлы по needs
	for _, node := range dag.Nodes {
		for _, dep := range node.Def.Needs {
			depNodes, exists := dag.byTemplate[dep]
			if !exists {
				return nil, NewValidationError(node.Template, "needs",
					fmt.Sprintf("needs unknown job: %s", dep), ErrMissingDependency)
			}
			for _, depNode := range depNodes {
				dag.addEdge(depNode, node)
			}
		}
	}

	dag.findRootNodes()

	// Проверяем на циклы и строим топологический порядок
	order, err := dag.topologicalSort()
	if err != nil {
		return nil, err
	}
	dag.Order = order

	return dag, nil
}

// addNode добавляет узел для одного варианта шаблона.
func (d *DAG) addNode(tmpl *domain.JobDef, variant map[string]string) (*Node, error) {
	def := instantiate(tmpl, variant)
	name := variantName(tmpl.Name, variant)

	if _, exists := d.Nodes[name]; exists {
		return nil, NewValidationError(tmpl.Name, "matrix",
			fmt.Sprintf("duplicate expanded job name: %s", name), ErrDuplicateJobName)
	}

	node := &Node{
		Def:        def,
		Name:       name,
		Template:   tmpl.Name,
		Variant:    variant,
		DependsOn:  make([]*Node, 0),
		Dependents: make([]*Node, 0),
	}
	d.Nodes[name] = node
	return node, nil
}

// instantiate создаёт копию JobDef с подставленными значениями matrix.
func instantiate(tmpl *domain.JobDef, variant map[string]string) *domain.JobDef {
	def := *tmpl
	def.Matrix = nil

	if len(variant) > 0 {
		vars := make(map[string]string, len(variant))
		for k, v := range variant {
			vars["matrix."+k] = v
		}

		if len(tmpl.Env) > 0 {
			def.Env = make(map[string]string, len(tmpl.Env))
			for k, v := range tmpl.Env {
				def.Env[k] = Expand(v, vars)
			}
		}

		def.Steps = make([]domain.StepDef, len(tmpl.Steps))
		copy(def.Steps, tmpl.Steps)
		for i := range def.Steps {
			def.Steps[i].Run = Expand(def.Steps[i].Run, vars)
		}

		if tmpl.Cache != nil {
			cache := *tmpl.Cache
			cache.Key = Expand(cache.Key, vars)
			def.Cache = &cache
		}
	}

	return &def
}

// variantName формирует полное имя узла для варианта matrix.
// Ключи сортируются, чтобы имя было детерминированным.
func variantName(template string, variant map[string]string) string {
	if len(variant) == 0 {
		return template
	}

	keys := make([]string, 0, len(variant))
	for k := range variant {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+variant[k])
	}
	return fmt.Sprintf("%s (%s)", template, strings.Join(parts, ", "))
}

// expandMatrix строит декартово произведение значений matrix.
// Для пустого matrix возвращает один пустой вариант.
func expandMatrix(matrix map[string][]string) []map[string]string {
	if len(matrix) == 0 {
		return []map[string]string{nil}
	}

	keys := make([]string, 0, len(matrix))
	for k := range matrix {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	variants := []map[string]string{{}}
	for _, key := range keys {
		next := make([]map[string]string, 0, len(variants)*len(matrix[key]))
		for _, base := range variants {
			for _, value := range matrix[key] {
				v := make(map[string]string, len(base)+1)
				for bk, bv := range base {
					v[bk] = bv
				}
				v[key] = value
				next = append(next, v)
			}
		}
		variants = next
	}
	return variants
}

// addEdge добавляет ребро между узлами.
// Дубликаты игнорируются, чтобы не завышать InDegree.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.Name == from.Name {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (d *DAG) findRootNodes() {
	d.RootNodes = make([]*Node, 0)
	for _, node := range d.Nodes {
		if node.InDegree == 0 {
			d.RootNodes = append(d.RootNodes, node)
		}
	}
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (d *DAG) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int)
	for name, node := range d.Nodes {
		inDegree[name] = node.InDegree
	}

	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.Name]--
			if inDegree[dependent.Name] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(d.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// GetReadyNodes возвращает узлы, готовые к диспатчу.
//
// Узел готов, если все его зависимости в completed, а сам он
// не завершён, не выполняется и не задет падением зависимости.
func (d *DAG) GetReadyNodes(completed, running, failed map[string]bool) []*Node {
	ready := make([]*Node, 0)

	for _, node := range d.Order {
		if completed[node.Name] || running[node.Name] || failed[node.Name] {
			continue
		}

		ok := true
		for _, dep := range node.DependsOn {
			if !completed[dep.Name] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, node)
		}
	}

	return ready
}

// GetSkippedNodes возвращает узлы, которые нельзя выполнять из-за
// упавших (или пропущенных) зависимостей. Такие jobs помечаются
// SKIPPED, а не выполняются.
func (d *DAG) GetSkippedNodes(failed map[string]bool) []*Node {
	dead := make(map[string]bool, len(failed))
	for name := range failed {
		dead[name] = true
	}

	skipped := make([]*Node, 0)
	for _, node := range d.Order {
		if dead[node.Name] {
			continue
		}
		for _, dep := range node.DependsOn {
			if dead[dep.Name] {
				dead[node.Name] = true
				skipped = append(skipped, node)
				break
			}
		}
	}
	return skipped
}

// GetNode возвращает узел по полному имени.
func (d *DAG) GetNode(name string) *Node {
	return d.Nodes[name]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}
