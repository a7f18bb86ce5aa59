// Package engine содержит движок интерпретации pipeline-спецификаций.
//
// Включает:
//   - parser.go     — парсинг PipelineSpec из YAML/JSON
//   - validate.go   — валидация спецификации
//   - dag.go        — построение и обход job-графа (с развёрткой matrix)
//   - pathfilter.go — path-фильтры триггеров (с негацией)
//   - expand.go     — подстановка ${...} переменных в команды, env и ключи кэша
//
// Engine отвечает за понимание структуры pipeline и определение
// порядка выполнения jobs на основе их зависимостей.
package engine
