// Package worker реализует исполнителя jobs.
//
// Worker — stateless компонент системы, который:
//   - Получает jobs из очереди RabbitMQ jobs.ready (event-driven)
//   - Периодически проверяет PENDING jobs в БД (polling fallback)
//   - Выполняет шаги job строго последовательно в изолированном workspace
//   - Восстанавливает и сохраняет кэш зависимостей
//   - Прерывает свои jobs по fanout-событию run.cancelled
//   - Отправляет результат обратно в очередь jobs.completed
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди; jobs одного run при этом
// выполняются на разных workers параллельно.
//
// Драйвер шагов (runner.go) различает уровни падения:
//   - падение checkout/setup всегда фатально для job
//   - падение run-шага без continue_on_error фатально, но шаги
//     с condition "on_failure"/"always" ещё выполняются
//   - падение run-шага с continue_on_error даёт TOLERATED: выполнение
//     продолжается, пользователь получает аннотацию с текстом оператора
//
// Вердикт job по результатам шагов тоже выносит драйвер: SUCCESS,
// FAILURE (в том числе soft-failed) или CANCELLED.
package worker
