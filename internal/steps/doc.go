// Package steps содержит исполнители шагов job.
//
// Каждый вид шага (checkout, setup, run) реализует интерфейс Step.
// Воркер выбирает исполнителя через Registry и прогоняет шаги job
// строго последовательно в одном workspace.
//
// Виды шагов:
//   - checkout — получение исходников (git clone + checkout коммита)
//   - setup    — детерминированная подготовка (тулчейн, системные зависимости);
//     падение всегда фатально для job
//   - run      — произвольная команда через sh -c
//
// Исполнители различают два уровня ошибок: инфраструктурные (error от
// Execute — workspace недоступен, бинарь не найден) и обычное падение
// команды (Response.ExitCode != 0). Решение о судьбе job по exit code
// принимает драйвер в пакете worker, не исполнитель.
package steps
