// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (репозитории, publisher, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery, metrics)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - pipeline_handler.go — обработчики для /pipelines и версий
//   - event_handler.go    — приём триггер-событий (/events)
//   - run_handler.go      — обработчики для /runs, jobs и аннотаций
//   - schedule_handler.go — обработчики для /schedules
//   - cache_handler.go    — просмотр и очистка кэша
//
// API предоставляет REST endpoints для управления pipelines, приёма
// событий от хостинга репозиториев и наблюдения за runs.
package api
