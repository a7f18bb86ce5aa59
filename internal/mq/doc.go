// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений
//
// Типы сообщений:
//   - run.pending    — новый run ожидает оркестрации
//   - run.cancelled  — run отменён (broadcast всем воркерам)
//   - job.ready      — job готов к выполнению
//   - job.completed  — job завершён
//
// Exchanges:
//   - conveyor.runs           — события runs (direct)
//   - conveyor.runs.cancelled — отмена runs (fanout: каждый воркер
//     получает копию и прерывает свои jobs этого run)
//   - conveyor.jobs           — события jobs (direct)
//   - conveyor.dlq            — dead letter queue
package mq
