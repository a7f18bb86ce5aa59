// Package orchestrator управляет выполнением runs.
//
// Orchestrator отвечает за:
//   - Получение новых runs из очереди RabbitMQ
//   - Контроль групп конкурентности (суперседе предыдущих runs)
//   - Построение job-графа из pipeline spec
//   - Создание jobs и диспатч готовых воркерам
//   - Отслеживание завершения jobs и пропуск зависимых при падении
//   - Сохранение аннотаций tolerated-шагов
//   - Финализацию run (SUCCEEDED/FAILED)
//
// Orchestrator — это "мозг" системы, который координирует выполнение.
package orchestrator
