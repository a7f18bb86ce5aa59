// Package cache реализует кэширование зависимостей между runs.
//
// Кэш адресуется строковым ключом, который pipeline собирает из
// переменных run (обычно "${branch}-cargo"). Перед шагами job воркер
// восстанавливает кэш в workspace, после успешного завершения —
// сохраняет указанные пути обратно.
//
// Правила записи: сохранять кэш могут только runs с защищённых веток
// (решение принимает Orchestrator через Job.CacheWrite), остальные
// работают в режиме restore-only. Записи last-write-wins, без
// версионирования.
//
// Кэш — строго оптимизация: любой его сбой (промах, битый архив,
// недоступное хранилище) логируется и не влияет на вердикт job.
package cache
