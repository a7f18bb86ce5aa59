package worker

import (
	"fmt"
	"log/slog"
	"os"
)

// workspace — изолированная рабочая директория одного job.
// Создаётся перед первым шагом, удаляется после завершения job
// независимо от исхода.
type workspace struct {
	Dir string
}

// newWorkspace создаёт временную директорию под job.
// root пустой — используется системный temp.
func newWorkspace(root string) (*workspace, error) {
	dir, err := os.MkdirTemp(root, "conveyor-job-")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkspace, err)
	}
	return &workspace{Dir: dir}, nil
}

// Cleanup удаляет workspace. Сбой удаления не фатален.
func (ws *workspace) Cleanup(logger *slog.Logger) {
	if err := os.RemoveAll(ws.Dir); err != nil {
		logger.Warn("failed to clean up workspace", "dir", ws.Dir, "error", err)
	}
}
