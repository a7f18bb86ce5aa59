package cache

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

type fakeStore struct {
	blobs map[string][]byte
	fail  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{blobs: make(map[string][]byte)}
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	if s.fail {
		return nil, errors.New("store unavailable")
	}
	blob, ok := s.blobs[key]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return blob, nil
}

func (s *fakeStore) Put(_ context.Context, key string, blob []byte) error {
	if s.fail {
		return errors.New("store unavailable")
	}
	s.blobs[key] = blob
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func cacheJob(write bool) *domain.Job {
	return &domain.Job{
		Name:       "build",
		CacheWrite: write,
		Def: domain.JobDef{
			Name: "build",
			Cache: &domain.CacheDef{
				Key:   "main-cargo",
				Paths: []string{"target", ".cargo/registry"},
			},
		},
	}
}

func writeWorkspaceFile(t *testing.T, workDir, rel, content string) {
	t.Helper()
	path := filepath.Join(workDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSaveAndRestore(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr := NewManager(store, testLogger())

	src := t.TempDir()
	writeWorkspaceFile(t, src, "target/debug/app", "binary")
	writeWorkspaceFile(t, src, ".cargo/registry/index", "index data")
	writeWorkspaceFile(t, src, "src/main.rs", "not cached")

	mgr.Save(ctx, cacheJob(true), src)
	if _, ok := store.blobs["main-cargo"]; !ok {
		t.Fatal("Save did not store blob")
	}

	dst := t.TempDir()
	if !mgr.Restore(ctx, cacheJob(false), dst) {
		t.Fatal("Restore returned false after Save")
	}

	got, err := os.ReadFile(filepath.Join(dst, "target/debug/app"))
	if err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
	if string(got) != "binary" {
		t.Errorf("restored content = %q, want binary", got)
	}

	if _, err := os.Stat(filepath.Join(dst, ".cargo/registry/index")); err != nil {
		t.Errorf("second cached path missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "src/main.rs")); !errors.Is(err, os.ErrNotExist) {
		t.Error("uncached path leaked into archive")
	}
}

func TestSaveRestoreOnlyRun(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr := NewManager(store, testLogger())

	src := t.TempDir()
	writeWorkspaceFile(t, src, "target/out", "data")

	mgr.Save(ctx, cacheJob(false), src)
	if len(store.blobs) != 0 {
		t.Error("restore-only run wrote cache")
	}
}

func TestSaveNoCacheDef(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr := NewManager(store, testLogger())

	job := &domain.Job{Name: "lint", CacheWrite: true, Def: domain.JobDef{Name: "lint"}}
	mgr.Save(ctx, job, t.TempDir())
	if len(store.blobs) != 0 {
		t.Error("job without cache def wrote cache")
	}
}

func TestRestoreMiss(t *testing.T) {
	mgr := NewManager(newFakeStore(), testLogger())

	if mgr.Restore(context.Background(), cacheJob(false), t.TempDir()) {
		t.Error("Restore returned true on miss")
	}
}

func TestRestoreStoreFailureIsNonFatal(t *testing.T) {
	store := newFakeStore()
	store.fail = true
	mgr := NewManager(store, testLogger())

	if mgr.Restore(context.Background(), cacheJob(false), t.TempDir()) {
		t.Error("Restore returned true on store failure")
	}
}

func TestSaveMissingPathsSkipped(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr := NewManager(store, testLogger())

	// Workspace без кэшируемых директорий: архив пустой, но Save не падает.
	mgr.Save(ctx, cacheJob(true), t.TempDir())
	if _, ok := store.blobs["main-cargo"]; !ok {
		t.Error("Save skipped empty workspace entirely")
	}
}

func TestUnpackRejectsEscape(t *testing.T) {
	if _, err := safeJoin(t.TempDir(), "../evil"); !errors.Is(err, ErrUnsafePath) {
		t.Errorf("safeJoin(../evil) error = %v, want ErrUnsafePath", err)
	}
}
