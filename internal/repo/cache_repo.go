package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CacheEntry — метаданные кэш-записи.
type CacheEntry struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheRepo — хранилище кэш-архивов в PostgreSQL (bytea).
//
// Запись last-write-wins: кэш пишут только runs на защищённом ref,
// поэтому конкуренции писателей на один ключ практически нет, а
// проигравший апсерт просто перезаписывается следующим.
type CacheRepo struct {
	pool *pgxpool.Pool
}

// NewCacheRepo создаёт новый CacheRepo.
func NewCacheRepo(pool *pgxpool.Pool) *CacheRepo {
	return &CacheRepo{pool: pool}
}

// Get возвращает архив по ключу.
func (r *CacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT blob FROM cache_entries WHERE key = $1`
	var blob []byte
	err := r.pool.QueryRow(ctx, query, key).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return blob, nil
}

// Put сохраняет архив по ключу (upsert, last-write-wins).
func (r *CacheRepo) Put(ctx context.Context, key string, blob []byte) error {
	query := `
		INSERT INTO cache_entries (key, blob, size_bytes, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET blob = EXCLUDED.blob,
		    size_bytes = EXCLUDED.size_bytes,
		    updated_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query, key, blob, int64(len(blob)))
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Delete удаляет кэш-запись.
func (r *CacheRepo) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM cache_entries WHERE key = $1`
	result, err := r.pool.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает метаданные всех кэш-записей (без blob).
func (r *CacheRepo) List(ctx context.Context) ([]CacheEntry, error) {
	query := `
		SELECT key, size_bytes, updated_at
		FROM cache_entries
		ORDER BY updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []CacheEntry
	for rows.Next() {
		var e CacheEntry
		if err := rows.Scan(&e.Key, &e.SizeBytes, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
