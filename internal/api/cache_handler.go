package api

import (
	"net/http"
)

// ListCacheEntries возвращает метаданные всех записей кэша.
// GET /api/v1/cache
func (h *Handler) ListCacheEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.cacheRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]CacheEntryResponse, len(entries))
	for i, e := range entries {
		result[i] = CacheEntryResponse{
			Key:       e.Key,
			SizeBytes: e.SizeBytes,
			UpdatedAt: e.UpdatedAt,
		}
	}

	List(w, result, len(result))
}

// DeleteCacheEntry удаляет запись кэша по ключу.
// DELETE /api/v1/cache/{key}
func (h *Handler) DeleteCacheEntry(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		BadRequest(w, "cache key is required")
		return
	}

	if err := h.cacheRepo.Delete(r.Context(), key); err != nil {
		HandleRepoError(w, h.logger, err, "cache entry not found")
		return
	}

	h.logger.Info("cache entry deleted", "key", key)

	NoContent(w)
}
