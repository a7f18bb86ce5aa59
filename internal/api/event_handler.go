package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// IngestEvent принимает триггер-событие от хостинга репозитория
// и решает, создавать ли run.
//
// Событие отбрасывается (accepted=false, run не создаётся), если:
//   - pipeline неактивен
//   - ни один триггер спецификации не матчит событие и ветку
//   - все изменённые пути попали под paths_ignore
//
// POST /api/v1/events
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Pipeline == "" {
		BadRequest(w, "pipeline is required")
		return
	}
	if req.Event != string(domain.EventPush) && req.Event != string(domain.EventChangeRequest) {
		BadRequest(w, "event must be push or change_request")
		return
	}
	if req.Ref == "" {
		BadRequest(w, "ref is required")
		return
	}

	pipeline, err := h.pipelineRepo.GetByName(r.Context(), req.Pipeline)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	if !pipeline.IsActive {
		Success(w, EventResponse{Accepted: false, Reason: "pipeline is not active"})
		return
	}

	version, err := h.pipelineRepo.GetLatestVersion(r.Context(), pipeline.ID)
	if HandleRepoError(w, h.logger, err, "pipeline has no versions") {
		return
	}
	spec := &version.Spec

	trigger := domain.TriggerEvent{
		Event:         domain.EventKind(req.Event),
		Ref:           req.Ref,
		Commit:        req.Commit,
		ChangeRequest: req.ChangeRequest,
		ChangedPaths:  req.ChangedPaths,
	}

	def, ok := matchTrigger(spec.Triggers, trigger)
	if !ok {
		Success(w, EventResponse{Accepted: false, Reason: "no trigger matches event"})
		return
	}

	// Path-фильтры: если все изменённые пути исключены, run не нужен
	if len(trigger.ChangedPaths) > 0 {
		pf := engine.NewPathFilter(def.PathsIgnore)
		if !pf.ShouldRun(trigger.ChangedPaths) {
			Success(w, EventResponse{Accepted: false, Reason: "all changed paths ignored"})
			return
		}
	}

	run := &domain.Run{
		ID:         uuid.New(),
		PipelineID: pipeline.ID,
		Version:    version.Version,
		Status:     domain.RunStatusPending,
		Trigger:    trigger,
		GroupKey:   engine.GroupKey(spec, pipeline.Name, trigger),
	}

	if err := h.runRepo.Create(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.publishRunPending(r.Context(), run.ID)

	h.logger.Info("event accepted",
		"pipeline", pipeline.Name,
		"event", req.Event,
		"ref", req.Ref,
		"run_id", run.ID,
		"group_key", run.GroupKey,
	)

	resp := RunFromDomain(*run)
	Created(w, EventResponse{Accepted: true, Run: &resp})
}

// matchTrigger ищет первый триггер спецификации, подходящий событию.
// Пустой список триггеров означает: pipeline запускается только вручную.
func matchTrigger(triggers []domain.TriggerDef, trigger domain.TriggerEvent) (*domain.TriggerDef, bool) {
	for i := range triggers {
		def := &triggers[i]

		if !containsString(def.Events, string(trigger.Event)) {
			continue
		}
		if len(def.Branches) > 0 && !containsString(def.Branches, trigger.Ref) {
			continue
		}
		return def, true
	}
	return nil, false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
