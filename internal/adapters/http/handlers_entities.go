package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

func (rt *Router) insertEntity(w http.ResponseWriter, r *http.Request) {
	if !requireCaller(w, r) {
		return
	}
	kind, data, ok := rt.entityRequest(w, r)
	if !ok {
		return
	}
	if err := rt.entities.Insert(r.Context(), kind, data); err != nil {
		rt.writeEntityError(w, r, "insert", kind, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (rt *Router) updateEntity(w http.ResponseWriter, r *http.Request) {
	if !requireCaller(w, r) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	kind, patch, ok := rt.entityRequest(w, r)
	if !ok {
		return
	}
	if err := rt.entities.Update(r.Context(), kind, id, patch); err != nil {
		rt.writeEntityError(w, r, "update", kind, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (rt *Router) deleteEntity(w http.ResponseWriter, r *http.Request) {
	if !requireCaller(w, r) {
		return
	}
	kind, err := pathID(r, "kind")
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := rt.entities.Delete(r.Context(), kind, id); err != nil {
		rt.writeEntityError(w, r, "delete", kind, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) entityRequest(w http.ResponseWriter, r *http.Request) (string, map[string]any, bool) {
	kind, err := pathID(r, "kind")
	if err != nil {
		writeError(w, err)
		return "", nil, false
	}
	var data map[string]any
	if err := decodeJSONBody(r, &data); err != nil {
		writeError(w, err)
		return "", nil, false
	}
	if data == nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "decode request", errors.New("json object body is required")))
		return "", nil, false
	}
	return kind, data, true
}

func (rt *Router) writeEntityError(w http.ResponseWriter, r *http.Request, action, kind string, err error) {
	if mapErrorToHTTPStatus(err) >= http.StatusInternalServerError {
		rt.logger.Error("entity_mutation_failed", "request_id", requestIDFromContext(r.Context()), "action", action, "kind", kind, "error", err)
	}
	writeError(w, err)
}
