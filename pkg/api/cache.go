package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paddockhq/paddock/pkg/broker"
)

// Cache-key endpoints are thin pass-throughs over the broker's
// namespace-scoped keyspace.

func (s *Server) handleListCacheKeys(w http.ResponseWriter, r *http.Request) {
	nsName := chi.URLParam(r, "namespace")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	keys, err := s.broker.ListCacheKeys(r.Context(), nsName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "broker error")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleGetCacheKey(w http.ResponseWriter, r *http.Request) {
	nsName, key := chi.URLParam(r, "namespace"), chi.URLParam(r, "key")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	val, err := s.broker.GetCacheKey(r.Context(), nsName, key)
	if errors.Is(err, broker.ErrKeyNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "broker error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": val})
}

func (s *Server) handleDeleteCacheKey(w http.ResponseWriter, r *http.Request) {
	nsName, key := chi.URLParam(r, "namespace"), chi.URLParam(r, "key")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	err := s.broker.DeleteCacheKey(r.Context(), nsName, key)
	if errors.Is(err, broker.ErrKeyNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "broker error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
