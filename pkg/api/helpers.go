package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/paddockhq/paddock/pkg/auth"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps store failures onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// authorizeNamespace loads the namespace and checks the caller's membership.
// Unknown namespaces and unauthorized callers both read as 404 so the API
// does not leak which namespaces exist.
func (s *Server) authorizeNamespace(r *http.Request, name string) (*types.Namespace, int) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return nil, http.StatusUnauthorized
	}
	ns, err := s.store.GetNamespace(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, http.StatusNotFound
	}
	if err != nil {
		return nil, http.StatusInternalServerError
	}
	if !p.Authorized(name, ns.Metadata.Owner, s.rootOwner) {
		return nil, http.StatusNotFound
	}
	return ns, 0
}
