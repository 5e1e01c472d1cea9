package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paddockhq/paddock/pkg/auth"
	"github.com/paddockhq/paddock/pkg/types"
)

// NamespaceRequest creates an authorization scope. Owner defaults to the
// caller; naming an organization requires membership of it.
type NamespaceRequest struct {
	Name   string            `json:"name" validate:"required"`
	Owner  string            `json:"owner,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

func (s *Server) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	var req NamespaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	owner := req.Owner
	if owner == "" {
		owner = p.Email
	}
	if !p.Authorized(req.Name, owner, s.rootOwner) {
		writeError(w, http.StatusForbidden, "not a member of the requested owner")
		return
	}

	now := time.Now().UTC()
	ns := &types.Namespace{
		Metadata: types.Metadata{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Namespace: req.Name,
			Owner:     owner,
			CreatedBy: p.Email,
			Labels:    req.Labels,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if err := s.store.CreateNamespace(r.Context(), ns); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ns)
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	all, err := s.store.ListNamespaces(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Callers only see namespaces they can act in.
	out := make([]*types.Namespace, 0, len(all))
	for _, ns := range all {
		if p.Authorized(ns.Metadata.Name, ns.Metadata.Owner, s.rootOwner) {
			out = append(out, ns)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ns, status := s.authorizeNamespace(r, chi.URLParam(r, "name"))
	if status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, status := s.authorizeNamespace(r, name); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}

	// Refuse while resources still live in the namespace.
	containers, err := s.store.ListContainers(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	processors, err := s.store.ListProcessors(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(containers) > 0 || len(processors) > 0 {
		writeError(w, http.StatusConflict, "namespace is not empty")
		return
	}

	if err := s.store.DeleteNamespace(r.Context(), name); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
