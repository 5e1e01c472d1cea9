package api

import (
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paddockhq/paddock/pkg/auth"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// ContainerRequest is the POST /v1/containers body.
type ContainerRequest struct {
	Kind     string              `json:"kind,omitempty"`
	Metadata RequestMetadata     `json:"metadata"`
	Spec     types.ContainerSpec `json:"spec"`
}

// RequestMetadata is the caller-settable slice of resource metadata.
type RequestMetadata struct {
	Name      string            `json:"name" validate:"required"`
	Namespace string            `json:"namespace" validate:"required"`
	Labels    map[string]string `json:"labels,omitempty"`
}

func (s *Server) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	var req ContainerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Spec.Image == "" {
		writeError(w, http.StatusBadRequest, "spec.image is required")
		return
	}

	ns, status := s.authorizeNamespace(r, req.Metadata.Namespace)
	if status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	p, _ := auth.FromContext(r.Context())

	now := time.Now().UTC()
	c := &types.Container{
		Metadata: types.Metadata{
			ID:        uuid.NewString(),
			Name:      req.Metadata.Name,
			Namespace: req.Metadata.Namespace,
			Owner:     ns.Metadata.Owner,
			CreatedBy: p.Email,
			Labels:    req.Metadata.Labels,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Spec:    req.Spec,
		Desired: types.ContainerRunning,
		Status:  types.ContainerStatus{State: types.ContainerDefined},
	}
	if err := s.store.CreateContainer(r.Context(), c); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	nsName := r.URL.Query().Get("namespace")
	if nsName == "" {
		writeError(w, http.StatusBadRequest, "namespace query parameter is required")
		return
	}
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	out, err := s.store.ListContainers(r.Context(), nsName)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetContainerByID(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetContainer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, status := s.authorizeNamespace(r, c.Metadata.Namespace); status != 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	nsName, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	c, err := s.store.GetContainerByName(r.Context(), nsName, name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteContainer tears down backend state before the row and is
// idempotent: deleting an absent container succeeds.
func (s *Server) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	nsName, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	c, err := s.store.GetContainerByName(r.Context(), nsName, name)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.deleter.DeleteContainer(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// PatchRequest carries a replacement spec. Spec changes mean a new pod: the
// row is deleted and recreated unless no_delete forbids that.
type PatchRequest struct {
	Metadata struct {
		Labels map[string]string `json:"labels,omitempty"`
	} `json:"metadata"`
	Spec     *types.ContainerSpec `json:"spec,omitempty"`
	NoDelete bool                 `json:"no_delete,omitempty"`
}

func (s *Server) handlePatchContainer(w http.ResponseWriter, r *http.Request) {
	nsName, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	c, err := s.store.GetContainerByName(r.Context(), nsName, name)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req PatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	specChanged := req.Spec != nil && !reflect.DeepEqual(*req.Spec, c.Spec)
	if !specChanged {
		// Metadata-only patch mutates in place.
		if req.Metadata.Labels != nil {
			c.Metadata.Labels = req.Metadata.Labels
			c.Metadata.UpdatedAt = time.Now().UTC()
			if err := s.store.UpdateContainer(r.Context(), c); err != nil {
				writeStoreError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, c)
		return
	}

	if req.NoDelete {
		writeError(w, http.StatusConflict, "changes require deletion")
		return
	}

	// Delete + recreate under the same identity.
	if err := s.deleter.DeleteContainer(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	now := time.Now().UTC()
	fresh := &types.Container{
		Metadata: types.Metadata{
			ID:        uuid.NewString(),
			Name:      c.Metadata.Name,
			Namespace: c.Metadata.Namespace,
			Owner:     c.Metadata.Owner,
			CreatedBy: c.Metadata.CreatedBy,
			Labels:    c.Metadata.Labels,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Spec:    *req.Spec,
		Desired: types.ContainerRunning,
		Status:  types.ContainerStatus{State: types.ContainerDefined},
	}
	if req.Metadata.Labels != nil {
		fresh.Metadata.Labels = req.Metadata.Labels
	}
	if err := s.store.CreateContainer(r.Context(), fresh); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fresh)
}
