package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paddockhq/paddock/pkg/auth"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// ProcessorRequest is the POST /v1/processors body.
type ProcessorRequest struct {
	Kind     string          `json:"kind,omitempty"`
	Metadata RequestMetadata `json:"metadata"`

	Container    types.ContainerSpec `json:"container"`
	Schema       string              `json:"schema,omitempty"`
	CommonSchema string              `json:"common_schema,omitempty"`

	MinReplicas int              `json:"min_replicas" validate:"min=0"`
	MaxReplicas int              `json:"max_replicas" validate:"min=1"`
	Scale       types.ScaleRules `json:"scale"`
}

func (s *Server) handleCreateProcessor(w http.ResponseWriter, r *http.Request) {
	var req ProcessorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Container.Image == "" {
		writeError(w, http.StatusBadRequest, "container.image is required")
		return
	}
	if req.MinReplicas > req.MaxReplicas {
		writeError(w, http.StatusBadRequest, "min_replicas exceeds max_replicas")
		return
	}

	ns, status := s.authorizeNamespace(r, req.Metadata.Namespace)
	if status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	p, _ := auth.FromContext(r.Context())

	now := time.Now().UTC()
	id := uuid.NewString()
	proc := &types.Processor{
		Metadata: types.Metadata{
			ID:        id,
			Name:      req.Metadata.Name,
			Namespace: req.Metadata.Namespace,
			Owner:     ns.Metadata.Owner,
			CreatedBy: p.Email,
			Labels:    req.Metadata.Labels,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Container:    req.Container,
		Stream:       streamName(req.Metadata.Namespace, req.Metadata.Name),
		Schema:       req.Schema,
		CommonSchema: req.CommonSchema,
		MinReplicas:  req.MinReplicas,
		MaxReplicas:  req.MaxReplicas,
		Scale:        req.Scale,
		Desired:      types.ProcessorRunning,
		Status:       types.ProcessorStatus{State: types.ProcessorDefined},
	}
	if err := s.store.CreateProcessor(r.Context(), proc); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proc)
}

// streamName assigns the broker stream for a processor at creation.
func streamName(namespace, name string) string {
	return fmt.Sprintf("paddock:%s:%s", namespace, name)
}

func (s *Server) handleListProcessors(w http.ResponseWriter, r *http.Request) {
	nsName := r.URL.Query().Get("namespace")
	if nsName == "" {
		writeError(w, http.StatusBadRequest, "namespace query parameter is required")
		return
	}
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	out, err := s.store.ListProcessors(r.Context(), nsName)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProcessor(w http.ResponseWriter, r *http.Request) {
	nsName, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	p, err := s.store.GetProcessorByName(r.Context(), nsName, name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProcessor(w http.ResponseWriter, r *http.Request) {
	nsName, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	p, err := s.store.GetProcessorByName(r.Context(), nsName, name)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.deleter.DeleteProcessor(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ProcessorPatchRequest mirrors the container PATCH contract for the
// template; replica bounds go through the scale endpoint.
type ProcessorPatchRequest struct {
	Metadata struct {
		Labels map[string]string `json:"labels,omitempty"`
	} `json:"metadata"`
	Container *types.ContainerSpec `json:"container,omitempty"`
	NoDelete  bool                 `json:"no_delete,omitempty"`
}

func (s *Server) handlePatchProcessor(w http.ResponseWriter, r *http.Request) {
	nsName, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	p, err := s.store.GetProcessorByName(r.Context(), nsName, name)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req ProcessorPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	templateChanged := req.Container != nil && !reflect.DeepEqual(*req.Container, p.Container)
	if !templateChanged {
		if req.Metadata.Labels != nil {
			p.Metadata.Labels = req.Metadata.Labels
			p.Metadata.UpdatedAt = time.Now().UTC()
			if err := s.store.UpdateProcessor(r.Context(), p); err != nil {
				writeStoreError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	if req.NoDelete {
		writeError(w, http.StatusConflict, "changes require deletion")
		return
	}

	if err := s.deleter.DeleteProcessor(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	now := time.Now().UTC()
	fresh := &types.Processor{
		Metadata: types.Metadata{
			ID:        uuid.NewString(),
			Name:      p.Metadata.Name,
			Namespace: p.Metadata.Namespace,
			Owner:     p.Metadata.Owner,
			CreatedBy: p.Metadata.CreatedBy,
			Labels:    p.Metadata.Labels,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Container:    *req.Container,
		Stream:       p.Stream,
		Schema:       p.Schema,
		CommonSchema: p.CommonSchema,
		MinReplicas:  p.MinReplicas,
		MaxReplicas:  p.MaxReplicas,
		Scale:        p.Scale,
		Desired:      types.ProcessorRunning,
		Status:       types.ProcessorStatus{State: types.ProcessorDefined},
	}
	if req.Metadata.Labels != nil {
		fresh.Metadata.Labels = req.Metadata.Labels
	}
	if err := s.store.CreateProcessor(r.Context(), fresh); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fresh)
}

// ScaleRequest updates replica targets atomically.
type ScaleRequest struct {
	Replicas    *int `json:"replicas,omitempty"`
	MinReplicas *int `json:"min_replicas,omitempty"`
}

func (s *Server) handleScaleProcessor(w http.ResponseWriter, r *http.Request) {
	nsName, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	p, err := s.store.GetProcessorByName(r.Context(), nsName, name)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req ScaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Replicas == nil && req.MinReplicas == nil {
		writeError(w, http.StatusBadRequest, "replicas or min_replicas is required")
		return
	}

	if req.MinReplicas != nil {
		if *req.MinReplicas < 0 || *req.MinReplicas > p.MaxReplicas {
			writeError(w, http.StatusBadRequest, "min_replicas out of range")
			return
		}
		p.MinReplicas = *req.MinReplicas
	}
	if req.Replicas != nil {
		if *req.Replicas < 0 || *req.Replicas > p.MaxReplicas {
			writeError(w, http.StatusBadRequest, "replicas out of range")
			return
		}
		p.DesiredReplicas = *req.Replicas
	}
	if p.DesiredReplicas < p.MinReplicas {
		p.DesiredReplicas = p.MinReplicas
	}

	p.Metadata.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateProcessor(r.Context(), p); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
