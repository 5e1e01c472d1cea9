package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paddockhq/paddock/pkg/auth"
	"github.com/paddockhq/paddock/pkg/types"
)

// SecretRequest carries the cleartext value once; it is encrypted before it
// touches the store and never returned by any endpoint.
type SecretRequest struct {
	Metadata RequestMetadata `json:"metadata"`
	Value    string          `json:"value" validate:"required"`
}

// secretView is the value-free projection returned by reads.
type secretView struct {
	Metadata types.Metadata `json:"metadata"`
}

func (s *Server) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	var req SecretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ns, status := s.authorizeNamespace(r, req.Metadata.Namespace)
	if status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	p, _ := auth.FromContext(r.Context())

	ciphertext, nonce, err := s.secrets.Encrypt([]byte(req.Value))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encryption failed")
		return
	}

	now := time.Now().UTC()
	sec := &types.Secret{
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
		Value: ciphertext,
		Nonce: nonce,
	}
	if err := s.store.CreateSecret(r.Context(), sec); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, secretView{Metadata: sec.Metadata})
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	nsName := chi.URLParam(r, "namespace")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	secrets, err := s.store.ListSecrets(r.Context(), nsName)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]secretView, 0, len(secrets))
	for _, sec := range secrets {
		out = append(out, secretView{Metadata: sec.Metadata})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	nsName, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	sec, err := s.store.GetSecret(r.Context(), nsName, name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, secretView{Metadata: sec.Metadata})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	nsName, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	if _, status := s.authorizeNamespace(r, nsName); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	if err := s.store.DeleteSecret(r.Context(), nsName, name); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
