package vault

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/infra/auth"
	"go.uber.org/zap"
)

// HTTP-поверхность vault. Внутренняя граница: доступна только компоненту
// логирования, который предъявляет короткоживущий сервисный токен —
// пользовательские токены здесь не принимаются.

type generateRequest struct {
	DocType string `json:"doc_type"`
}

type keysResponse struct {
	Keys    domain.KeyMap `json:"keys"`
	Wrapped []byte        `json:"wrapped,omitempty"`
}

type decryptRequest struct {
	DocType string `json:"doc_type"`
	Wrapped []byte `json:"wrapped"`
}

type batchRequest struct {
	DocType string        `json:"doc_type"`
	Items   []WrappedItem `json:"items"`
}

type batchResponse struct {
	Keys map[string]domain.KeyMap `json:"keys"`
}

type Handler struct {
	svc      *Service
	verifier *auth.ServiceTokenVerifier
	logger   *zap.Logger
}

func NewHandler(svc *Service, verifier *auth.ServiceTokenVerifier, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, verifier: verifier, logger: logger.Named("vault-api")}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.serviceToken)
	// Монтируется под /internal/keys (см. cmd/vault)
	r.Post("/generate", h.generate)
	r.Post("/decrypt", h.decrypt)
	r.Post("/decrypt-batch", h.decryptBatch)
	return r
}

func (h *Handler) serviceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Service-Token")
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		subject, err := h.verifier.Verify(token)
		if err != nil {
			h.logger.Warn("service token rejected", zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		r.Header.Set("X-Service-Subject", subject)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	keys, wrapped, err := h.svc.GenerateFieldKeys(r.Context(), req.DocType)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, keysResponse{Keys: keys, Wrapped: wrapped})
}

func (h *Handler) decrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	keys, err := h.svc.UnwrapFieldKeys(r.Context(), req.DocType, req.Wrapped)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, keysResponse{Keys: keys})
}

func (h *Handler) decryptBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	keys, err := h.svc.UnwrapMany(r.Context(), req.DocType, req.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, batchResponse{Keys: keys})
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.logger.Error("vault request failed", zap.Error(err))
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		http.Error(w, domain.PublicMessage(err), http.StatusNotFound)
	case domain.KindValidation, domain.KindConflict:
		http.Error(w, domain.PublicMessage(err), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
