package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/clearing-house/internal/clearing"
	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/registry"
	"go.uber.org/zap"
)

// Handler — тонкая прослойка между HTTP и clearing.Service: разбор запроса,
// identity из контекста, сериализация ответа. Никакой бизнес-логики.
type Handler struct {
	clearing  *clearing.Service
	blocklist *registry.BlockList // nil, если redis не сконфигурирован
	logger    *zap.Logger
}

func NewHandler(svc *clearing.Service, bl *registry.BlockList, logger *zap.Logger) *Handler {
	return &Handler{clearing: svc, blocklist: bl, logger: logger.Named("handler")}
}

type createProcessRequest struct {
	// Владельцы могут приходить и строками, и объектами {"id": ...}
	Owners []domain.PID `json:"owners"`
}

type logMessageRequest struct {
	Header  json.RawMessage `json:"header"`
	Payload string          `json:"payload"`
}

// CreateProcess — POST /process/{pid}
func (h *Handler) CreateProcess(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	id, _ := domain.IdentityFromContext(r.Context())

	var req createProcessRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, h.logger, domain.Wrap(domain.KindValidation, "server.process", "malformed request body", err))
			return
		}
	}
	owners := make([]string, 0, len(req.Owners))
	for _, o := range req.Owners {
		owners = append(owners, o.String())
	}

	proc, err := h.clearing.CreateProcess(r.Context(), pid, id, owners)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, proc)
}

// DeleteProcess — DELETE /process/{pid}. Удаляет процесс вместе со всеми
// бакетами; операция необратима.
func (h *Handler) DeleteProcess(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	id, _ := domain.IdentityFromContext(r.Context())

	if err := h.clearing.DeleteProcess(r.Context(), pid, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "pid": pid})
}

// BlockProcess — POST /process/{pid}/block. Административная операция:
// заблокированный процесс перестает принимать записи на всех репликах.
func (h *Handler) BlockProcess(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true)
}

// UnblockProcess — POST /process/{pid}/unblock
func (h *Handler) UnblockProcess(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false)
}

func (h *Handler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	pid := chi.URLParam(r, "pid")
	id, _ := domain.IdentityFromContext(r.Context())

	if !id.IsAdmin() {
		writeError(w, h.logger, domain.E(domain.KindUnauthorized, "server.block", "admin scope required"))
		return
	}
	if h.blocklist == nil {
		writeError(w, h.logger, domain.E(domain.KindInternal, "server.block", "blocklist is not configured"))
		return
	}

	var err error
	if blocked {
		err = h.blocklist.Block(r.Context(), pid)
	} else {
		err = h.blocklist.Unblock(r.Context(), pid)
	}
	if err != nil {
		writeError(w, h.logger, domain.Wrap(domain.KindInternal, "server.block", "blocklist update failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pid": pid, "blocked": blocked})
}

// LogMessage — POST /messages/log/{pid}. Успешный ответ содержит подписанную
// квитанцию; её можно проверить офлайн через /.well-known/jwks.json.
func (h *Handler) LogMessage(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	id, _ := domain.IdentityFromContext(r.Context())

	var req logMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, domain.Wrap(domain.KindValidation, "server.log", "malformed request body", err))
		return
	}

	parts := map[string][]byte{
		clearing.PartHeader:  req.Header,
		clearing.PartPayload: []byte(req.Payload),
	}

	receipt, err := h.clearing.LogMessage(r.Context(), pid, id, parts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// Query — POST /messages/query/{pid}?page&size&sort&date_from&date_to
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	id, _ := domain.IdentityFromContext(r.Context())

	opts, err := parseQueryOptions(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.clearing.Query(r.Context(), pid, id, opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// QueryByID — POST /messages/query/{pid}/{id}
func (h *Handler) QueryByID(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	docID := chi.URLParam(r, "id")
	id, _ := domain.IdentityFromContext(r.Context())

	doc, err := h.clearing.QueryByID(r.Context(), pid, docID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
