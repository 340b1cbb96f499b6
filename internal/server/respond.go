package server

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/clearing-house/internal/domain"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// writeError переводит доменную ошибку в HTTP-статус. Внутренние детали
// наружу не утекают: клиент видит только PublicMessage.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var status int
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindConflict:
		status = http.StatusBadRequest
	case domain.KindUnauthorized:
		status = http.StatusForbidden
	case domain.KindNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
		logger.Error("internal error", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: domain.PublicMessage(err)})
}
