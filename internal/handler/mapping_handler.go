package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkman/internal/middleware"
	"github.com/hitoshi/linkman/internal/model"
)

// MappingServiceInterface はマッピングハンドラーが必要とするサービスインターフェース。
type MappingServiceInterface interface {
	Disconnect(ctx context.Context, deviceIdentifier string) error
	ListByAccount(ctx context.Context, accountID string) ([]*model.LocationMapping, error)
	SearchByName(ctx context.Context, name string) ([]*model.LocationMapping, error)
}

// MappingHandler はマッピング管理のHTTPハンドラー。
type MappingHandler struct {
	service MappingServiceInterface
}

// NewMappingHandler はMappingHandlerを生成する。
func NewMappingHandler(service MappingServiceInterface) *MappingHandler {
	return &MappingHandler{service: service}
}

// Disconnect はデバイスのマッピングを削除する。
// DELETE /api/mappings/{device}
func (h *MappingHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")

	if err := h.service.Disconnect(r.Context(), device); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListByAccount はマッピング一覧を返す。account_idで完全一致、nameで
// アカウント名の類似検索を行う。どちらか一方の指定が必須。
// GET /api/mappings?account_id=xxx
// GET /api/mappings?name=xxx
func (h *MappingHandler) ListByAccount(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	name := r.URL.Query().Get("name")

	var (
		mappings []*model.LocationMapping
		err      error
	)
	switch {
	case accountID != "":
		mappings, err = h.service.ListByAccount(r.Context(), accountID)
	case name != "":
		mappings, err = h.service.SearchByName(r.Context(), name)
	default:
		middleware.WriteAPIError(w, model.NewValidationError("account_idまたはnameを指定してください"))
		return
	}
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"mappings": mappings,
		"count":    len(mappings),
	})
}
