package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkman/internal/contact"
	"github.com/hitoshi/linkman/internal/metrics"
	"github.com/hitoshi/linkman/internal/middleware"
	"github.com/hitoshi/linkman/internal/model"
)

// ContactRouterInterface はコンタクトハンドラーが必要とするルーターインターフェース。
type ContactRouterInterface interface {
	Route(ctx context.Context, deviceIdentifier string, record contact.Record) (*contact.RouteResult, error)
}

// ContactHandler はデバイスからのコンタクトWebhookのHTTPハンドラー。
type ContactHandler struct {
	router  ContactRouterInterface
	metrics metrics.MetricsCollector
}

// NewContactHandler はContactHandlerを生成する。metricsはnilでもよい。
func NewContactHandler(router ContactRouterInterface, collector metrics.MetricsCollector) *ContactHandler {
	return &ContactHandler{router: router, metrics: collector}
}

// Receive はデバイス経由で獲得したコンタクトを受け付ける。
// POST /webhook/devices/{device}/contacts
func (h *ContactHandler) Receive(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")

	var record contact.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	result, err := h.router.Route(r.Context(), device, record)
	if err != nil {
		if h.metrics != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) {
				h.metrics.RecordContactFailure(apiErr.Code)
			}
		}
		middleware.WriteAPIError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordContactRouted()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}
