package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkman/internal/contact"
	"github.com/hitoshi/linkman/internal/model"
)

type mockContactRouter struct {
	routeFn func(ctx context.Context, deviceIdentifier string, record contact.Record) (*contact.RouteResult, error)
}

func (m *mockContactRouter) Route(ctx context.Context, deviceIdentifier string, record contact.Record) (*contact.RouteResult, error) {
	if m.routeFn != nil {
		return m.routeFn(ctx, deviceIdentifier, record)
	}
	return &contact.RouteResult{}, nil
}

func newContactTestRouter(router ContactRouterInterface) http.Handler {
	h := NewContactHandler(router, nil)
	r := chi.NewRouter()
	r.Post("/webhook/devices/{device}/contacts", h.Receive)
	return r
}

// TestContactHandler_Receive はコンタクト受付の正常系を検証する。
func TestContactHandler_Receive(t *testing.T) {
	mock := &mockContactRouter{
		routeFn: func(ctx context.Context, device string, record contact.Record) (*contact.RouteResult, error) {
			if device != "aa:bb:cc:dd:ee:01" {
				t.Errorf("device = %q", device)
			}
			if record.Email != "guest@example.com" || len(record.Tags) != 1 {
				t.Errorf("record = %+v", record)
			}
			return &contact.RouteResult{
				AccountID:    "acct-1",
				AudienceID:   "aud-1",
				AudienceName: "Customers",
				AppliedTags:  2,
			}, nil
		},
	}
	router := newContactTestRouter(mock)

	body := strings.NewReader(`{"email":"guest@example.com","first_name":"太郎","tags":["wifi-signup"]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/devices/aa:bb:cc:dd:ee:01/contacts", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	var result contact.RouteResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if result.AudienceID != "aud-1" || result.AppliedTags != 2 {
		t.Errorf("result = %+v", result)
	}
}

// TestContactHandler_Receive_Errors はエラー変換を検証する。
func TestContactHandler_Receive_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		routeErr   error
		wantStatus int
	}{
		{
			name:       "未リンクデバイスは404",
			body:       `{"email":"guest@example.com"}`,
			routeErr:   model.NewMappingNotFoundError("aa:bb:cc:dd:ee:01"),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "上流認証エラーは502",
			body:       `{"email":"guest@example.com"}`,
			routeErr:   model.NewUpstreamAuthError(),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "壊れたJSONは400",
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockContactRouter{
				routeFn: func(ctx context.Context, device string, record contact.Record) (*contact.RouteResult, error) {
					return nil, tt.routeErr
				},
			}
			router := newContactTestRouter(mock)

			req := httptest.NewRequest(http.MethodPost, "/webhook/devices/aa:bb:cc:dd:ee:01/contacts", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
