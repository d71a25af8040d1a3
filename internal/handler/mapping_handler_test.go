package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkman/internal/model"
)

type mockMappingService struct {
	disconnectFn    func(ctx context.Context, deviceIdentifier string) error
	listByAccountFn func(ctx context.Context, accountID string) ([]*model.LocationMapping, error)
	searchByNameFn  func(ctx context.Context, name string) ([]*model.LocationMapping, error)
}

func (m *mockMappingService) Disconnect(ctx context.Context, deviceIdentifier string) error {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, deviceIdentifier)
	}
	return nil
}

func (m *mockMappingService) ListByAccount(ctx context.Context, accountID string) ([]*model.LocationMapping, error) {
	if m.listByAccountFn != nil {
		return m.listByAccountFn(ctx, accountID)
	}
	return nil, nil
}

func (m *mockMappingService) SearchByName(ctx context.Context, name string) ([]*model.LocationMapping, error) {
	if m.searchByNameFn != nil {
		return m.searchByNameFn(ctx, name)
	}
	return nil, nil
}

func newMappingRouter(service MappingServiceInterface) http.Handler {
	h := NewMappingHandler(service)
	r := chi.NewRouter()
	r.Get("/api/mappings", h.ListByAccount)
	r.Delete("/api/mappings/{device}", h.Disconnect)
	return r
}

// TestMappingHandler_Disconnect はマッピング削除のレスポンスを検証する。
func TestMappingHandler_Disconnect(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		service := &mockMappingService{
			disconnectFn: func(ctx context.Context, device string) error {
				if device != "aa:bb:cc:dd:ee:01" {
					t.Errorf("device = %q", device)
				}
				return nil
			},
		}
		router := newMappingRouter(service)

		req := httptest.NewRequest(http.MethodDelete, "/api/mappings/aa:bb:cc:dd:ee:01", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", w.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		service := &mockMappingService{
			disconnectFn: func(ctx context.Context, device string) error {
				return model.NewMappingNotFoundError(device)
			},
		}
		router := newMappingRouter(service)

		req := httptest.NewRequest(http.MethodDelete, "/api/mappings/aa:bb:cc:dd:ee:99", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

// TestMappingHandler_ListByAccount は一覧取得のレスポンス形式を検証する。
func TestMappingHandler_ListByAccount(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		service := &mockMappingService{
			listByAccountFn: func(ctx context.Context, accountID string) ([]*model.LocationMapping, error) {
				if accountID != "acct-1" {
					t.Errorf("account id = %q", accountID)
				}
				return []*model.LocationMapping{
					{DeviceIdentifier: "aa:bb:cc:dd:ee:01", AccountID: accountID, AccessToken: "secret"},
					{DeviceIdentifier: "aa:bb:cc:dd:ee:02", AccountID: accountID, AccessToken: "secret"},
				}, nil
			},
		}
		router := newMappingRouter(service)

		req := httptest.NewRequest(http.MethodGet, "/api/mappings?account_id=acct-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var body struct {
			Mappings []map[string]any `json:"mappings"`
			Count    int              `json:"count"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not JSON: %v", err)
		}
		if body.Count != 2 || len(body.Mappings) != 2 {
			t.Errorf("body = %+v", body)
		}
		// トークンは一覧レスポンスに含めない
		if _, ok := body.Mappings[0]["access_token"]; ok {
			t.Error("list response should not expose access tokens")
		}
	})

	t.Run("search by name", func(t *testing.T) {
		service := &mockMappingService{
			searchByNameFn: func(ctx context.Context, name string) ([]*model.LocationMapping, error) {
				if name != "Joes Pizza" {
					t.Errorf("name = %q", name)
				}
				return []*model.LocationMapping{
					{DeviceIdentifier: "aa:bb:cc:dd:ee:01", AccountName: "Joe's Pizza"},
				}, nil
			},
		}
		router := newMappingRouter(service)

		req := httptest.NewRequest(http.MethodGet, "/api/mappings?name=Joes+Pizza", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var body struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not JSON: %v", err)
		}
		if body.Count != 1 {
			t.Errorf("count = %d, want 1", body.Count)
		}
	})

	t.Run("query required", func(t *testing.T) {
		router := newMappingRouter(&mockMappingService{})

		req := httptest.NewRequest(http.MethodGet, "/api/mappings", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}
