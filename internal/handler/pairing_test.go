package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/pairing-gateway-go/internal/errors"
	"github.com/openclaw/pairing-gateway-go/internal/httputil"
	"github.com/openclaw/pairing-gateway-go/internal/middleware"
	"github.com/openclaw/pairing-gateway-go/internal/model"
	"github.com/openclaw/pairing-gateway-go/internal/service"
)

type mockPairingAPI struct {
	mock.Mock
}

func (m *mockPairingAPI) RequestCode(ctx context.Context, phoneNumber string) (*service.CodeResult, error) {
	args := m.Called(ctx, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CodeResult), args.Error(1)
}

func (m *mockPairingAPI) RequestQR(ctx context.Context, phoneNumber string) (*service.QRResult, error) {
	args := m.Called(ctx, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.QRResult), args.Error(1)
}

func (m *mockPairingAPI) GetStatus(ctx context.Context) service.StatusResult {
	args := m.Called(ctx)
	return args.Get(0).(service.StatusResult)
}

func (m *mockPairingAPI) GetSession(ctx context.Context, code string) (*model.PairingSession, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairingSession), args.Error(1)
}

func (m *mockPairingAPI) MarkLinkedByCode(ctx context.Context, code, linkedTo string) (*model.PairingSession, error) {
	args := m.Called(ctx, code, linkedTo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairingSession), args.Error(1)
}

func (m *mockPairingAPI) MarkUsedByCode(ctx context.Context, code, usedBy string) (*model.PairingSession, error) {
	args := m.Called(ctx, code, usedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairingSession), args.Error(1)
}

func (m *mockPairingAPI) RestartConnection(ctx context.Context) service.StatusResult {
	args := m.Called(ctx)
	return args.Get(0).(service.StatusResult)
}

func newTestRouter(api PairingAPI, issueLimit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Mount("/api", NewPairingHandler(api).Routes(issueLimit, nil))
	return r
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestPairingHandler_RequestCode(t *testing.T) {
	expiresAt := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)

	t.Run("returns the issued code", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("RequestCode", mock.Anything, "723278526").
			Return(&service.CodeResult{Code: "ABCD1234", SessionID: "sess-1", ExpiresAt: expiresAt}, nil)

		rec := doRequest(newTestRouter(api, nil), http.MethodPost, "/api/code", `{"phoneNumber":"723278526"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "ABCD1234", body["code"])
		assert.Equal(t, "sess-1", body["sessionId"])
		assert.Equal(t, "2026-03-01T12:10:00Z", body["expiresAt"])
		api.AssertExpectations(t)
	})

	t.Run("missing phone number is a bad request", func(t *testing.T) {
		api := new(mockPairingAPI)

		rec := doRequest(newTestRouter(api, nil), http.MethodPost, "/api/code", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeMissingRequired, decodeError(t, rec).Code)
		api.AssertNotCalled(t, "RequestCode", mock.Anything, mock.Anything)
	})

	t.Run("empty body is a bad request", func(t *testing.T) {
		rec := doRequest(newTestRouter(new(mockPairingAPI), nil), http.MethodPost, "/api/code", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed json is a bad request", func(t *testing.T) {
		rec := doRequest(newTestRouter(new(mockPairingAPI), nil), http.MethodPost, "/api/code", `{"phoneNumber":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeValidation, decodeError(t, rec).Code)
	})

	t.Run("invalid phone maps to 400", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("RequestCode", mock.Anything, "12").Return(nil, apperrors.InvalidInput("phoneNumber", "must contain 7 to 15 digits"))

		rec := doRequest(newTestRouter(api, nil), http.MethodPost, "/api/code", `{"phoneNumber":"12"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, decodeError(t, rec).Code)
	})

	t.Run("not ready maps to 503 with retry-after", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("RequestCode", mock.Anything, "723278526").Return(nil, apperrors.NotReady("disconnected"))

		rec := doRequest(newTestRouter(api, nil), http.MethodPost, "/api/code", `{"phoneNumber":"723278526"}`)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		body := decodeError(t, rec)
		assert.Equal(t, apperrors.ErrCodeNotReady, body.Code)
		assert.True(t, body.Retryable)
		assert.Equal(t, map[string]any{"connectionState": "disconnected"}, body.Details)
	})

	t.Run("issuance routes pass through the limiter", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("GetStatus", mock.Anything).Return(service.StatusResult{})
		blocked := func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				httputil.WriteError(w, apperrors.RateLimitExceeded())
			})
		}
		router := newTestRouter(api, blocked)

		assert.Equal(t, http.StatusTooManyRequests, doRequest(router, http.MethodPost, "/api/code", `{"phoneNumber":"723278526"}`).Code)
		assert.Equal(t, http.StatusTooManyRequests, doRequest(router, http.MethodPost, "/api/qr", "").Code)
		assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/api/status", "").Code)
	})
}

func TestPairingHandler_RequestQR(t *testing.T) {
	t.Run("body is optional", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("RequestQR", mock.Anything, "").
			Return(&service.QRResult{QRImage: "data:image/png;base64,AAAA", Code: "ABCD1234"}, nil)

		rec := doRequest(newTestRouter(api, nil), http.MethodPost, "/api/qr", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"qrImage":"data:image/png;base64,AAAA"`)
	})

	t.Run("passes the phone number through", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("RequestQR", mock.Anything, "723278526").Return(&service.QRResult{Code: "ABCD1234"}, nil)

		rec := doRequest(newTestRouter(api, nil), http.MethodPost, "/api/qr", `{"phoneNumber":"723278526"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "qrImage")
		api.AssertExpectations(t)
	})
}

func TestPairingHandler_Sessions(t *testing.T) {
	linkedTo := "acct-1"
	linked := &model.PairingSession{Code: "ABCD1234", Status: model.SessionStatusLinked, LinkedTo: &linkedTo}

	t.Run("get session", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("GetSession", mock.Anything, "ABCD1234").Return(&model.PairingSession{Code: "ABCD1234", Status: model.SessionStatusPending}, nil)

		rec := doRequest(newTestRouter(api, nil), http.MethodGet, "/api/sessions/ABCD1234", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"pending"`)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("GetSession", mock.Anything, "ZZZZ9999").Return(nil, apperrors.NotFound("Pairing session"))

		rec := doRequest(newTestRouter(api, nil), http.MethodGet, "/api/sessions/ZZZZ9999", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("link", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("MarkLinkedByCode", mock.Anything, "ABCD1234", "acct-1").Return(linked, nil)

		rec := doRequest(newTestRouter(api, nil), http.MethodPost, "/api/sessions/ABCD1234/link", `{"linkedTo":"acct-1"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"linkedTo":"acct-1"`)
	})

	t.Run("link of a terminal session conflicts", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("MarkLinkedByCode", mock.Anything, "ABCD1234", "").
			Return(nil, apperrors.Conflict("Pairing session is no longer pending"))

		rec := doRequest(newTestRouter(api, nil), http.MethodPost, "/api/sessions/ABCD1234/link", "")

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, apperrors.ErrCodeConflict, decodeError(t, rec).Code)
	})

	t.Run("oversized linkedTo is rejected", func(t *testing.T) {
		api := new(mockPairingAPI)
		body := `{"linkedTo":"` + strings.Repeat("a", 300) + `"}`

		rec := doRequest(newTestRouter(api, nil), http.MethodPost, "/api/sessions/ABCD1234/link", body)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, decodeError(t, rec).Code)
	})

	t.Run("used", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("MarkUsedByCode", mock.Anything, "ABCD1234", "client-7").
			Return(&model.PairingSession{Code: "ABCD1234", Status: model.SessionStatusUsed}, nil)

		rec := doRequest(newTestRouter(api, nil), http.MethodPost, "/api/sessions/ABCD1234/used", `{"usedBy":"client-7"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"used"`)
	})
}

func TestPairingHandler_Connection(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("GetStatus", mock.Anything).Return(service.StatusResult{
			ConnectionState:  model.ConnectionStateOnline,
			LiveSessionCount: 2,
			AccountID:        "acct-1",
		})

		rec := doRequest(newTestRouter(api, nil), http.MethodGet, "/api/status", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "online", body["connectionState"])
		assert.Equal(t, float64(2), body["liveSessionCount"])
		assert.Equal(t, "acct-1", body["accountId"])
	})

	t.Run("restart returns status", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("RestartConnection", mock.Anything).Return(service.StatusResult{
			ConnectionState: model.ConnectionStateError,
			LastError:       "Device link collaborator unavailable",
		})

		rec := doRequest(newTestRouter(api, nil), http.MethodPost, "/api/connection/restart", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"connectionState":"error"`)
		api.AssertExpectations(t)
	})
}

func TestPairingHandler_OperatorRoutes(t *testing.T) {
	const token = "operator-token-0123456789"

	newGuardedRouter := func(api PairingAPI) http.Handler {
		r := chi.NewRouter()
		r.Mount("/api", NewPairingHandler(api).Routes(nil, middleware.NewOperatorAuth(token).Handler))
		return r
	}

	mutations := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/api/sessions/ABCD1234/link", `{"linkedTo":"attacker"}`},
		{http.MethodPost, "/api/sessions/ABCD1234/used", `{"usedBy":"attacker"}`},
		{http.MethodPost, "/api/connection/restart", ""},
	}

	for _, tc := range mutations {
		t.Run("rejects anonymous "+tc.path, func(t *testing.T) {
			api := new(mockPairingAPI)

			rec := doRequest(newGuardedRouter(api), tc.method, tc.path, tc.body)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, apperrors.ErrCodeUnauthorized, decodeError(t, rec).Code)
			api.AssertNotCalled(t, "MarkLinkedByCode", mock.Anything, mock.Anything, mock.Anything)
			api.AssertNotCalled(t, "MarkUsedByCode", mock.Anything, mock.Anything, mock.Anything)
			api.AssertNotCalled(t, "RestartConnection", mock.Anything)
		})
	}

	t.Run("operator token reaches the service", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("MarkLinkedByCode", mock.Anything, "ABCD1234", "acct-1").
			Return(&model.PairingSession{Code: "ABCD1234", Status: model.SessionStatusLinked}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/sessions/ABCD1234/link", strings.NewReader(`{"linkedTo":"acct-1"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		newGuardedRouter(api).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		api.AssertExpectations(t)
	})

	t.Run("public routes stay open", func(t *testing.T) {
		api := new(mockPairingAPI)
		api.On("GetStatus", mock.Anything).Return(service.StatusResult{ConnectionState: model.ConnectionStateOnline})
		api.On("GetSession", mock.Anything, "ABCD1234").
			Return(&model.PairingSession{Code: "ABCD1234", Status: model.SessionStatusPending}, nil)
		router := newGuardedRouter(api)

		assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/api/status", "").Code)
		assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/api/sessions/ABCD1234", "").Code)
		api.AssertExpectations(t)
	})
}
