package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Lixing-Zhang/foodprep/internal/config"
	"github.com/Lixing-Zhang/foodprep/pkg/logger"
)

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.AuthConfig{
		APIKeys: []string{"apitest", "testkey123"},
	}

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})

	authHandler := APIKeyAuth(cfg, logger.NewWithWriter("error", io.Discard))(testHandler)

	tests := []struct {
		name           string
		method         string
		apiKey         string
		expectedStatus int
	}{
		{
			name:           "valid API key on add",
			method:         http.MethodPost,
			apiKey:         "apitest",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "second valid API key on delete",
			method:         http.MethodDelete,
			apiKey:         "testkey123",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing API key",
			method:         http.MethodPost,
			apiKey:         "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid API key",
			method:         http.MethodDelete,
			apiKey:         "wrongkey",
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "prefix of a valid key",
			method:         http.MethodPost,
			apiKey:         "apites",
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/food", nil)
			if tt.apiKey != "" {
				req.Header.Set(APIKeyHeader, tt.apiKey)
			}

			w := httptest.NewRecorder()
			authHandler.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.expectedStatus)
			}

			if tt.expectedStatus == http.StatusOK {
				if w.Body.String() != "success" {
					t.Errorf("body = %s, want success", w.Body.String())
				}
			} else if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %s, want application/json", ct)
			}
		})
	}
}
