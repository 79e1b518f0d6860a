package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"kycops/pkg/requestcontext"
)

type stubValidator map[string]string

func (s stubValidator) ValidateAdmin(token string) (string, error) {
	if email, ok := s[token]; ok {
		return email, nil
	}
	return "", errors.New("invalid token")
}

func TestRequireAdmin(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var approver string
	h := RequireAdmin(stubValidator{"good": "admin@example.com"}, logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			approver = requestcontext.Approver(r.Context())
			w.WriteHeader(http.StatusOK)
		}),
	)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantDesc string
	}{
		{"missing header", "", http.StatusUnauthorized, "Missing or invalid Authorization header"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "Missing or invalid Authorization header"},
		{"empty bearer", "Bearer  ", http.StatusUnauthorized, "Missing or invalid Authorization header"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "Invalid or expired token"},
		{"valid token", "Bearer good", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			approver = ""
			req := httptest.NewRequest(http.MethodGet, "/api/admin/applications", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantDesc != "" {
				assert.JSONEq(t, `{"error":"unauthorized","error_description":"`+tt.wantDesc+`"}`, rec.Body.String())
				assert.Empty(t, approver)
			} else {
				assert.Equal(t, "admin@example.com", approver)
			}
		})
	}
}
