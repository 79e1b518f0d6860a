package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kycops/internal/lifecycle"
	"kycops/internal/lifecycle/handler/mocks"
	"kycops/internal/registry/models"
	dErrors "kycops/pkg/domain-errors"
	"kycops/pkg/requestcontext"
	"kycops/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/service-mocks.go -package=mocks Service
type LifecycleHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestLifecycleHandlerSuite(t *testing.T) {
	suite.Run(t, new(LifecycleHandlerSuite))
}

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func (s *LifecycleHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	s.service = mocks.NewMockService(ctrl)

	h := New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			req = testutil.FromClient(req, "203.0.113.9", req.UserAgent())
			if approver := req.Header.Get("X-Test-Approver"); approver != "" {
				req = testutil.AsAdmin(req, approver)
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api", func(r chi.Router) {
		h.RegisterPublic(r)
		r.Route("/admin", h.RegisterAdmin)
	})
	s.router = r
}

func (s *LifecycleHandlerSuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func validSubmission() map[string]string {
	return map[string]string{
		"full_name":            " Rudo Moyo ",
		"email":                "rudo@example.com",
		"id_number":            "63-1",
		"phone":                "+263771234567",
		"address":              "12 Samora Machel Ave",
		"id_front_url":         "https://docs.example.com/f.png",
		"id_back_url":          "https://docs.example.com/b.png",
		"proof_of_address_url": "https://docs.example.com/p.pdf",
		"passport_photo_url":   "https://docs.example.com/pp.jpg",
	}
}

func (s *LifecycleHandlerSuite) TestSubmit() {
	s.Run("returns pending acknowledgement", func() {
		s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, cmd lifecycle.SubmitCommand) (*models.Record, error) {
				s.Equal("Rudo Moyo", cmd.Applicant.FullName)
				s.Equal("https://docs.example.com/pp.jpg", cmd.Documents.PassportPhoto)
				s.Equal("web_form", cmd.Source.Channel)
				s.Equal("203.0.113.9", cmd.Source.IPAddress)
				s.Equal("Chrome", cmd.Source.Browser)
				s.False(cmd.Source.Mobile)
				return &models.Record{ID: "APP-63-1-1700000000000", Status: models.StatusPending}, nil
			})

		rec := s.do(http.MethodPost, "/api/kyc/submit", validSubmission(), map[string]string{"User-Agent": chromeUA})
		s.Require().Equal(http.StatusOK, rec.Code)

		var resp SubmitResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.True(resp.Success)
		s.Equal("PENDING", resp.Status)
		s.Equal("APP-63-1-1700000000000", resp.ApplicationID)
	})

	s.Run("rate limited submission carries Retry-After", func() {
		s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.NewRateLimited("too many submissions, please try again later", 90*time.Second))

		rec := s.do(http.MethodPost, "/api/kyc/submit", validSubmission(), nil)
		s.Equal(http.StatusTooManyRequests, rec.Code)
		s.Equal("90", rec.Header().Get("Retry-After"))
	})

	s.Run("missing fields are listed", func() {
		s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.NewValidation("missing required fields: phone", "phone"))

		body := validSubmission()
		delete(body, "phone")
		rec := s.do(http.MethodPost, "/api/kyc/submit", body, nil)
		s.Equal(http.StatusUnprocessableEntity, rec.Code)
		s.Contains(rec.Body.String(), `"fields":["phone"]`)
	})

	s.Run("malformed email never reaches the engine", func() {
		body := validSubmission()
		body["email"] = "not-an-address"
		rec := s.do(http.MethodPost, "/api/kyc/submit", body, nil)
		s.Equal(http.StatusUnprocessableEntity, rec.Code)
		s.Contains(rec.Body.String(), `"fields":["email"]`)

		body["email"] = strings.Repeat("a", 250) + "@example.com"
		rec = s.do(http.MethodPost, "/api/kyc/submit", body, nil)
		s.Equal(http.StatusUnprocessableEntity, rec.Code)
	})

	s.Run("malformed document references never reach the engine", func() {
		body := validSubmission()
		body["id_back_url"] = "not a url"
		body["passport_photo_url"] = "http://docs example.com/pp.jpg"
		rec := s.do(http.MethodPost, "/api/kyc/submit", body, nil)
		s.Equal(http.StatusUnprocessableEntity, rec.Code)
		s.Contains(rec.Body.String(), `"fields":["id_back_url","passport_photo_url"]`)
	})

	s.Run("local upload paths are accepted", func() {
		s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(&models.Record{ID: "APP-63-1-1700000000001", Status: models.StatusPending}, nil)

		body := validSubmission()
		body["id_front_url"] = "/files/id_front-1700000000000.png"
		rec := s.do(http.MethodPost, "/api/kyc/submit", body, nil)
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("invalid json", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/kyc/submit", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *LifecycleHandlerSuite) TestApprove() {
	admin := map[string]string{"X-Test-Approver": "admin@example.com"}

	s.Run("returns agent id", func() {
		s.service.EXPECT().Approve(gomock.Any(), "APP-1", "admin@example.com").
			Return(&models.Record{ID: "APP-1", Status: models.StatusApproved, AgentID: "AGT-1"}, nil)

		rec := s.do(http.MethodPost, "/api/admin/applications/APP-1/approve", nil, admin)
		s.Require().Equal(http.StatusOK, rec.Code)
		var resp DecisionResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.Equal("AGT-1", resp.AgentID)
		s.Equal("Application approved", resp.Message)
	})

	s.Run("decided application conflicts", func() {
		s.service.EXPECT().Approve(gomock.Any(), "APP-2", "admin@example.com").
			Return(nil, dErrors.New(dErrors.CodeInvalidState, "application is already approved"))

		rec := s.do(http.MethodPost, "/api/admin/applications/APP-2/approve", nil, admin)
		s.Equal(http.StatusConflict, rec.Code)
	})

	s.Run("unknown application", func() {
		s.service.EXPECT().Approve(gomock.Any(), "APP-3", "admin@example.com").
			Return(nil, dErrors.New(dErrors.CodeNotFound, "application not found"))

		rec := s.do(http.MethodPost, "/api/admin/applications/APP-3/approve", nil, admin)
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *LifecycleHandlerSuite) TestReject() {
	s.service.EXPECT().Reject(gomock.Any(), "APP-1", "admin@example.com", "document unreadable").
		Return(&models.Record{ID: "APP-1", Status: models.StatusRejected}, nil)

	rec := s.do(http.MethodPost, "/api/admin/applications/APP-1/reject",
		map[string]string{"reason": " document unreadable "},
		map[string]string{"X-Test-Approver": "admin@example.com"})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Application rejected")
	s.NotContains(rec.Body.String(), "agentId")
}

func (s *LifecycleHandlerSuite) TestRejectReasonTooLong() {
	rec := s.do(http.MethodPost, "/api/admin/applications/APP-1/reject",
		map[string]string{"reason": strings.Repeat("x", 2001)},
		map[string]string{"X-Test-Approver": "admin@example.com"})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	s.Contains(rec.Body.String(), `"fields":["reason"]`)
}

func (s *LifecycleHandlerSuite) TestRejectWithoutBody() {
	s.service.EXPECT().Reject(gomock.Any(), "APP-1", "admin@example.com", "").
		Return(&models.Record{ID: "APP-1", Status: models.StatusRejected}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/applications/APP-1/reject", nil)
	req.Header.Set("X-Test-Approver", "admin@example.com")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *LifecycleHandlerSuite) TestListAndGet() {
	s.service.EXPECT().List(gomock.Any()).Return(nil, nil)
	rec := s.do(http.MethodGet, "/api/admin/applications", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`[]`, rec.Body.String())

	s.service.EXPECT().Get(gomock.Any(), "APP-9").
		Return(&models.Record{ID: "APP-9", Status: models.StatusPending}, nil)
	rec = s.do(http.MethodGet, "/api/admin/applications/APP-9", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"APP-9"`)

	s.service.EXPECT().List(gomock.Any()).Return(nil, dErrors.New(dErrors.CodeInternal, "boom"))
	rec = s.do(http.MethodGet, "/api/admin/applications", nil, nil)
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.NotContains(rec.Body.String(), "boom")
}

func TestSourceFromContextWithoutUserAgent(t *testing.T) {
	ctx := requestcontext.WithClientMetadata(context.Background(), "10.0.0.1", "")
	src := sourceFromContext(ctx)
	require.Equal(t, "web_form", src.Channel)
	assert.Equal(t, "10.0.0.1", src.IPAddress)
	assert.Empty(t, src.Browser)
}
