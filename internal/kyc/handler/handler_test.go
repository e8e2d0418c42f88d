package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"ampel/internal/kyc/device"
	"ampel/internal/kyc/handler/mocks"
	"ampel/internal/kyc/models"
	"ampel/internal/kyc/persona"
	"ampel/internal/kyc/service"
	id "ampel/pkg/domain"
	dErrors "ampel/pkg/domain-errors"
	"ampel/pkg/platform/middleware/auth"
	"ampel/pkg/testutil"
)

const (
	testAccessToken = "access-token"
	iPhoneUA        = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148"
)

type stubValidator struct {
	userID id.UserID
}

func (v stubValidator) ValidateToken(token string) (*auth.JWTClaims, error) {
	if token != testAccessToken {
		return nil, errors.New("invalid token")
	}
	return &auth.JWTClaims{UserID: v.userID.String()}, nil
}

//go:generate mockgen -source=handler.go -destination=mocks/kyc-mocks.go -package=mocks Service
type HandlerSuite struct {
	suite.Suite
	userID  id.UserID
	service *mocks.MockService
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.userID = id.UserID(uuid.New())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.router = chi.NewRouter()
	New(s.service, logger, stubValidator{userID: s.userID}).Register(s.router)
}

func (s *HandlerSuite) authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+testAccessToken)
	return req
}

func (s *HandlerSuite) TestStart() {
	t := s.T()

	s.Run("desktop renders the qr page", func() {
		sess := models.NewSession(s.userID, models.OriginDesktopQR, "tok_desktop", time.Now(), 30*time.Minute)
		s.service.EXPECT().Start(gomock.Any(), s.userID, "Mozilla/5.0 (X11; Linux x86_64)").
			Return(&service.StartResult{Class: device.Desktop, Session: sess, QRTarget: "https://ampel.test/api/kyc/mobile-start/tok_desktop"}, nil)

		req := s.authed(testutil.NewRequest(t, http.MethodGet, "/kyc/start"))
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		testutil.AssertHTMLContains(t, rr, "data:image/png;base64,")
		s.Contains(rr.Body.String(), "https://ampel.test/api/kyc/mobile-start/tok_desktop")
		s.Contains(rr.Body.String(), `"tok_desktop"`)
		s.Contains(rr.Body.String(), `addEventListener("pagehide", function () { stopped = true;`)
		s.Contains(rr.Body.String(), `if (stopped) { return; }`)
	})

	s.Run("mobile redirects to the vendor", func() {
		s.service.EXPECT().Start(gomock.Any(), s.userID, iPhoneUA).
			Return(&service.StartResult{Class: device.Mobile, VendorURL: "https://vendor.test/verify?code=abc"}, nil)

		req := testutil.WithUserAgent(s.authed(testutil.NewRequest(t, http.MethodGet, "/kyc/start")), iPhoneUA)
		testutil.AssertRedirect(t, testutil.DoRequest(s.router, req), "https://vendor.test/verify?code=abc")
	})

	s.Run("unknown device renders guidance", func() {
		s.service.EXPECT().Start(gomock.Any(), s.userID, "").
			Return(&service.StartResult{Class: device.Unknown}, nil)

		req := s.authed(testutil.NewRequest(t, http.MethodGet, "/kyc/start"))
		req.Header.Del("User-Agent")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(t, rr, http.StatusOK)
		testutil.AssertHTMLContains(t, rr, pageUnknownDevice.Title)
	})

	s.Run("verified users see the already verified page", func() {
		s.service.EXPECT().Start(gomock.Any(), s.userID, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "identity already verified"))

		rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(t, http.MethodGet, "/kyc/start")))
		testutil.AssertStatus(t, rr, http.StatusOK)
		testutil.AssertHTMLContains(t, rr, pageAlreadyVerified.Title)
	})

	s.Run("vendor failure lands on the fail page", func() {
		s.service.EXPECT().Start(gomock.Any(), s.userID, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeUnavailable, "verification provider unavailable"))

		rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(t, http.MethodGet, "/kyc/start")))
		testutil.AssertRedirect(t, rr, service.PathFail)
	})

	s.Run("requires authentication", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/kyc/start"))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})
}

func (s *HandlerSuite) TestMobileStart() {
	t := s.T()

	s.Run("redirects to the vendor", func() {
		s.service.EXPECT().MobileStart(gomock.Any(), "tok_1").Return("https://vendor.test/verify?code=xyz", nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/api/kyc/mobile-start/tok_1"))
		testutil.AssertRedirect(t, rr, "https://vendor.test/verify?code=xyz")
	})

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"lookup error", dErrors.New(dErrors.CodeBadRequest, "failed to look up session"), http.StatusBadRequest},
		{"not found", dErrors.New(dErrors.CodeNotFound, "session not found"), http.StatusNotFound},
		{"expired", dErrors.New(dErrors.CodeExpired, "session expired"), http.StatusGone},
		{"terminal", dErrors.New(dErrors.CodeInvalidState, "session already completed"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.service.EXPECT().MobileStart(gomock.Any(), "tok_2").Return("", tc.err)
			rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/api/kyc/mobile-start/tok_2"))
			testutil.AssertStatus(t, rr, tc.status)
			s.Contains(rr.Header().Get("Content-Type"), "text/html")
		})
	}

	s.Run("vendor outage lands on the fail page", func() {
		s.service.EXPECT().MobileStart(gomock.Any(), "tok_3").
			Return("", dErrors.New(dErrors.CodeUnavailable, "verification provider unavailable"))
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/api/kyc/mobile-start/tok_3"))
		testutil.AssertRedirect(t, rr, service.PathFail)
	})
}

func (s *HandlerSuite) TestCallback() {
	s.service.EXPECT().Callback(gomock.Any(), service.CallbackParams{
		Status:      "completed",
		InquiryID:   "inq_123",
		ReferenceID: "ref-1",
	}).Return(service.CallbackResult{Redirect: service.PathCompleteOnWeb})

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet,
		"/api/kyc/callback?status=completed&inquiry-id=inq_123&reference-id=ref-1"))
	testutil.AssertRedirect(s.T(), rr, service.PathCompleteOnWeb)
}

func (s *HandlerSuite) TestWebhook() {
	t := s.T()
	body := []byte(`{"data":{"type":"event","id":"evt_1"}}`)

	s.Run("acknowledges new events", func() {
		s.service.EXPECT().HandleWebhook(gomock.Any(), "t=1,v1=abc", body).
			Return(&service.WebhookResult{EventID: "evt_1"}, nil)

		req := testutil.NewRequestWithBody(t, http.MethodPost, "/api/kyc/webhook", body)
		req.Header.Set(persona.SignatureHeader, "t=1,v1=abc")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[map[string]any](t, rr)
		s.Equal(map[string]any{"received": true}, *resp)
	})

	s.Run("marks duplicates", func() {
		s.service.EXPECT().HandleWebhook(gomock.Any(), gomock.Any(), body).
			Return(&service.WebhookResult{EventID: "evt_1", Duplicate: true}, nil)

		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(t, http.MethodPost, "/api/kyc/webhook", body))
		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[map[string]any](t, rr)
		s.Equal(map[string]any{"received": true, "duplicate": true}, *resp)
	})

	s.Run("invalid signature", func() {
		s.service.EXPECT().HandleWebhook(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.Wrap(persona.ErrSignatureMismatch, dErrors.CodeUnauthorized, "invalid webhook signature"))

		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(t, http.MethodPost, "/api/kyc/webhook", body))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})

	s.Run("misconfiguration", func() {
		s.service.EXPECT().HandleWebhook(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInternal, "webhook secret not configured"))

		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(t, http.MethodPost, "/api/kyc/webhook", body))
		testutil.AssertStatus(t, rr, http.StatusInternalServerError)
		s.NotContains(rr.Body.String(), "secret")
	})

	s.Run("processing failure asks for redelivery", func() {
		s.service.EXPECT().HandleWebhook(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInternal, "failed to process webhook event"))

		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(t, http.MethodPost, "/api/kyc/webhook", body))
		testutil.AssertStatus(t, rr, http.StatusInternalServerError)
		s.NotContains(rr.Body.String(), `"received"`)
	})

	s.Run("oversized body is rejected before verification", func() {
		big := make([]byte, maxWebhookBody+1)
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(t, http.MethodPost, "/api/kyc/webhook", big))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})
}

func (s *HandlerSuite) TestStatus() {
	t := s.T()

	s.Run("reports progress", func() {
		inquiryID := id.InquiryID("inq_9")
		s.service.EXPECT().Status(gomock.Any(), s.userID, "tok_9").
			Return(&service.StatusResult{Status: models.SessionCompleted, Completed: true, InquiryID: &inquiryID}, nil)

		rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(t, http.MethodGet, "/api/kyc/status?session_token=tok_9")))
		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[statusResponse](t, rr)
		s.Equal(statusResponse{Success: true, Status: "completed", Completed: true, InquiryID: "inq_9"}, *resp)
	})

	s.Run("omits the inquiry id before mobile start", func() {
		s.service.EXPECT().Status(gomock.Any(), s.userID, "").
			Return(&service.StatusResult{Status: models.SessionPending}, nil)

		rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(t, http.MethodGet, "/api/kyc/status")))
		s.NotContains(rr.Body.String(), "inquiryId")
	})

	s.Run("not found", func() {
		s.service.EXPECT().Status(gomock.Any(), s.userID, "nope").
			Return(nil, dErrors.New(dErrors.CodeNotFound, "session not found"))

		rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(t, http.MethodGet, "/api/kyc/status?session_token=nope")))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})

	s.Run("rejects bad tokens", func() {
		req := testutil.NewRequest(t, http.MethodGet, "/api/kyc/status")
		req.Header.Set("Authorization", "Bearer forged")
		testutil.AssertStatus(t, testutil.DoRequest(s.router, req), http.StatusUnauthorized)
	})
}

func (s *HandlerSuite) TestTerminalPages() {
	for path, page := range terminalPages {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, path))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		testutil.AssertHTMLContains(s.T(), rr, page.Title)
	}
}
