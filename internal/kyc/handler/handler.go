package handler

import (
	"context"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ampel/internal/kyc/device"
	"ampel/internal/kyc/persona"
	"ampel/internal/kyc/service"
	id "ampel/pkg/domain"
	dErrors "ampel/pkg/domain-errors"
	"ampel/pkg/platform/httputil"
	"ampel/pkg/platform/middleware/auth"
	request "ampel/pkg/platform/middleware/request"
	"ampel/pkg/requestcontext"
)

// maxWebhookBody bounds the raw body read before signature verification.
const maxWebhookBody = 1 << 20

// Service defines the flow operations the HTTP surface drives.
type Service interface {
	Start(ctx context.Context, userID id.UserID, userAgent string) (*service.StartResult, error)
	MobileStart(ctx context.Context, sessionToken string) (string, error)
	Callback(ctx context.Context, p service.CallbackParams) service.CallbackResult
	HandleWebhook(ctx context.Context, signatureHeader string, body []byte) (*service.WebhookResult, error)
	Status(ctx context.Context, userID id.UserID, sessionToken string) (*service.StatusResult, error)
}

// Handler serves the KYC pages and API.
type Handler struct {
	logger       *slog.Logger
	kyc          Service
	jwtValidator auth.JWTValidator
}

// New creates a new KYC Handler.
func New(kyc Service, logger *slog.Logger, jwtValidator auth.JWTValidator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:       logger,
		kyc:          kyc,
		jwtValidator: jwtValidator,
	}
}

// Register registers the KYC routes with the chi router. Mobile-start,
// callback and webhook are reached by phones and the vendor without an
// application session; the session token and webhook signature gate them.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/kyc/mobile-start/{token}", h.handleMobileStart)
	r.Get("/api/kyc/callback", h.handleCallback)
	r.Post("/api/kyc/webhook", h.handleWebhook)
	for path := range terminalPages {
		r.Get(path, h.handleTerminalPage)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
		r.Get("/kyc/start", h.handleStart)
		r.Get("/api/kyc/status", h.handleStatus)
	})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	userID := auth.GetUserID(ctx)

	userAgent := requestcontext.UserAgent(ctx)
	if userAgent == "" {
		userAgent = r.UserAgent()
	}

	res, err := h.kyc.Start(ctx, userID, userAgent)
	if err != nil {
		switch {
		case dErrors.HasCode(err, dErrors.CodeConflict):
			h.render(w, r, http.StatusOK, noticeTemplate, pageAlreadyVerified)
		case dErrors.HasCode(err, dErrors.CodeUnauthorized):
			httputil.WriteError(w, err)
		default:
			h.logger.ErrorContext(ctx, "kyc start failed",
				"request_id", requestID,
				"user_id", userID.String(),
				"error", err,
			)
			httputil.Redirect(w, r, service.PathFail)
		}
		return
	}

	switch res.Class {
	case device.Mobile:
		httputil.Redirect(w, r, res.VendorURL)
	case device.Desktop:
		h.renderQR(w, r, res)
	default:
		h.render(w, r, http.StatusOK, noticeTemplate, pageUnknownDevice)
	}
}

func (h *Handler) renderQR(w http.ResponseWriter, r *http.Request, res *service.StartResult) {
	image, err := qrDataURI(res.QRTarget)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render qr code",
			"request_id", request.GetRequestID(r.Context()),
			"error", err,
		)
		httputil.Redirect(w, r, service.PathFail)
		return
	}
	h.render(w, r, http.StatusOK, qrTemplate, qrPage{
		Title:        "Continue on your phone",
		QRImage:      image,
		QRTarget:     res.QRTarget,
		SessionToken: res.Session.Token,
		ExpiresAt:    res.Session.ExpiresAt.UTC().Format(time.Kitchen + " MST"),
		SuccessPath:  service.PathSuccess,
		FailPath:     service.PathFail,
	})
}

func (h *Handler) handleMobileStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	vendorURL, err := h.kyc.MobileStart(ctx, chi.URLParam(r, "token"))
	if err == nil {
		httputil.Redirect(w, r, vendorURL)
		return
	}

	code := dErrors.CodeOf(err)
	h.logger.WarnContext(ctx, "kyc mobile start rejected",
		"request_id", requestID,
		"code", string(code),
		"error", err,
	)
	switch code {
	case dErrors.CodeNotFound:
		h.render(w, r, http.StatusNotFound, noticeTemplate, pageLinkNotFound)
	case dErrors.CodeExpired:
		h.render(w, r, http.StatusGone, noticeTemplate, pageLinkExpired)
	case dErrors.CodeInvalidState:
		h.render(w, r, http.StatusBadRequest, noticeTemplate, pageLinkUsed)
	case dErrors.CodeBadRequest:
		h.render(w, r, http.StatusBadRequest, noticeTemplate, pageLinkNotFound)
	default:
		httputil.Redirect(w, r, service.PathFail)
	}
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := h.kyc.Callback(r.Context(), service.CallbackParams{
		Status:      q.Get("status"),
		InquiryID:   q.Get("inquiry-id"),
		ReferenceID: q.Get("reference-id"),
	})
	httputil.Redirect(w, r, res.Redirect)
}

type webhookResponse struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "webhook body too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read webhook body"))
		return
	}

	res, err := h.kyc.HandleWebhook(ctx, r.Header.Get(persona.SignatureHeader), body)
	if err != nil {
		h.logger.WarnContext(ctx, "kyc webhook rejected",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Duplicate: res.Duplicate})
}

type statusResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	Completed bool   `json:"completed"`
	InquiryID string `json:"inquiryId,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)

	res, err := h.kyc.Status(ctx, userID, r.URL.Query().Get("session_token"))
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "kyc status lookup failed",
				"request_id", request.GetRequestID(ctx),
				"user_id", userID.String(),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	resp := statusResponse{Success: true, Status: string(res.Status), Completed: res.Completed}
	if res.InquiryID != nil {
		resp.InquiryID = res.InquiryID.String()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTerminalPage(w http.ResponseWriter, r *http.Request) {
	page, ok := terminalPages[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.render(w, r, http.StatusOK, noticeTemplate, page)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, tmpl *template.Template, data any) {
	if err := renderPage(w, status, tmpl, data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render page",
			"request_id", request.GetRequestID(r.Context()),
			"error", err,
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
