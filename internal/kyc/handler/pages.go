package handler

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"

	"github.com/skip2/go-qrcode"

	"ampel/internal/kyc/service"
)

//go:embed templates/*.html
var templateFS embed.FS

const qrSize = 256

type notice struct {
	Title       string
	Message     string
	ActionURL   string
	ActionLabel string
}

type qrPage struct {
	Title        string
	QRImage      template.URL
	QRTarget     string
	SessionToken string
	ExpiresAt    string
	SuccessPath  string
	FailPath     string
}

var (
	noticeTemplate = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/notice.html"))
	qrTemplate     = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/qr.html"))
)

var (
	pageSuccess = notice{
		Title:       "Verification complete",
		Message:     "Your identity has been verified.",
		ActionURL:   "/",
		ActionLabel: "Continue",
	}
	pageCompleteOnWeb = notice{
		Title:   "Return to your computer",
		Message: "Verification is complete. You can close this tab and continue on your computer.",
	}
	pageFail = notice{
		Title:       "Verification unsuccessful",
		Message:     "We couldn't verify your identity this time.",
		ActionURL:   "/kyc/start",
		ActionLabel: "Start again",
	}
	pagePending = notice{
		Title:   "Verification in review",
		Message: "We're reviewing your information and will let you know when it's done.",
	}
	pageUnknownDevice = notice{
		Title: "Unrecognized device",
		Message: "Open this page in your phone's browser to verify with its camera, " +
			"or on a desktop browser to get a QR code to scan.",
		ActionURL:   "/kyc/start",
		ActionLabel: "Try again",
	}
	pageAlreadyVerified = notice{
		Title:       "Already verified",
		Message:     "Your identity is already verified. There is nothing else to do.",
		ActionURL:   "/",
		ActionLabel: "Continue",
	}
	pageLinkNotFound = notice{
		Title:   "Link not found",
		Message: "This verification link is not valid. Start again from your computer.",
	}
	pageLinkExpired = notice{
		Title:   "This link has expired",
		Message: "Verification links are valid for 30 minutes. Start again from your computer to get a new code.",
	}
	pageLinkUsed = notice{
		Title:   "Verification already finished",
		Message: "This verification has already finished. Start again from your computer if you need to retry.",
	}
)

// terminalPages are served as static pages at their redirect paths.
var terminalPages = map[string]notice{
	service.PathSuccess:       pageSuccess,
	service.PathCompleteOnWeb: pageCompleteOnWeb,
	service.PathFail:          pageFail,
	service.PathPending:       pagePending,
}

// renderPage executes into a buffer so a template error can still become
// a 500 before any bytes are written.
func renderPage(w http.ResponseWriter, status int, tmpl *template.Template, data any) error {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
	return nil
}

// qrDataURI renders target as an inline PNG.
func qrDataURI(target string) (template.URL, error) {
	png, err := qrcode.Encode(target, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)), nil
}
