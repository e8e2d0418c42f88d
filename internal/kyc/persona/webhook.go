package persona

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SignatureHeader carries the vendor webhook signature.
const SignatureHeader = "Persona-Signature"

var (
	ErrNoWebhookSecret    = errors.New("webhook secret not configured")
	ErrMissingSignature   = errors.New("missing webhook signature")
	ErrMalformedSignature = errors.New("malformed webhook signature")
	ErrSignatureMismatch  = errors.New("webhook signature mismatch")
)

// VerifyWebhookSignature checks header ("t=<unix>,v1=<hex>[,v1=<hex>...]")
// against HMAC-SHA256(secret, "<t>.<body>"). Any v1 value may match, which
// covers secret rotation windows. It runs before the body is parsed.
func VerifyWebhookSignature(secret, header string, body []byte) error {
	if secret == "" {
		return ErrNoWebhookSecret
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}

	var timestamp string
	var candidates [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformedSignature
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil || len(sig) != sha256.Size {
				return ErrMalformedSignature
			}
			candidates = append(candidates, sig)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return ErrMalformedSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, sig := range candidates {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// Sign produces a header value for body at t. Used by tests and local tooling.
func Sign(secret string, t time.Time, body []byte) string {
	ts := fmt.Sprintf("%d", t.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// EventKind is the family of a webhook event, from its name prefix.
type EventKind string

const (
	KindInquiry EventKind = "inquiry"
	KindAccount EventKind = "account"
	KindOther   EventKind = "other"
)

// EventAccountConsolidated moves a link from a secondary to a primary account.
const EventAccountConsolidated = "account.consolidated"

// WebhookEvent is a parsed vendor event. Exactly one of Inquiry or Account
// is set for KindInquiry and KindAccount; neither is set for KindOther.
type WebhookEvent struct {
	ID      string
	Name    string
	Kind    EventKind
	Inquiry *Inquiry
	Account *Account
}

type eventEnvelope struct {
	Data struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Attributes struct {
			Name    string   `json:"name"`
			Payload document `json:"payload"`
		} `json:"attributes"`
	} `json:"data"`
}

// ParseWebhookEvent decodes a signature-verified webhook body. Events
// outside the inquiry and account families parse as KindOther.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}
	attrs := env.Data.Attributes
	if env.Data.ID == "" || attrs.Name == "" {
		return nil, errors.New("webhook event missing id or name")
	}

	evt := &WebhookEvent{ID: env.Data.ID, Name: attrs.Name, Kind: kindOf(attrs.Name)}
	switch evt.Kind {
	case KindInquiry:
		inq, err := decodeInquiry(attrs.Payload.Data)
		if err != nil {
			return nil, fmt.Errorf("decode inquiry payload: %w", err)
		}
		evt.Inquiry = inq
	case KindAccount:
		acct, err := decodeAccount(attrs.Payload.Data)
		if err != nil {
			return nil, fmt.Errorf("decode account payload: %w", err)
		}
		evt.Account = acct
	}
	return evt, nil
}

func kindOf(name string) EventKind {
	prefix, _, _ := strings.Cut(name, ".")
	switch prefix {
	case string(KindInquiry):
		return KindInquiry
	case string(KindAccount):
		return KindAccount
	}
	return KindOther
}
