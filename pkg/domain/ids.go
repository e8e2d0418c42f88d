package domain

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	dErrors "ampel/pkg/domain-errors"
)

// Typed identifiers. UUID-backed ids are distinct types so a user id can
// never be passed where a session id is expected.
type (
	UserID    uuid.UUID
	SessionID uuid.UUID
)

// Vendor-issued identifiers are opaque strings with a known prefix.
type (
	InquiryID string
	AccountID string
)

const (
	inquiryPrefix = "inq_"
	accountPrefix = "act_"
	maxVendorID   = 64
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return parsed, nil
}

// ParseUserID validates a user id at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user id", s)
	return UserID(u), err
}

// ParseSessionID validates a session id at a trust boundary.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID("session id", s)
	return SessionID(u), err
}

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id SessionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func parseVendorID(kind, prefix, s string) (string, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxVendorID || !strings.HasPrefix(s, prefix) || len(s) == len(prefix) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-') {
			return "", dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
		}
	}
	return s, nil
}

// ParseInquiryID validates a Persona inquiry id ("inq_...").
func ParseInquiryID(s string) (InquiryID, error) {
	v, err := parseVendorID("inquiry id", inquiryPrefix, s)
	return InquiryID(v), err
}

// ParseAccountID validates a Persona account id ("act_...").
func ParseAccountID(s string) (AccountID, error) {
	v, err := parseVendorID("account id", accountPrefix, s)
	return AccountID(v), err
}

func (id InquiryID) String() string { return string(id) }
func (id AccountID) String() string { return string(id) }
