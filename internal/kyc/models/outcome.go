package models

import "strings"

// CallbackOutcome is the status query parameter the vendor appends to the
// redirect back to us.
type CallbackOutcome string

const (
	CallbackCompleted CallbackOutcome = "completed"
	CallbackFailed    CallbackOutcome = "failed"
	CallbackUnknown   CallbackOutcome = ""
)

// ParseCallbackOutcome accepts only the two documented values.
func ParseCallbackOutcome(s string) CallbackOutcome {
	switch CallbackOutcome(strings.ToLower(strings.TrimSpace(s))) {
	case CallbackCompleted:
		return CallbackCompleted
	case CallbackFailed:
		return CallbackFailed
	}
	return CallbackUnknown
}

// InquiryStatus is the closed set of vendor inquiry states we understand.
type InquiryStatus string

const (
	InquiryCreated     InquiryStatus = "created"
	InquiryPending     InquiryStatus = "pending"
	InquiryCompleted   InquiryStatus = "completed"
	InquiryApproved    InquiryStatus = "approved"
	InquiryDeclined    InquiryStatus = "declined"
	InquiryNeedsReview InquiryStatus = "needs_review"
	InquiryExpired     InquiryStatus = "expired"
	InquiryFailed      InquiryStatus = "failed"
	InquiryUnknown     InquiryStatus = "unknown"
)

// ParseInquiryStatus maps a raw vendor string onto the closed set. The
// vendor uses kebab-case ("needs-review") under Key-Inflection: kebab.
// Unrecognized strings become InquiryUnknown and ok is false so callers
// can log them.
func ParseInquiryStatus(raw string) (status InquiryStatus, ok bool) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	switch InquiryStatus(norm) {
	case InquiryCreated, InquiryPending, InquiryCompleted, InquiryApproved,
		InquiryDeclined, InquiryNeedsReview, InquiryExpired, InquiryFailed:
		return InquiryStatus(norm), true
	}
	return InquiryUnknown, false
}

// Outcome is the internal (verification, session) pair derived from vendor truth.
type Outcome struct {
	Verification VerificationStatus
	Session      SessionStatus
}

// MapOutcome derives our statuses from the vendor-reported callback outcome
// and the fetched inquiry status. An expired inquiry fails the session but
// keeps the verification pending so the user may retry.
func MapOutcome(callback CallbackOutcome, inquiry InquiryStatus) Outcome {
	if inquiry == InquiryExpired {
		return Outcome{Verification: VerificationPending, Session: SessionFailed}
	}
	switch callback {
	case CallbackFailed:
		return Outcome{Verification: VerificationDeclined, Session: SessionFailed}
	case CallbackCompleted:
		switch inquiry {
		case InquiryApproved:
			return Outcome{Verification: VerificationApproved, Session: SessionCompleted}
		case InquiryDeclined:
			return Outcome{Verification: VerificationDeclined, Session: SessionFailed}
		case InquiryNeedsReview:
			return Outcome{Verification: VerificationNeedsReview, Session: SessionInProgress}
		}
	}
	return Outcome{Verification: VerificationPending, Session: SessionInProgress}
}

// MapInquiryStatus is MapOutcome for pushes (webhooks) that carry no
// callback outcome: terminal vendor decisions imply a completed flow and
// a vendor-side failure implies a failed one.
func MapInquiryStatus(inquiry InquiryStatus) Outcome {
	switch inquiry {
	case InquiryApproved, InquiryDeclined, InquiryNeedsReview:
		return MapOutcome(CallbackCompleted, inquiry)
	case InquiryFailed:
		return MapOutcome(CallbackFailed, inquiry)
	}
	return MapOutcome(CallbackUnknown, inquiry)
}
