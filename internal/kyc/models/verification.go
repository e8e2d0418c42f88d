package models

import (
	"time"

	id "ampel/pkg/domain"
)

// VerificationStatus is our projection of the vendor's inquiry outcome.
type VerificationStatus string

const (
	VerificationApproved    VerificationStatus = "approved"
	VerificationDeclined    VerificationStatus = "declined"
	VerificationPending     VerificationStatus = "pending"
	VerificationNeedsReview VerificationStatus = "needs_review"
)

// Verification mirrors one vendor inquiry. It is unique per inquiry id and
// always overwritable by newer vendor events.
type Verification struct {
	UserID    id.UserID
	InquiryID id.InquiryID
	AccountID *id.AccountID
	Status    VerificationStatus
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdentityLink binds one verified vendor account to exactly one user.
type IdentityLink struct {
	UserID    id.UserID
	AccountID id.AccountID
	CreatedAt time.Time
	UpdatedAt time.Time
}
