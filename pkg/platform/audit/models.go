package audit

import (
	"context"
	"time"

	id "ampel/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance:
	// verification decisions and identity links.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events support and fraud teams act on,
	// such as duplicate identity attempts and rejected webhooks.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine flow progress.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	Subject   string
	Action    string
	Decision  string
	Reason    string
	RequestID string
}

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}

type AuditEvent string

const (
	EventKYCSessionStarted       AuditEvent = "kyc_session_started"
	EventKYCSessionExpired       AuditEvent = "kyc_session_expired"
	EventKYCInquiryCreated       AuditEvent = "kyc_inquiry_created"
	EventKYCVerificationApproved AuditEvent = "kyc_verification_approved"
	EventKYCVerificationDeclined AuditEvent = "kyc_verification_declined"
	EventKYCVerificationReview   AuditEvent = "kyc_verification_needs_review"
	EventKYCIdentityLinked       AuditEvent = "kyc_identity_linked"
	EventKYCAccountConsolidated  AuditEvent = "kyc_account_consolidated"
	EventKYCDuplicateAccount     AuditEvent = "kyc_duplicate_account"
	EventKYCVendorFailure        AuditEvent = "kyc_vendor_failure"
	EventKYCWebhookReceived      AuditEvent = "kyc_webhook_received"
	EventKYCWebhookRejected      AuditEvent = "kyc_webhook_rejected"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventKYCVerificationApproved: CategoryCompliance,
	EventKYCVerificationDeclined: CategoryCompliance,
	EventKYCVerificationReview:   CategoryCompliance,
	EventKYCIdentityLinked:       CategoryCompliance,
	EventKYCAccountConsolidated:  CategoryCompliance,

	EventKYCDuplicateAccount: CategorySecurity,
	EventKYCWebhookRejected:  CategorySecurity,

	EventKYCSessionStarted:  CategoryOperations,
	EventKYCSessionExpired:  CategoryOperations,
	EventKYCInquiryCreated:  CategoryOperations,
	EventKYCVendorFailure:   CategoryOperations,
	EventKYCWebhookReceived: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
