package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapOutcome(t *testing.T) {
	tests := []struct {
		name     string
		callback CallbackOutcome
		inquiry  InquiryStatus
		want     Outcome
	}{
		{"completed+approved", CallbackCompleted, InquiryApproved, Outcome{VerificationApproved, SessionCompleted}},
		{"completed+declined", CallbackCompleted, InquiryDeclined, Outcome{VerificationDeclined, SessionFailed}},
		{"completed+needs_review", CallbackCompleted, InquiryNeedsReview, Outcome{VerificationNeedsReview, SessionInProgress}},
		{"completed+completed", CallbackCompleted, InquiryCompleted, Outcome{VerificationPending, SessionInProgress}},
		{"completed+unknown", CallbackCompleted, InquiryUnknown, Outcome{VerificationPending, SessionInProgress}},
		{"failed+approved", CallbackFailed, InquiryApproved, Outcome{VerificationDeclined, SessionFailed}},
		{"failed+pending", CallbackFailed, InquiryPending, Outcome{VerificationDeclined, SessionFailed}},
		{"expired inquiry keeps verification retryable", CallbackCompleted, InquiryExpired, Outcome{VerificationPending, SessionFailed}},
		{"expired inquiry on failed callback", CallbackFailed, InquiryExpired, Outcome{VerificationPending, SessionFailed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapOutcome(tt.callback, tt.inquiry))
		})
	}
}

func TestMapInquiryStatus(t *testing.T) {
	assert.Equal(t, Outcome{VerificationApproved, SessionCompleted}, MapInquiryStatus(InquiryApproved))
	assert.Equal(t, Outcome{VerificationDeclined, SessionFailed}, MapInquiryStatus(InquiryFailed))
	assert.Equal(t, Outcome{VerificationPending, SessionInProgress}, MapInquiryStatus(InquiryPending))
	assert.Equal(t, Outcome{VerificationPending, SessionFailed}, MapInquiryStatus(InquiryExpired))
}

func TestParseInquiryStatus(t *testing.T) {
	s, ok := ParseInquiryStatus("needs-review")
	assert.True(t, ok)
	assert.Equal(t, InquiryNeedsReview, s)

	s, ok = ParseInquiryStatus("Approved")
	assert.True(t, ok)
	assert.Equal(t, InquiryApproved, s)

	s, ok = ParseInquiryStatus("transitioned")
	assert.False(t, ok)
	assert.Equal(t, InquiryUnknown, s)
}

func TestParseCallbackOutcome(t *testing.T) {
	assert.Equal(t, CallbackCompleted, ParseCallbackOutcome("completed"))
	assert.Equal(t, CallbackFailed, ParseCallbackOutcome(" FAILED "))
	assert.Equal(t, CallbackUnknown, ParseCallbackOutcome("cancelled"))
}
