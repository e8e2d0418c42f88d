package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"ampel/internal/kyc/models"
	"ampel/internal/kyc/persona"
	id "ampel/pkg/domain"
	"ampel/pkg/platform/sentinel"
)

// fakeVendor is an in-process stand-in for the hosted verification API.
type fakeVendor struct {
	mu        sync.Mutex
	inquiries map[id.InquiryID]*persona.Inquiry
	accounts  map[string]*persona.Account
	seq       int

	createErr error
	linkErr   error
	getErr    error

	createCalls int
	getCalls    int
}

func newFakeVendor() *fakeVendor {
	return &fakeVendor{
		inquiries: make(map[id.InquiryID]*persona.Inquiry),
		accounts:  make(map[string]*persona.Account),
	}
}

func (f *fakeVendor) CreateInquiry(_ context.Context, _, referenceID string) (*persona.Inquiry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	inq := &persona.Inquiry{
		ID:          id.InquiryID(fmt.Sprintf("inq_%03d", f.seq)),
		Status:      models.InquiryCreated,
		RawStatus:   "created",
		ReferenceID: referenceID,
	}
	f.inquiries[inq.ID] = inq
	cp := *inq
	return &cp, nil
}

func (f *fakeVendor) GenerateOneTimeLink(_ context.Context, inquiryID id.InquiryID, redirectURI string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return "", f.linkErr
	}
	return "https://vendor.test/verify?inquiry-id=" + inquiryID.String() +
		"&redirect-uri=" + url.QueryEscape(redirectURI), nil
}

func (f *fakeVendor) GetInquiry(_ context.Context, inquiryID id.InquiryID) (*persona.Inquiry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	inq, ok := f.inquiries[inquiryID]
	if !ok {
		return nil, persona.NewProviderError(persona.ErrorNotFound, "get_inquiry", "inquiry not found", nil)
	}
	cp := *inq
	return &cp, nil
}

func (f *fakeVendor) FindAccountByReferenceID(_ context.Context, referenceID string) (*persona.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[referenceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

// decide sets the vendor-side state the next GetInquiry observes.
func (f *fakeVendor) decide(inquiryID id.InquiryID, status models.InquiryStatus, accountID id.AccountID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inq := f.inquiries[inquiryID]
	inq.Status = status
	inq.RawStatus = string(status)
	if accountID != "" {
		inq.AccountID = &accountID
	}
}

func (f *fakeVendor) setAccount(referenceID string, accountID id.AccountID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[referenceID] = &persona.Account{ID: accountID, ReferenceID: referenceID}
}
