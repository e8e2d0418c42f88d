package persona

import (
	"encoding/json"
	"time"

	"ampel/internal/kyc/models"
	id "ampel/pkg/domain"
)

// JSON:API envelope shapes as sent with Key-Inflection: kebab.

type document struct {
	Data json.RawMessage `json:"data"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

type resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    json.RawMessage         `json:"attributes"`
	Relationships map[string]relationship `json:"relationships,omitempty"`
}

// relationship data is either a single identifier, a list, or null.
type relationship struct {
	Data json.RawMessage `json:"data"`
}

type resourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// single returns the id of a to-one relationship, or "" when absent.
func (r resource) single(name string) string {
	rel, ok := r.Relationships[name]
	if !ok || len(rel.Data) == 0 || string(rel.Data) == "null" {
		return ""
	}
	var ident resourceIdentifier
	if err := json.Unmarshal(rel.Data, &ident); err != nil {
		return ""
	}
	return ident.ID
}

type inquiryAttributes struct {
	Status      string     `json:"status"`
	ReferenceID string     `json:"reference-id"`
	CreatedAt   *time.Time `json:"created-at"`
	CompletedAt *time.Time `json:"completed-at"`
	DecidedAt   *time.Time `json:"decided-at"`
}

type accountAttributes struct {
	ReferenceID        string `json:"reference-id"`
	PrimaryAccountID   string `json:"primary-account-id"`
	SecondaryAccountID string `json:"secondary-account-id"`
}

type createInquiryRequest struct {
	Data struct {
		Attributes struct {
			InquiryTemplateID string `json:"inquiry-template-id"`
			ReferenceID       string `json:"reference-id"`
		} `json:"attributes"`
	} `json:"data"`
}

type oneTimeLinkMeta struct {
	OneTimeLink      string `json:"one-time-link"`
	OneTimeLinkShort string `json:"one-time-link-short"`
}

// Inquiry is the subset of a vendor inquiry this service acts on.
type Inquiry struct {
	ID          id.InquiryID
	Status      models.InquiryStatus
	RawStatus   string
	ReferenceID string
	AccountID   *id.AccountID
	CreatedAt   *time.Time
	CompletedAt *time.Time
	DecidedAt   *time.Time
}

// Metadata is the free-form projection stored on verification records.
func (i Inquiry) Metadata() map[string]any {
	m := map[string]any{"vendor_status": i.RawStatus}
	if i.ReferenceID != "" {
		m["reference_id"] = i.ReferenceID
	}
	if i.CompletedAt != nil {
		m["completed_at"] = i.CompletedAt.UTC().Format(time.RFC3339)
	}
	if i.DecidedAt != nil {
		m["decided_at"] = i.DecidedAt.UTC().Format(time.RFC3339)
	}
	return m
}

// Account is a vendor account as seen in account.* webhooks and searches.
// PrimaryID and SecondaryID are set on consolidation events only.
type Account struct {
	ID          id.AccountID
	ReferenceID string
	PrimaryID   *id.AccountID
	SecondaryID *id.AccountID
}

func decodeInquiry(raw json.RawMessage) (*Inquiry, error) {
	var res resource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	inquiryID, err := id.ParseInquiryID(res.ID)
	if err != nil {
		return nil, err
	}
	var attrs inquiryAttributes
	if len(res.Attributes) > 0 {
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			return nil, err
		}
	}
	status, _ := models.ParseInquiryStatus(attrs.Status)
	inq := &Inquiry{
		ID:          inquiryID,
		Status:      status,
		RawStatus:   attrs.Status,
		ReferenceID: attrs.ReferenceID,
		CreatedAt:   attrs.CreatedAt,
		CompletedAt: attrs.CompletedAt,
		DecidedAt:   attrs.DecidedAt,
	}
	if raw := res.single("account"); raw != "" {
		if accountID, err := id.ParseAccountID(raw); err == nil {
			inq.AccountID = &accountID
		}
	}
	return inq, nil
}

func decodeAccount(raw json.RawMessage) (*Account, error) {
	var res resource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(res.ID)
	if err != nil {
		return nil, err
	}
	var attrs accountAttributes
	if len(res.Attributes) > 0 {
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			return nil, err
		}
	}
	acct := &Account{ID: accountID, ReferenceID: attrs.ReferenceID}
	acct.PrimaryID = optionalAccount(attrs.PrimaryAccountID, res.single("primary-account"))
	acct.SecondaryID = optionalAccount(attrs.SecondaryAccountID, res.single("secondary-account"))
	return acct, nil
}

func optionalAccount(candidates ...string) *id.AccountID {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if parsed, err := id.ParseAccountID(c); err == nil {
			return &parsed
		}
	}
	return nil
}
