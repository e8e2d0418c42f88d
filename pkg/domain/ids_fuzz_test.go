//go:build go1.18

package domain

import (
	"testing"
)

// FuzzParseUserID tests that parsing never panics on arbitrary input
// and always returns either a valid ID or an error.
func FuzzParseUserID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE users;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseUserID(input)
		if err == nil {
			roundTrip, err2 := ParseUserID(id.String())
			if err2 != nil {
				t.Errorf("Valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("Round-trip changed ID value")
			}
			if id.IsNil() {
				t.Error("Nil ID was accepted")
			}
		}
	})
}

// FuzzParseInquiryID checks vendor ids only ever round-trip unchanged.
func FuzzParseInquiryID(f *testing.F) {
	f.Add("inq_abc123")
	f.Add("inq_")
	f.Add("act_abc123")
	f.Add("inq_\x00")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseInquiryID(input)
		if err == nil && id.String() != input {
			t.Errorf("accepted id %q was altered to %q", input, id.String())
		}
	})
}
