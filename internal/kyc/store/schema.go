// Package store holds the KYC table layout shared by the Postgres stores.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var Schema string

// Tables lists every KYC table, in truncation order.
var Tables = []string{"kyc_audit_outbox", "kyc_webhook_events", "kyc_identity_links", "kyc_verifications", "kyc_sessions"}

// Migrate applies Schema. It is idempotent and meant for development and
// tests; production schemas are managed outside this service.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply kyc schema: %w", err)
	}
	return nil
}
