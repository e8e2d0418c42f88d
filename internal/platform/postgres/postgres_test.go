package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: UniqueViolation, ConstraintName: "kyc_identity_links_account_id_key"}

	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", dup), ""))
	assert.True(t, IsUniqueViolation(dup, "kyc_identity_links_account_id_key"))
	assert.False(t, IsUniqueViolation(dup, "kyc_identity_links_pkey"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(errors.New("plain"), ""))
}
