package link

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ampel/internal/kyc/models"
	"ampel/internal/platform/postgres"
	id "ampel/pkg/domain"
	"ampel/pkg/platform/sentinel"
)

// accountConstraint is the unique constraint on kyc_identity_links.account_id.
const accountConstraint = "kyc_identity_links_account_key"

// PostgresStore persists identity links. The table's unique constraints
// are the authoritative one-to-one guard; the linker's reads are a fast path.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByAccountID(ctx context.Context, accountID id.AccountID) (*models.IdentityLink, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, account_id, created_at, updated_at
		FROM kyc_identity_links WHERE account_id = $1
	`, accountID.String())
	return scanLink(row)
}

func (s *PostgresStore) FindByUserID(ctx context.Context, userID id.UserID) (*models.IdentityLink, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, account_id, created_at, updated_at
		FROM kyc_identity_links WHERE user_id = $1
	`, uuid.UUID(userID))
	return scanLink(row)
}

// Upsert inserts the link keyed on user. Re-linking the same pair only
// touches updated_at; a user row holding another account is left alone
// and reported as a conflict.
func (s *PostgresStore) Upsert(ctx context.Context, link *models.IdentityLink) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kyc_identity_links (user_id, account_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		WHERE kyc_identity_links.account_id = EXCLUDED.account_id
	`, uuid.UUID(link.UserID), link.AccountID.String(), link.CreatedAt, link.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err, accountConstraint) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("upsert identity link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert identity link: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Repoint(ctx context.Context, userID id.UserID, from, to id.AccountID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE kyc_identity_links
		SET account_id = $1, updated_at = $2
		WHERE user_id = $3 AND account_id = $4
	`, to.String(), at, uuid.UUID(userID), from.String())
	if err != nil {
		if postgres.IsUniqueViolation(err, accountConstraint) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("repoint identity link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repoint identity link: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanLink(row *sql.Row) (*models.IdentityLink, error) {
	var (
		link      models.IdentityLink
		userID    uuid.UUID
		accountID string
	)
	if err := row.Scan(&userID, &accountID, &link.CreatedAt, &link.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity link: %w", err)
	}
	link.UserID = id.UserID(userID)
	link.AccountID = id.AccountID(accountID)
	return &link, nil
}
