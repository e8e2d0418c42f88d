package verification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ampel/internal/kyc/models"
	id "ampel/pkg/domain"
	"ampel/pkg/platform/sentinel"
)

const verificationColumns = `inquiry_id, user_id, account_id, status, metadata, created_at, updated_at`

// PostgresStore persists verification records in kyc_verifications,
// one row per inquiry id.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, v *models.Verification) error {
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("encode verification metadata: %w", err)
	}
	if v.Metadata == nil {
		metadata = []byte("{}")
	}
	var accountID sql.NullString
	if v.AccountID != nil {
		accountID = sql.NullString{String: v.AccountID.String(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kyc_verifications (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (inquiry_id) DO UPDATE SET
			account_id = COALESCE(EXCLUDED.account_id, kyc_verifications.account_id),
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, v.InquiryID.String(), uuid.UUID(v.UserID), accountID, string(v.Status), string(metadata), v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert verification: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByInquiryID(ctx context.Context, inquiryID id.InquiryID) (*models.Verification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM kyc_verifications WHERE inquiry_id = $1`, inquiryID.String())
	return scanVerification(row)
}

func (s *PostgresStore) FindLatestByUser(ctx context.Context, userID id.UserID) (*models.Verification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+verificationColumns+` FROM kyc_verifications
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, uuid.UUID(userID))
	return scanVerification(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerification(row rowScanner) (*models.Verification, error) {
	var (
		v         models.Verification
		inquiryID string
		userID    uuid.UUID
		accountID sql.NullString
		status    string
		metadata  []byte
	)
	err := row.Scan(&inquiryID, &userID, &accountID, &status, &metadata, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan verification: %w", err)
	}
	v.InquiryID = id.InquiryID(inquiryID)
	v.UserID = id.UserID(userID)
	v.Status = models.VerificationStatus(status)
	if accountID.Valid {
		a := id.AccountID(accountID.String)
		v.AccountID = &a
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &v.Metadata); err != nil {
			return nil, fmt.Errorf("decode verification metadata: %w", err)
		}
	}
	return &v, nil
}
