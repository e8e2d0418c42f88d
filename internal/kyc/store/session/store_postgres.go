package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"ampel/internal/kyc/models"
	"ampel/internal/platform/postgres"
	id "ampel/pkg/domain"
	"ampel/pkg/platform/sentinel"
)

const sessionColumns = `id, token, user_id, status, inquiry_id, origin, callback_status,
	created_at, expires_at, completed_at, updated_at`

// PostgresStore persists sessions in kyc_sessions. Status writes are
// conditional updates, so concurrent callback and webhook writers cannot
// move a row out of a closed state.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kyc_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, session.ID, session.Token, uuid.UUID(session.UserID), string(session.Status),
		nullableInquiry(session.InquiryID), string(session.Origin), session.CallbackStatus,
		session.CreatedAt, session.ExpiresAt, session.CompletedAt, session.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert kyc session: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM kyc_sessions WHERE token = $1`, token)
	return scanSession(row)
}

func (s *PostgresStore) FindLatestByUser(ctx context.Context, userID id.UserID) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM kyc_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, uuid.UUID(userID))
	return scanSession(row)
}

func (s *PostgresStore) FindByInquiryID(ctx context.Context, inquiryID id.InquiryID) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM kyc_sessions
		WHERE inquiry_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, inquiryID.String())
	return scanSession(row)
}

func (s *PostgresStore) AttachInquiry(ctx context.Context, token string, inquiryID id.InquiryID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE kyc_sessions
		SET inquiry_id = $1, status = $2, updated_at = $3
		WHERE token = $4 AND status = ANY($5)
	`, inquiryID.String(), string(models.SessionInProgress), at, token, pq.Array(statusStrings(models.OpenStatuses())))
	if err != nil {
		return fmt.Errorf("attach inquiry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach inquiry: %w", err)
	}
	if n == 0 {
		return s.missOrInvalid(ctx, token)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, change models.StatusChange) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE kyc_sessions
		SET status = $1,
		    callback_status = COALESCE($2, callback_status),
		    completed_at = CASE WHEN $3 THEN $4 ELSE completed_at END,
		    updated_at = $4
		WHERE token = $5 AND status = ANY($6)
	`, string(change.To), change.CallbackStatus, change.To.IsTerminal(), change.At,
		change.Token, pq.Array(statusStrings(change.From)))
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	if n == 0 {
		if _, err := s.FindByToken(ctx, change.Token); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) InvalidateOpenForUser(ctx context.Context, userID id.UserID, keepToken string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE kyc_sessions
		SET status = $1, callback_status = $2, updated_at = $3
		WHERE user_id = $4 AND token <> $5 AND status = ANY($6)
	`, string(models.SessionExpired), models.CallbackSuperseded, at, uuid.UUID(userID), keepToken,
		pq.Array(statusStrings(models.OpenStatuses())))
	if err != nil {
		return 0, fmt.Errorf("invalidate open sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("invalidate open sessions: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) missOrInvalid(ctx context.Context, token string) error {
	if _, err := s.FindByToken(ctx, token); err != nil {
		return err
	}
	return sentinel.ErrInvalidState
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess           models.Session
		userID         uuid.UUID
		status, origin string
		inquiryID      sql.NullString
		callbackStatus sql.NullString
		completedAt    sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.Token, &userID, &status, &inquiryID, &origin, &callbackStatus,
		&sess.CreatedAt, &sess.ExpiresAt, &completedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan kyc session: %w", err)
	}
	sess.UserID = id.UserID(userID)
	sess.Status = models.SessionStatus(status)
	sess.Origin = models.Origin(origin)
	if inquiryID.Valid {
		v := id.InquiryID(inquiryID.String)
		sess.InquiryID = &v
	}
	if callbackStatus.Valid {
		v := callbackStatus.String
		sess.CallbackStatus = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		sess.CompletedAt = &v
	}
	return &sess, nil
}

func nullableInquiry(v *id.InquiryID) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func statusStrings(statuses []models.SessionStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
