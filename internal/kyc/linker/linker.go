// Package linker enforces that one verified vendor account belongs to
// exactly one user.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ampel/internal/kyc/models"
	id "ampel/pkg/domain"
	dErrors "ampel/pkg/domain-errors"
	"ampel/pkg/platform/sentinel"
	"ampel/pkg/requestcontext"
)

// Store persists identity links. The backing table carries unique
// constraints on both user id and account id; Upsert and Repoint return
// sentinel.ErrConflict when one of them fires.
type Store interface {
	FindByAccountID(ctx context.Context, accountID id.AccountID) (*models.IdentityLink, error)
	FindByUserID(ctx context.Context, userID id.UserID) (*models.IdentityLink, error)
	Upsert(ctx context.Context, link *models.IdentityLink) error
	Repoint(ctx context.Context, userID id.UserID, from, to id.AccountID, at time.Time) error
}

// DuplicateAccountError reports a link attempt that would break the
// one-to-one mapping. Both colliding pairs are carried for support staff.
type DuplicateAccountError struct {
	AccountID         id.AccountID
	RequestedUserID   id.UserID
	ExistingUserID    id.UserID
	ExistingAccountID id.AccountID
}

func (e *DuplicateAccountError) Error() string {
	if e.ExistingAccountID != "" {
		return fmt.Sprintf("user %s already linked to account %s, cannot link %s",
			e.RequestedUserID, e.ExistingAccountID, e.AccountID)
	}
	return fmt.Sprintf("account %s already linked to user %s, cannot link user %s",
		e.AccountID, e.ExistingUserID, e.RequestedUserID)
}

// IsDuplicateAccount reports whether err is a DuplicateAccountError.
func IsDuplicateAccount(err error) bool {
	var dup *DuplicateAccountError
	return errors.As(err, &dup)
}

// Linker links vendor accounts to users.
type Linker struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{store: store, logger: logger}
}

// IsUserLinked reports whether userID already holds a verified identity.
func (l *Linker) IsUserLinked(ctx context.Context, userID id.UserID) (bool, error) {
	_, err := l.store.FindByUserID(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user link")
	}
	return true, nil
}

// IsAccountClaimed reports whether accountID is linked to a user other than userID.
func (l *Linker) IsAccountClaimed(ctx context.Context, accountID id.AccountID, userID id.UserID) (bool, *models.IdentityLink, error) {
	link, err := l.store.FindByAccountID(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up account link")
	}
	return link.UserID != userID, link, nil
}

// UserHasDifferentAccount reports whether userID is linked to an account other than accountID.
func (l *Linker) UserHasDifferentAccount(ctx context.Context, userID id.UserID, accountID id.AccountID) (bool, *models.IdentityLink, error) {
	link, err := l.store.FindByUserID(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user link")
	}
	return link.AccountID != accountID, link, nil
}

// LinkAccountToUser binds accountID to userID. Re-linking the same pair
// succeeds without change. Both sides are checked before any write, and a
// storage uniqueness violation is reported the same way as a failed check.
func (l *Linker) LinkAccountToUser(ctx context.Context, accountID id.AccountID, userID id.UserID) error {
	claimed, byAccount, err := l.IsAccountClaimed(ctx, accountID, userID)
	if err != nil {
		return err
	}
	different, byUser, err := l.UserHasDifferentAccount(ctx, userID, accountID)
	if err != nil {
		return err
	}

	if claimed {
		return l.duplicate(ctx, &DuplicateAccountError{
			AccountID:       accountID,
			RequestedUserID: userID,
			ExistingUserID:  byAccount.UserID,
		})
	}
	if different {
		return l.duplicate(ctx, &DuplicateAccountError{
			AccountID:         accountID,
			RequestedUserID:   userID,
			ExistingUserID:    userID,
			ExistingAccountID: byUser.AccountID,
		})
	}
	if byUser != nil {
		return nil
	}

	now := requestcontext.Now(ctx)
	link := &models.IdentityLink{UserID: userID, AccountID: accountID, CreatedAt: now, UpdatedAt: now}
	if err := l.store.Upsert(ctx, link); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return l.duplicate(ctx, l.describeConflict(ctx, accountID, userID))
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to link account")
	}
	l.logger.InfoContext(ctx, "identity linked",
		"user_id", userID.String(),
		"account_id", accountID.String(),
	)
	return nil
}

// HandleAccountConsolidation moves the link held by secondaryID, if any,
// to primaryID. It mutates the existing row and never creates one.
func (l *Linker) HandleAccountConsolidation(ctx context.Context, primaryID, secondaryID id.AccountID) (bool, error) {
	if primaryID == secondaryID {
		return false, nil
	}
	link, err := l.store.FindByAccountID(ctx, secondaryID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up account link")
	}

	claimed, holder, err := l.IsAccountClaimed(ctx, primaryID, link.UserID)
	if err != nil {
		return false, err
	}
	if claimed {
		return false, l.duplicate(ctx, &DuplicateAccountError{
			AccountID:         primaryID,
			RequestedUserID:   link.UserID,
			ExistingUserID:    holder.UserID,
			ExistingAccountID: secondaryID,
		})
	}

	if err := l.store.Repoint(ctx, link.UserID, secondaryID, primaryID, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return false, l.duplicate(ctx, l.describeConflict(ctx, primaryID, link.UserID))
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to repoint account link")
	}
	l.logger.InfoContext(ctx, "identity link consolidated",
		"user_id", link.UserID.String(),
		"from_account_id", secondaryID.String(),
		"to_account_id", primaryID.String(),
	)
	return true, nil
}

// describeConflict re-reads after a storage-level violation to name the holder.
func (l *Linker) describeConflict(ctx context.Context, accountID id.AccountID, userID id.UserID) *DuplicateAccountError {
	dup := &DuplicateAccountError{AccountID: accountID, RequestedUserID: userID}
	if link, err := l.store.FindByAccountID(ctx, accountID); err == nil {
		dup.ExistingUserID = link.UserID
	} else if link, err := l.store.FindByUserID(ctx, userID); err == nil {
		dup.ExistingUserID = userID
		dup.ExistingAccountID = link.AccountID
	}
	return dup
}

func (l *Linker) duplicate(ctx context.Context, dup *DuplicateAccountError) error {
	l.logger.ErrorContext(ctx, "duplicate identity link rejected",
		"account_id", dup.AccountID.String(),
		"requested_user_id", dup.RequestedUserID.String(),
		"existing_user_id", dup.ExistingUserID.String(),
		"existing_account_id", dup.ExistingAccountID.String(),
	)
	return dup
}
