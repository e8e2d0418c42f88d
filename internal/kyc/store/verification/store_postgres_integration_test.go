//go:build integration

package verification_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"ampel/internal/kyc/models"
	"ampel/internal/kyc/store"
	"ampel/internal/kyc/store/verification"
	id "ampel/pkg/domain"
	"ampel/pkg/platform/sentinel"
	"ampel/pkg/testutil/containers"
)

type PostgresVerificationStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *verification.PostgresStore
}

func TestPostgresVerificationStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresVerificationStoreSuite))
}

func (s *PostgresVerificationStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = verification.NewPostgres(s.postgres.DB)
}

func (s *PostgresVerificationStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), store.Tables...))
}

func (s *PostgresVerificationStoreSuite) TestUpsertOverwritesStatus() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	now := time.Now().UTC().Truncate(time.Microsecond)
	account := id.AccountID("act_pg")

	s.Require().NoError(s.store.Upsert(ctx, &models.Verification{
		UserID: userID, InquiryID: "inq_pg", Status: models.VerificationPending, CreatedAt: now, UpdatedAt: now,
	}))
	s.Require().NoError(s.store.Upsert(ctx, &models.Verification{
		UserID: userID, InquiryID: "inq_pg", AccountID: &account, Status: models.VerificationApproved,
		Metadata: map[string]any{"vendor_status": "approved"}, CreatedAt: now.Add(time.Second), UpdatedAt: now.Add(time.Second),
	}))

	got, err := s.store.FindByInquiryID(ctx, "inq_pg")
	s.Require().NoError(err)
	s.Equal(models.VerificationApproved, got.Status)
	s.True(now.Equal(got.CreatedAt))
	s.Require().NotNil(got.AccountID)
	s.Equal(account, *got.AccountID)
	s.Equal("approved", got.Metadata["vendor_status"])

	latest, err := s.store.FindLatestByUser(ctx, userID)
	s.Require().NoError(err)
	s.Equal(id.InquiryID("inq_pg"), latest.InquiryID)

	_, err = s.store.FindByInquiryID(ctx, "inq_none")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
