package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"ampel/internal/kyc/models"
	id "ampel/pkg/domain"
	"ampel/pkg/platform/sentinel"
)

type InMemorySessionStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
}

func TestInMemorySessionStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemorySessionStoreSuite))
}

func (s *InMemorySessionStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemorySessionStoreSuite) newSession(userID id.UserID, token string, created time.Time) *models.Session {
	sess := models.NewSession(userID, models.OriginDesktopQR, token, created, 30*time.Minute)
	s.Require().NoError(s.store.Create(context.Background(), sess))
	return sess
}

func (s *InMemorySessionStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	s.newSession(userID, "tok-1", s.now)

	s.Run("duplicate token conflicts", func() {
		err := s.store.Create(ctx, models.NewSession(userID, models.OriginDesktopQR, "tok-1", s.now, time.Minute))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("missing token is not found", func() {
		_, err := s.store.FindByToken(ctx, "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned sessions are copies", func() {
		got, err := s.store.FindByToken(ctx, "tok-1")
		s.Require().NoError(err)
		got.Status = models.SessionCompleted

		again, err := s.store.FindByToken(ctx, "tok-1")
		s.Require().NoError(err)
		s.Equal(models.SessionPending, again.Status)
	})
}

func (s *InMemorySessionStoreSuite) TestFindLatestByUser() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	s.newSession(userID, "old", s.now.Add(-time.Hour))
	s.newSession(userID, "new", s.now)
	s.newSession(id.UserID(uuid.New()), "other", s.now.Add(time.Hour))

	got, err := s.store.FindLatestByUser(ctx, userID)
	s.Require().NoError(err)
	s.Equal("new", got.Token)
}

func (s *InMemorySessionStoreSuite) TestAttachInquiry() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	s.newSession(userID, "tok", s.now)

	s.Require().NoError(s.store.AttachInquiry(ctx, "tok", "inq_1", s.now.Add(time.Minute)))
	got, err := s.store.FindByInquiryID(ctx, "inq_1")
	s.Require().NoError(err)
	s.Equal(models.SessionInProgress, got.Status)
	s.Equal("tok", got.Token)

	s.Run("closed session rejects attach", func() {
		sess, _ := s.store.FindByToken(ctx, "tok")
		applied, err := s.store.UpdateStatus(ctx, models.NewStatusChange(sess, models.SessionFailed, "failed", s.now))
		s.Require().NoError(err)
		s.Require().True(applied)

		s.ErrorIs(s.store.AttachInquiry(ctx, "tok", "inq_2", s.now), sentinel.ErrInvalidState)
	})
}

func (s *InMemorySessionStoreSuite) TestUpdateStatusIsMonotonic() {
	ctx := context.Background()
	sess := s.newSession(id.UserID(uuid.New()), "tok", s.now)

	applied, err := s.store.UpdateStatus(ctx, models.NewStatusChange(sess, models.SessionCompleted, "completed", s.now))
	s.Require().NoError(err)
	s.True(applied)

	for _, next := range []models.SessionStatus{models.SessionFailed, models.SessionInProgress, models.SessionExpired} {
		applied, err := s.store.UpdateStatus(ctx, models.NewStatusChange(sess, next, "replay", s.now))
		s.Require().NoError(err)
		s.False(applied, next)
	}

	got, _ := s.store.FindByToken(ctx, "tok")
	s.Equal(models.SessionCompleted, got.Status)
	s.Equal("completed", *got.CallbackStatus)
	s.NotNil(got.CompletedAt)

	_, err = s.store.UpdateStatus(ctx, models.StatusChange{Token: "missing", To: models.SessionFailed})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemorySessionStoreSuite) TestInvalidateOpenForUser() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	s.newSession(userID, "a", s.now.Add(-2*time.Minute))
	done := s.newSession(userID, "b", s.now.Add(-time.Minute))
	s.newSession(userID, "keep", s.now)
	_, err := s.store.UpdateStatus(ctx, models.NewStatusChange(done, models.SessionCompleted, "", s.now))
	s.Require().NoError(err)

	n, err := s.store.InvalidateOpenForUser(ctx, userID, "keep", s.now)
	s.Require().NoError(err)
	s.Equal(1, n)

	a, _ := s.store.FindByToken(ctx, "a")
	s.Equal(models.SessionExpired, a.Status)
	s.Equal(models.CallbackSuperseded, *a.CallbackStatus)
	b, _ := s.store.FindByToken(ctx, "b")
	s.Equal(models.SessionCompleted, b.Status)
	keep, _ := s.store.FindByToken(ctx, "keep")
	s.Equal(models.SessionPending, keep.Status)
}
