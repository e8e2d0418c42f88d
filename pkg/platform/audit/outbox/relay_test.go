package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	audit "ampel/pkg/platform/audit"
	"ampel/pkg/platform/audit/outbox"
)

type memorySource struct {
	mu        sync.Mutex
	entries   []outbox.Entry
	published map[uuid.UUID]time.Time
}

func (m *memorySource) Pending(_ context.Context, limit int) ([]outbox.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []outbox.Entry
	for _, e := range m.entries {
		if _, done := m.published[e.ID]; done {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memorySource) MarkPublished(_ context.Context, entryID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[entryID] = at
	return nil
}

func (m *memorySource) publishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

type recordingSink struct {
	mu     sync.Mutex
	ids    []uuid.UUID
	failOn uuid.UUID
}

var errBrokerDown = errors.New("broker down")

func (r *recordingSink) AppendWithID(_ context.Context, eventID uuid.UUID, _ audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if eventID == r.failOn {
		return errBrokerDown
	}
	r.ids = append(r.ids, eventID)
	return nil
}

func (r *recordingSink) sent() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID{}, r.ids...)
}

type RelaySuite struct {
	suite.Suite
	ctx    context.Context
	source *memorySource
	sink   *recordingSink
	ids    []uuid.UUID
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.ctx = context.Background()
	s.source = &memorySource{published: map[uuid.UUID]time.Time{}}
	s.sink = &recordingSink{}
	s.ids = nil
	for _, action := range []audit.AuditEvent{
		audit.EventKYCSessionStarted,
		audit.EventKYCInquiryCreated,
		audit.EventKYCVerificationApproved,
	} {
		entryID := uuid.New()
		s.ids = append(s.ids, entryID)
		s.source.entries = append(s.source.entries, outbox.Entry{
			ID:    entryID,
			Event: audit.Event{Action: string(action), Timestamp: time.Now()},
		})
	}
}

func (s *RelaySuite) TestRunOnceForwardsInOrder() {
	relay := outbox.NewRelay(s.source, s.sink)

	n, err := relay.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, n)
	s.Equal(s.ids, s.sink.sent())
	s.Equal(3, s.source.publishedCount())

	n, err = relay.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *RelaySuite) TestSinkFailureHoldsLaterEntries() {
	s.sink.failOn = s.ids[1]
	relay := outbox.NewRelay(s.source, s.sink)

	n, err := relay.RunOnce(s.ctx)
	s.Require().ErrorIs(err, errBrokerDown)
	s.Equal(1, n)
	s.Equal(s.ids[:1], s.sink.sent())

	s.sink.failOn = uuid.Nil
	n, err = relay.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(s.ids, s.sink.sent())
}

func (s *RelaySuite) TestBatchLimit() {
	relay := outbox.NewRelay(s.source, s.sink, outbox.WithBatch(2))

	n, err := relay.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(s.ids[:2], s.sink.sent())
}

func (s *RelaySuite) TestRunDrainsUntilCancelled() {
	ctx, cancel := context.WithCancel(s.ctx)
	relay := outbox.NewRelay(s.source, s.sink,
		outbox.WithBatch(1),
		outbox.WithInterval(10*time.Millisecond),
	)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	s.Eventually(func() bool { return s.source.publishedCount() == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("relay did not stop after cancel")
	}
}
