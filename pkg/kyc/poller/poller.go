// Package poller watches a KYC session from the desktop browser side until
// it reaches a terminal status.
//
// Polls run every 2s for the first 15 polls, every 4s up to poll 30 and
// every 8s after that. Exactly one timer is outstanding at a time; the next
// poll is scheduled only after the previous response is handled.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ampel/pkg/platform/clock"
)

// Phase is the polling tier.
type Phase string

const (
	PhaseFast   Phase = "fast"
	PhaseMedium Phase = "medium"
	PhaseSlow   Phase = "slow"
)

const (
	FastInterval   = 2 * time.Second
	MediumInterval = 4 * time.Second
	SlowInterval   = 8 * time.Second

	fastPolls   = 15
	mediumPolls = 30
)

// PhaseFor returns the tier of the nth poll, counting from 1.
func PhaseFor(poll int) Phase {
	switch {
	case poll <= fastPolls:
		return PhaseFast
	case poll <= mediumPolls:
		return PhaseMedium
	default:
		return PhaseSlow
	}
}

// Interval is the delay before a poll in phase.
func (p Phase) Interval() time.Duration {
	switch p {
	case PhaseMedium:
		return MediumInterval
	case PhaseSlow:
		return SlowInterval
	default:
		return FastInterval
	}
}

var errEmptyStatus = errors.New("empty status response")

// Fetcher fetches the current status of one session.
type Fetcher interface {
	FetchStatus(ctx context.Context, sessionToken string) (*Status, error)
}

// Poller drives a Fetcher on the tiered schedule.
type Poller struct {
	fetcher  Fetcher
	token    string
	onStatus func(Status)
	onError  func(error)
	clock    clock.Clock
	logger   *slog.Logger

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	phase      Phase
	pollCount  int
	timer      clock.Timer
	running    bool
	generation int
}

type Option func(*Poller)

func WithClock(c clock.Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// OnError receives fetch failures. They never reset the poll count.
func OnError(fn func(error)) Option {
	return func(p *Poller) {
		p.onError = fn
	}
}

// New builds a Poller for sessionToken. onStatus receives every
// successful response, including the terminal one.
func New(fetcher Fetcher, sessionToken string, onStatus func(Status), opts ...Option) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		token:    sessionToken,
		onStatus: onStatus,
		clock:    clock.Real(),
		logger:   slog.Default(),
		phase:    PhaseFast,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start schedules the first poll. It reports false, and schedules nothing,
// when there is no session token.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" || p.running {
		return p.running
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.pollCount = 0
	p.phase = PhaseFor(1)
	p.timer = p.clock.AfterFunc(p.phase.Interval(), p.tick)
	return true
}

// Stop cancels the pending timer and any in-flight fetch. Responses that
// arrive afterwards are dropped.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
}

func (p *Poller) haltLocked() {
	if !p.running {
		return
	}
	p.running = false
	p.generation++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.cancel()
}

// Running reports whether further polls are scheduled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// PollCount is the number of polls issued since Start.
func (p *Poller) PollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pollCount
}

// Phase is the tier of the next poll.
func (p *Poller) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func (p *Poller) tick() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.pollCount++
	poll := p.pollCount
	gen := p.generation
	ctx := p.ctx
	p.mu.Unlock()

	status, err := p.fetcher.FetchStatus(ctx, p.token)
	if err == nil && status == nil {
		err = errEmptyStatus
	}

	p.mu.Lock()
	if !p.running || gen != p.generation {
		p.mu.Unlock()
		p.logger.Debug("dropping status response after stop")
		return
	}
	if err == nil && status.IsTerminal() {
		p.haltLocked()
	} else {
		p.phase = PhaseFor(p.pollCount + 1)
		p.timer = p.clock.AfterFunc(p.phase.Interval(), p.tick)
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("kyc status poll failed", "error", err, "poll", poll)
		if p.onError != nil {
			p.onError(err)
		}
		return
	}
	if p.onStatus != nil {
		p.onStatus(*status)
	}
}
