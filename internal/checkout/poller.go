package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/packedgo/checkout-sync/internal/domain"
	"github.com/packedgo/checkout-sync/internal/logger"
	"github.com/packedgo/checkout-sync/internal/metrics"
)

// pollSink receives the classified results of a Poller.
type pollSink interface {
	onSnapshot(snap *domain.CheckoutSession)
	onCompleted(snap *domain.CheckoutSession)
	onNoCart()
	onUnauthorized(err error)
}

// FetchFunc loads the authoritative session state.
type FetchFunc func(ctx context.Context) (*domain.CheckoutSession, error)

// Poller periodically fetches the authoritative session state.
//
// Terminal results (no cart, completed, unauthorized) stop the loop.
// Any other fetch error is retried on the next tick. Transient failures are
// logged as warnings, anything else as an error.
type Poller struct {
	fetch    FetchFunc
	interval time.Duration
	sink     pollSink
	log      *logger.Logger
	metrics  *metrics.CheckoutMetrics

	nudge    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newPoller(fetch FetchFunc, interval time.Duration, sink pollSink, log *logger.Logger, m *metrics.CheckoutMetrics) *Poller {
	return &Poller{
		fetch:    fetch,
		interval: interval,
		sink:     sink,
		log:      log,
		metrics:  m,
		nudge:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start runs the loop until Stop is called, ctx is done or a terminal result arrives.
func (p *Poller) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
		case <-p.nudge:
		}
		if p.stopped() {
			return
		}
		if !p.poll(ctx) {
			return
		}
	}
}

// poll runs one fetch and reports whether the loop should continue.
func (p *Poller) poll(ctx context.Context) bool {
	snap, err := p.fetch(ctx)
	if p.stopped() || ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, domain.ErrNoCart):
		p.metrics.ObservePoll(metrics.OutcomeNoCart)
		p.sink.onNoCart()
		return false
	case errors.Is(err, domain.ErrUnauthorized):
		p.metrics.ObservePoll(metrics.OutcomeUnauthorized)
		p.sink.onUnauthorized(err)
		return false
	case domain.IsTransient(err):
		p.metrics.ObservePoll(metrics.OutcomeError)
		p.log.Warn(ctx, "session state poll failed, retrying next tick: "+err.Error())
		return true
	case err != nil:
		p.metrics.ObservePoll(metrics.OutcomeError)
		p.log.Error(ctx, "unexpected session state poll failure, retrying next tick", err)
		return true
	case snap == nil || snap.SessionID == "":
		p.metrics.ObservePoll(metrics.OutcomeNoCart)
		p.sink.onNoCart()
		return false
	case snap.Completed():
		p.metrics.ObservePoll(metrics.OutcomeCompleted)
		p.sink.onCompleted(snap)
		return false
	default:
		p.metrics.ObservePoll(metrics.OutcomeOK)
		p.sink.onSnapshot(snap)
		return true
	}
}

// Nudge asks for an extra poll as soon as possible. Extra nudges while one is
// pending are dropped.
func (p *Poller) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// Stop ends the loop. Safe to call any number of times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Poller) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}
