package checkout

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/packedgo/checkout-sync/internal/domain"
	"github.com/packedgo/checkout-sync/internal/logger"
	"github.com/packedgo/checkout-sync/internal/metrics"
)

// Phase is the lifecycle state of a checkout view.
type Phase string

const (
	PhaseLoading   Phase = "LOADING"
	PhaseNoCart    Phase = "NO_CART"
	PhaseActive    Phase = "ACTIVE"
	PhaseCompleted Phase = "COMPLETED"
	PhaseError     Phase = "ERROR"
)

// Terminal reports whether no further transition can happen without a new mount.
func (p Phase) Terminal() bool {
	return p == PhaseNoCart || p == PhaseCompleted || p == PhaseError
}

const (
	msgNoCart       = "Your cart is empty. Add tickets to start a checkout."
	msgExpired      = "The payment session has expired. Please try again."
	msgReauth       = "Your session has expired. Please log in again."
	msgLoadFailed   = "We could not load your checkout. Please try again."
	msgAbandonError = "We could not cancel your checkout. Please try again."
)

// Redirect tells the browser where to go next. A non-zero NotBefore asks the
// browser to wait until then, so the outcome banner stays readable.
type Redirect struct {
	Path      string     `json:"path"`
	Query     url.Values `json:"query,omitempty"`
	NotBefore time.Time  `json:"notBefore,omitzero"`
}

// String renders the redirect as a relative URL.
func (r Redirect) String() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

// Banner is a transient return-flow message.
type Banner struct {
	Class     ReturnClass `json:"class"`
	Message   string      `json:"message"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// View is an immutable snapshot of a checkout view.
type View struct {
	ID                 string
	Phase              Phase
	Session            *domain.CheckoutSession
	Remaining          int64
	RemainingLabel     string
	Expired            bool
	GeneratingPayments bool
	Banner             *Banner
	Redirect           *Redirect
	Error              string
}

// ReturnResult is what HandleReturn decided about a gateway redirect.
type ReturnResult struct {
	Outcome   ReturnOutcome
	Query     url.Values
	Verified  bool
	Completed bool
}

// Deps are the collaborators of a Controller. Backend and Gateway are required.
type Deps struct {
	Backend domain.SessionBackend
	Gateway domain.PaymentGateway
	Cache   domain.PreferenceCache
	Cart    domain.CartRefresher
	Intents domain.IntentVerifier
	Log     *logger.Logger
	Metrics *metrics.CheckoutMetrics
}

// Options tunes the timings and redirect targets of a Controller.
type Options struct {
	PollInterval time.Duration
	TickInterval time.Duration
	ReturnDelay  time.Duration

	CheckoutPath  string
	SuccessPath   string
	DashboardPath string
	LoginPath     string

	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.ReturnDelay <= 0 {
		o.ReturnDelay = 2 * time.Second
	}
	if o.CheckoutPath == "" {
		o.CheckoutPath = "/customer/checkout"
	}
	if o.SuccessPath == "" {
		o.SuccessPath = "/customer/orders/success"
	}
	if o.DashboardPath == "" {
		o.DashboardPath = "/customer/dashboard"
	}
	if o.LoginPath == "" {
		o.LoginPath = "/customer/login"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Controller owns the clock, the preference generator and the poller of one
// checkout view, and decides its lifecycle transitions:
//
//	LOADING -> NO_CART | ACTIVE | COMPLETED | ERROR
//	ACTIVE  -> COMPLETED | ERROR | NO_CART
//
// Unmount releases every goroutine and timer the view started.
type Controller struct {
	id        string
	deps      Deps
	opts      Options
	log       *logger.Logger
	generator *PreferenceGenerator

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	workCtx    context.Context
	workCancel context.CancelFunc
	phase      Phase
	session    *domain.CheckoutSession
	clock      *Clock
	poller     *Poller
	banner     *Banner
	redirect   *Redirect
	errMsg     string
	expired    bool
	generating bool
	completed  bool
	closed     bool
	delivered  bool
	timers     []*time.Timer
}

// NewController builds an unmounted controller.
func NewController(deps Deps, opts Options) *Controller {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &Controller{
		id:        uuid.NewString(),
		deps:      deps,
		opts:      opts.withDefaults(),
		log:       deps.Log,
		generator: NewPreferenceGenerator(deps.Gateway, deps.Cache, deps.Log, deps.Metrics),
		phase:     PhaseLoading,
	}
}

// ID identifies the view.
func (c *Controller) ID() string {
	return c.id
}

// Mount loads the customer's checkout state and starts the reconciliation loop.
// The values of ctx (bearer token, log fields) are kept for the lifetime of the
// view; its cancellation is not. Mounting twice returns the current view.
func (c *Controller) Mount(ctx context.Context) View {
	c.mu.Lock()
	if c.ctx != nil || c.closed {
		v := c.viewLocked()
		c.mu.Unlock()
		return v
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := c.ctx
	c.setPhaseLocked(PhaseLoading)
	c.mu.Unlock()

	c.deps.Metrics.ViewMounted()
	snap, err := c.deps.Backend.CurrentCheckoutState(runCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.viewLocked()
	}

	switch {
	case errors.Is(err, domain.ErrNoCart):
		c.noCartLocked()
	case errors.Is(err, domain.ErrUnauthorized):
		c.unauthorizedLocked()
	case err != nil:
		c.log.Error(runCtx, "failed to load checkout state", err)
		c.errMsg = msgLoadFailed
		c.setPhaseLocked(PhaseError)
	case snap == nil || snap.SessionID == "":
		c.noCartLocked()
	case snap.Completed():
		c.session = snap.Clone()
		c.completeLocked(0)
	case snap.IsExpired:
		c.session = snap.Clone()
		c.expireLocked()
	default:
		c.activateLocked(snap)
	}
	return c.viewLocked()
}

// View returns the current snapshot.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// SessionID returns the id of the session the view mirrors, if any.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.SessionID
}

// Stale reports whether the view is terminal and the customer has already seen
// it, including the moment its redirect was due.
func (c *Controller) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || (c.phase.Terminal() && c.delivered)
}

// Nudge asks the poller for an immediate refresh.
func (c *Controller) Nudge() {
	c.mu.Lock()
	p := c.poller
	active := c.phase == PhaseActive
	c.mu.Unlock()
	if active && p != nil {
		p.Nudge()
	}
}

// HandleReturn interprets a redirect back from the payment gateway.
//
// A success is never trusted as is: the session status is fetched again and
// only a completed session leads to the success view, after ReturnDelay.
// Otherwise the banner clears after its timeout and polling carries on, with an
// extra poll once the backend had ReturnDelay to process the gateway webhook.
func (c *Controller) HandleReturn(ctx context.Context, p ReturnParams) ReturnResult {
	outcome := InterpretReturn(p)
	if p.Status == "" && p.PaymentStatus == "" && p.PaymentIntent != "" && c.deps.Intents != nil {
		status, err := c.deps.Intents.IntentStatus(ctx, p.PaymentIntent)
		if err != nil {
			c.log.Warn(ctx, "payment intent lookup failed: "+err.Error())
		} else {
			outcome = OutcomeFor(ClassifyIntentStatus(status))
		}
	}

	c.mu.Lock()
	sessionID := p.SessionID
	if sessionID == "" && c.session != nil {
		sessionID = c.session.SessionID
	}
	if !c.closed {
		banner := &Banner{
			Class:     outcome.Class,
			Message:   outcome.Message,
			ExpiresAt: c.opts.Now().Add(outcome.Dismiss),
		}
		c.banner = banner
		c.afterLocked(outcome.Dismiss, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.banner == banner {
				c.banner = nil
			}
		})
	}
	closed := c.closed
	c.mu.Unlock()

	result := ReturnResult{Outcome: outcome, Query: CleanReturnQuery(sessionID)}
	if closed {
		return result
	}
	if outcome.Class != ReturnSuccess || sessionID == "" {
		c.mu.Lock()
		c.nudgeAfterLocked(c.opts.ReturnDelay)
		c.mu.Unlock()
		return result
	}

	snap, err := c.deps.Backend.SessionStatus(ctx, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return result
	}
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		c.unauthorizedLocked()
	case err != nil:
		c.log.Warn(ctx, "session status verification after return failed: "+err.Error())
		c.nudgeAfterLocked(c.opts.ReturnDelay)
	case snap.Completed():
		result.Verified = true
		result.Completed = true
		c.session = MergeSession(c.session, snap)
		c.completeLocked(c.opts.ReturnDelay)
	default:
		result.Verified = true
		if c.phase == PhaseActive && c.session != nil && c.session.SessionID == snap.SessionID {
			c.session = MergeSession(c.session, snap)
		}
		c.nudgeAfterLocked(c.opts.ReturnDelay)
	}
	return result
}

// Abandon releases the session on the backend, then stops the view and points
// it at the dashboard whatever the outcome. A failed abandon is reported on the
// view and returned so the customer can retry. Closed views and checkouts that
// already completed or have no cart are left alone.
func (c *Controller) Abandon(ctx context.Context) (View, error) {
	c.mu.Lock()
	if err := c.abandonableLocked(); err != nil {
		v := c.viewLocked()
		c.mu.Unlock()
		return v, err
	}
	sessionID := c.session.SessionID
	c.mu.Unlock()

	err := c.deps.Backend.AbandonSession(ctx, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	// the poller may have seen the released cart meanwhile; only a closed or
	// completed view wins over the abandon result
	if c.closed || c.phase == PhaseCompleted {
		return c.viewLocked(), c.abandonableLocked()
	}
	c.stopWorkLocked()

	if errors.Is(err, domain.ErrUnauthorized) {
		c.unauthorizedLocked()
		return c.viewLocked(), err
	}

	c.redirect = &Redirect{Path: c.opts.DashboardPath}
	if err != nil {
		c.log.Error(ctx, "failed to abandon checkout session", err)
		c.errMsg = msgAbandonError
		c.setPhaseLocked(PhaseError)
		return c.viewLocked(), domain.NewCheckoutError(domain.ErrAbandonFailed, err.Error(), "ABANDON_FAILED")
	}
	c.forgetPreferencesLocked()
	c.errMsg = ""
	c.setPhaseLocked(PhaseNoCart)
	return c.viewLocked(), nil
}

// abandonableLocked allows ERROR so an expired session or a failed abandon can
// still be released.
func (c *Controller) abandonableLocked() error {
	switch {
	case c.closed:
		return domain.NewCheckoutError(domain.ErrInvalidRequest, "checkout view is closed", "VIEW_CLOSED")
	case c.phase == PhaseCompleted:
		return domain.NewCheckoutError(domain.ErrInvalidRequest, "checkout already completed", "SESSION_COMPLETED")
	case c.phase == PhaseNoCart, c.session == nil, c.session.SessionID == "":
		return domain.NewCheckoutError(domain.ErrInvalidRequest, "no checkout session to abandon", "NO_SESSION")
	}
	return nil
}

// Unmount cancels the clock, the poller, pending timers and in-flight calls.
// Safe to call any number of times.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopWorkLocked()
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	mounted := c.ctx != nil
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if mounted {
		c.deps.Metrics.ViewReleased()
	}
}

// pollSink

func (c *Controller) onSnapshot(snap *domain.CheckoutSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.phase != PhaseActive {
		return
	}
	prev := c.session
	c.session = MergeSession(prev, snap)
	if snap.IsExpired {
		c.expireLocked()
		return
	}
	if prev == nil || prev.SessionID != snap.SessionID || c.clock == nil || expiryMoved(c.clock.ExpiresAt(), snap.ExpiresAt) {
		c.startClockLocked(snap.ExpiresAt)
	}
	c.generateLocked()
}

func (c *Controller) onCompleted(snap *domain.CheckoutSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.session = MergeSession(c.session, snap)
	c.completeLocked(0)
}

func (c *Controller) onNoCart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.noCartLocked()
}

func (c *Controller) onUnauthorized(error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.unauthorizedLocked()
}

// transitions, all called with c.mu held

func (c *Controller) activateLocked(snap *domain.CheckoutSession) {
	c.session = snap.Clone()
	c.setPhaseLocked(PhaseActive)

	c.workCtx, c.workCancel = context.WithCancel(c.ctx)

	c.startClockLocked(snap.ExpiresAt)
	c.poller = newPoller(c.deps.Backend.CurrentCheckoutState, c.opts.PollInterval, c, c.log, c.deps.Metrics)
	c.poller.Start(c.workCtx)
	c.generateLocked()
}

func (c *Controller) startClockLocked(expiresAt time.Time) {
	if c.clock != nil {
		c.clock.Stop()
	}
	clock := NewClock(expiresAt, ClockOptions{Tick: c.opts.TickInterval, Now: c.opts.Now})
	c.clock = clock
	go c.watchExpiry(c.ctx, clock)
}

func (c *Controller) watchExpiry(ctx context.Context, clock *Clock) {
	select {
	case <-clock.Expired():
	case <-clock.Done():
		select {
		case <-clock.Expired():
		default:
			return
		}
	case <-ctx.Done():
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.clock != clock || c.phase != PhaseActive || c.session.Completed() {
		return
	}
	c.expireLocked()
}

func (c *Controller) generateLocked() {
	if c.generating || c.session == nil || c.workCtx == nil || c.workCtx.Err() != nil {
		return
	}
	eligible := false
	for _, g := range c.session.PaymentGroups {
		if g.NeedsPreference() {
			eligible = true
			break
		}
	}
	if !eligible {
		return
	}
	c.generating = true
	sessionID := c.session.SessionID
	groups := c.session.Clone().PaymentGroups
	go c.runGeneration(c.workCtx, sessionID, groups)
}

func (c *Controller) runGeneration(ctx context.Context, sessionID string, groups []domain.PaymentGroup) {
	generated, err := c.generator.Generate(ctx, sessionID, groups)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generating = false
	if c.closed || c.phase != PhaseActive {
		return
	}
	if c.session != nil && c.session.SessionID == sessionID {
		merged := c.session.Clone()
		merged.PaymentGroups = MergeGroups(generated, c.session.PaymentGroups)
		c.session = merged
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		c.unauthorizedLocked()
	}
}

func (c *Controller) completeLocked(redirectDelay time.Duration) {
	if c.completed {
		return
	}
	c.completed = true
	c.stopWorkLocked()
	c.errMsg = ""
	c.setPhaseLocked(PhaseCompleted)

	sessionID := ""
	if c.session != nil {
		sessionID = c.session.SessionID
	}
	c.redirect = &Redirect{Path: c.opts.SuccessPath, Query: url.Values{"sessionId": {sessionID}}}
	if redirectDelay > 0 {
		c.redirect.NotBefore = c.opts.Now().Add(redirectDelay)
	}
	c.refreshCartLocked()
	c.forgetPreferencesLocked()
}

// forgetPreferencesLocked drops the cached preferences of the mirrored session.
func (c *Controller) forgetPreferencesLocked() {
	if c.session == nil || c.session.SessionID == "" || c.ctx == nil {
		return
	}
	sessionID := c.session.SessionID
	orderIDs := make([]string, 0, len(c.session.PaymentGroups))
	for _, g := range c.session.PaymentGroups {
		orderIDs = append(orderIDs, g.OrderID)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 5*time.Second)
	go func() {
		defer cancel()
		if err := c.generator.Forget(ctx, sessionID, orderIDs...); err != nil {
			c.log.Warn(ctx, "could not drop cached payment preferences: "+err.Error())
		}
	}()
}

func (c *Controller) refreshCartLocked() {
	if c.deps.Cart == nil || c.ctx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 10*time.Second)
	go func() {
		defer cancel()
		if err := c.deps.Cart.RefreshCart(ctx); err != nil {
			c.log.Warn(ctx, "cart refresh after checkout failed: "+err.Error())
		}
	}()
}

func (c *Controller) expireLocked() {
	c.expired = true
	c.stopWorkLocked()
	c.errMsg = msgExpired
	c.setPhaseLocked(PhaseError)
}

func (c *Controller) noCartLocked() {
	c.stopWorkLocked()
	c.errMsg = msgNoCart
	c.setPhaseLocked(PhaseNoCart)
}

func (c *Controller) unauthorizedLocked() {
	c.stopWorkLocked()
	c.errMsg = msgReauth
	c.setPhaseLocked(PhaseError)

	q := url.Values{"returnUrl": {c.opts.CheckoutPath}}
	if c.session != nil && c.session.SessionID != "" {
		q.Set("sessionId", c.session.SessionID)
	}
	c.redirect = &Redirect{Path: c.opts.LoginPath, Query: q}
}

func (c *Controller) stopWorkLocked() {
	if c.clock != nil {
		c.clock.Stop()
	}
	if c.poller != nil {
		c.poller.Stop()
	}
	if c.workCancel != nil {
		c.workCancel()
	}
}

func (c *Controller) nudgeAfterLocked(delay time.Duration) {
	if c.phase != PhaseActive {
		return
	}
	c.afterLocked(delay, c.Nudge)
}

func (c *Controller) afterLocked(d time.Duration, fn func()) {
	if c.closed {
		return
	}
	c.timers = append(c.timers, time.AfterFunc(d, fn))
}

func (c *Controller) setPhaseLocked(p Phase) {
	if c.phase == p && p != PhaseLoading {
		return
	}
	c.phase = p
	c.deps.Metrics.ObserveTransition(string(p))
}

func (c *Controller) viewLocked() View {
	v := View{
		ID:                 c.id,
		Phase:              c.phase,
		Session:            c.session.Clone(),
		Expired:            c.expired,
		GeneratingPayments: c.generating,
		Error:              c.errMsg,
	}
	if c.clock != nil && c.phase == PhaseActive {
		v.Remaining = c.clock.Remaining()
	}
	v.RemainingLabel = FormatRemaining(v.Remaining)
	if c.banner != nil && c.opts.Now().Before(c.banner.ExpiresAt) {
		b := *c.banner
		v.Banner = &b
	}
	if c.redirect != nil {
		r := Redirect{Path: c.redirect.Path, Query: url.Values{}, NotBefore: c.redirect.NotBefore}
		for k, vals := range c.redirect.Query {
			r.Query[k] = append([]string(nil), vals...)
		}
		v.Redirect = &r
	}
	if c.phase.Terminal() && (c.redirect == nil || !c.opts.Now().Before(c.redirect.NotBefore)) {
		c.delivered = true
	}
	return v
}

// expiryMoved ignores sub-second jitter from expiries derived from relative seconds.
func expiryMoved(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d > 2*time.Second
}
