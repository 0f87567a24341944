// Package session tracks the validity of the current principal's token and
// keeps it fresh ahead of expiry.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/authcore/pkg/models"
)

// IdentityProvider supplies the current principal and its token metadata.
// CurrentPrincipal returns nil, nil when nobody is signed in.
type IdentityProvider interface {
	CurrentPrincipal(ctx context.Context) (*models.Principal, error)
	TokenInfo(ctx context.Context, forceRefresh bool) (models.TokenInfo, error)
	ForceRefresh(ctx context.Context) error
}

// State is the watchdog's view of the session.
type State int

const (
	Unauthenticated State = iota
	Valid
	ExpiringSoon
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case ExpiringSoon:
		return "expiring_soon"
	default:
		return "unauthenticated"
	}
}

// Default thresholds.
const (
	DefaultWarningThreshold = 5 * time.Minute
	DefaultRefreshThreshold = 10 * time.Minute
	DefaultPollInterval     = 60 * time.Second
)

// Options configures a Watchdog. Zero values take the defaults above.
type Options struct {
	WarningThreshold time.Duration
	RefreshThreshold time.Duration
	PollInterval     time.Duration
	Clock            func() time.Time
}

// Status is a point-in-time snapshot of the watchdog.
type Status struct {
	State           State
	PrincipalID     string
	ValidUntil      time.Time
	AuthenticatedAt time.Time
	Remaining       time.Duration
}

// Watchdog polls an IdentityProvider, refreshes the token inside the refresh
// window, and notifies listeners when the token is about to expire or has
// expired. A Watchdog owns at most one timer at a time.
type Watchdog struct {
	provider IdentityProvider
	opts     Options

	mu        sync.Mutex
	status    Status
	warned    bool
	nextID    int
	onWarning map[int]func(remaining time.Duration)
	onExpired map[int]func()

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// fireMu is held while listeners run so Stop can wait them out.
	fireMu  sync.Mutex
	stopped bool
}

// NewWatchdog returns a stopped Watchdog for provider.
func NewWatchdog(provider IdentityProvider, opts Options) *Watchdog {
	if opts.WarningThreshold <= 0 {
		opts.WarningThreshold = DefaultWarningThreshold
	}
	if opts.RefreshThreshold <= 0 {
		opts.RefreshThreshold = DefaultRefreshThreshold
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Watchdog{
		provider:  provider,
		opts:      opts,
		onWarning: map[int]func(time.Duration){},
		onExpired: map[int]func(){},
	}
}

// OnWarning registers fn to be called once each time the remaining validity
// crosses below the warning threshold. Listeners must not block or call Stop.
// The returned func removes the listener.
func (w *Watchdog) OnWarning(fn func(remaining time.Duration)) (remove func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.onWarning[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.onWarning, id)
		w.mu.Unlock()
	}
}

// OnExpired registers fn to be called when a valid session becomes
// unauthenticated. The returned func removes the listener.
func (w *Watchdog) OnExpired(fn func()) (remove func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.onExpired[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.onExpired, id)
		w.mu.Unlock()
	}
}

// Start begins periodic monitoring. Any monitoring already in progress is
// stopped first, so repeated calls never leave more than one timer running.
func (w *Watchdog) Start(ctx context.Context) {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	w.stopLocked()
	w.mu.Lock()
	w.stopped = false
	w.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	go w.run(runCtx, done)
}

// Stop halts monitoring and waits for an in-flight check to finish. No
// listener fires after Stop returns, including from direct Check calls,
// until the next Start. Safe to call repeatedly.
func (w *Watchdog) Stop() {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	w.stopLocked()

	w.fireMu.Lock()
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.fireMu.Unlock()
}

// Running reports whether periodic monitoring is active. A loop whose parent
// context was cancelled is not running.
func (w *Watchdog) Running() bool {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.done == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *Watchdog) stopLocked() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	w.done = nil
}

func (w *Watchdog) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			w.Check(ctx)
		}
	}
}

// Status returns the last computed status.
func (w *Watchdog) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Check re-reads the identity provider and advances the state machine. It is
// called by the timer and may be called directly for event-driven re-checks.
func (w *Watchdog) Check(ctx context.Context) Status {
	now := w.opts.Clock()

	principal, err := w.provider.CurrentPrincipal(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("session: identity lookup failed")
	}
	if err != nil || principal == nil {
		return w.expire()
	}

	info, err := w.provider.TokenInfo(ctx, false)
	if err != nil {
		log.Warn().Err(err).Str("principal", principal.ID).Msg("session: token info unavailable")
		return w.Status()
	}

	remaining := info.ValidUntil.Sub(now)
	if remaining <= 0 {
		return w.expire()
	}

	state := Valid
	if remaining < w.opts.RefreshThreshold {
		state = ExpiringSoon
		if refreshed, ok := w.refresh(ctx, principal.ID); ok {
			info = refreshed
			remaining = info.ValidUntil.Sub(now)
			if remaining >= w.opts.RefreshThreshold {
				state = Valid
			}
		}
	}

	w.mu.Lock()
	prev := w.status.State
	w.status = Status{
		State:           state,
		PrincipalID:     principal.ID,
		ValidUntil:      info.ValidUntil,
		AuthenticatedAt: info.AuthenticatedAt,
		Remaining:       remaining,
	}
	var warn []func(time.Duration)
	if remaining < w.opts.WarningThreshold {
		if !w.warned {
			w.warned = true
			warn = listeners(w.onWarning)
		}
	} else {
		w.warned = false
	}
	status := w.status
	w.mu.Unlock()

	if prev != state {
		transitionsTotal.WithLabelValues(state.String()).Inc()
		log.Debug().Str("principal", principal.ID).Str("from", prev.String()).Str("to", state.String()).Msg("session state changed")
	}
	if len(warn) > 0 {
		w.notify(func() {
			for _, fn := range warn {
				fn(remaining)
			}
		})
	}
	return status
}

// refresh asks the provider for a new token. Failures are logged and
// reported as ok=false; the next poll will notice continued expiry.
func (w *Watchdog) refresh(ctx context.Context, principalID string) (models.TokenInfo, bool) {
	if err := w.provider.ForceRefresh(ctx); err != nil {
		log.Warn().Err(err).Str("principal", principalID).Msg("session: proactive refresh failed")
		return models.TokenInfo{}, false
	}
	info, err := w.provider.TokenInfo(ctx, true)
	if err != nil {
		log.Warn().Err(err).Str("principal", principalID).Msg("session: token info after refresh failed")
		return models.TokenInfo{}, false
	}
	return info, true
}

func (w *Watchdog) expire() Status {
	w.mu.Lock()
	prev := w.status.State
	w.status = Status{State: Unauthenticated}
	w.warned = false
	var fire []func()
	if prev != Unauthenticated {
		for _, fn := range w.onExpired {
			fire = append(fire, fn)
		}
	}
	w.mu.Unlock()

	if prev != Unauthenticated {
		transitionsTotal.WithLabelValues(Unauthenticated.String()).Inc()
		log.Info().Msg("session expired")
	}
	if len(fire) > 0 {
		w.notify(func() {
			for _, fn := range fire {
				fn()
			}
		})
	}
	return Status{State: Unauthenticated}
}

// notify runs fire unless the watchdog has been stopped.
func (w *Watchdog) notify(fire func()) {
	w.fireMu.Lock()
	defer w.fireMu.Unlock()
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}
	fire()
}

// CurrentPrincipal returns the provider's principal, or nil when signed out.
func (w *Watchdog) CurrentPrincipal(ctx context.Context) (*models.Principal, error) {
	return w.provider.CurrentPrincipal(ctx)
}

// RequiresRecentAuth reports whether the principal must re-authenticate
// before an action demanding authentication within maxAge. It is true when
// there is no valid session or when more than maxAge has elapsed since
// authentication; exactly maxAge is still recent enough.
func (w *Watchdog) RequiresRecentAuth(ctx context.Context, maxAge time.Duration) bool {
	principal, err := w.provider.CurrentPrincipal(ctx)
	if err != nil || principal == nil {
		return true
	}
	info, err := w.provider.TokenInfo(ctx, false)
	if err != nil {
		log.Warn().Err(err).Str("principal", principal.ID).Msg("session: token info unavailable for recency check")
		return true
	}
	now := w.opts.Clock()
	if !info.Valid(now) {
		return true
	}
	return now.Sub(info.AuthenticatedAt) > maxAge
}

func listeners(m map[int]func(time.Duration)) []func(time.Duration) {
	out := make([]func(time.Duration), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}
