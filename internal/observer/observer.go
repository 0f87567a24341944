// Package observer keeps a live view of which permissions the current
// principal holds.
package observer

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/authcore/internal/permission"
	"github.com/org/authcore/internal/session"
	"github.com/org/authcore/pkg/models"
)

// DefaultInterval is the recompute cadence.
const DefaultInterval = 30 * time.Second

// CheckAction is the audited action name for a sensitive permission probe.
const CheckAction = "check_permission"

// DefaultSensitive are audit-logged on every check unless overridden.
var DefaultSensitive = []models.Permission{models.PermAdminSystem, models.PermAdminUsers}

// Auditor records permission probes.
type Auditor interface {
	LogResourceAccess(ctx context.Context, principal *models.Principal, action, resourceType, resourceID string, result models.Result, details map[string]any)
}

// Options configures an Observer.
type Options struct {
	// Permissions is the fixed set of interest.
	Permissions []models.Permission
	// Sensitive members of Permissions are audit-logged each time they are
	// checked. Nil takes DefaultSensitive.
	Sensitive []models.Permission
	Interval  time.Duration
}

// Snapshot is the outcome of one recompute.
type Snapshot struct {
	PrincipalID string
	Granted     map[models.Permission]bool
	Session     session.Status
	CheckedAt   time.Time
}

// Observer periodically refreshes claims, recomputes the permission map and
// re-checks the session. A warning from the watchdog triggers an immediate
// recompute.
type Observer struct {
	provider  session.IdentityProvider
	catalog   *permission.Catalog
	watchdog  *session.Watchdog
	auditor   Auditor
	perms     []models.Permission
	sensitive map[models.Permission]struct{}
	interval  time.Duration

	mu       sync.Mutex
	snapshot Snapshot
	nextID   int
	onChange map[int]func(Snapshot)

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	unwatch func()
	kick    chan struct{}

	fireMu  sync.Mutex
	stopped bool
}

// New returns a stopped Observer.
func New(provider session.IdentityProvider, catalog *permission.Catalog, watchdog *session.Watchdog, auditor Auditor, opts Options) *Observer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Sensitive == nil {
		opts.Sensitive = DefaultSensitive
	}
	sensitive := make(map[models.Permission]struct{}, len(opts.Sensitive))
	for _, p := range opts.Sensitive {
		sensitive[p] = struct{}{}
	}
	return &Observer{
		provider:  provider,
		catalog:   catalog,
		watchdog:  watchdog,
		auditor:   auditor,
		perms:     append([]models.Permission(nil), opts.Permissions...),
		sensitive: sensitive,
		interval:  opts.Interval,
		onChange:  map[int]func(Snapshot){},
		kick:      make(chan struct{}, 1),
	}
}

// OnChange registers fn to be called whenever the granted map or the
// principal changes. Listeners must not block or call Stop.
func (o *Observer) OnChange(fn func(Snapshot)) (remove func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.onChange[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.onChange, id)
		o.mu.Unlock()
	}
}

// Start recomputes immediately and then on every interval until Stop or ctx
// is done. A running loop is stopped first.
func (o *Observer) Start(ctx context.Context) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	o.stopLocked()
	o.mu.Lock()
	o.stopped = false
	o.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.unwatch = o.watchdog.OnWarning(func(time.Duration) {
		select {
		case o.kick <- struct{}{}:
		default:
		}
	})
	go o.run(runCtx, o.done)
}

// Stop halts the loop. No OnChange listener fires after Stop returns until
// the next Start. Safe to call repeatedly.
func (o *Observer) Stop() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	o.stopLocked()

	o.fireMu.Lock()
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.fireMu.Unlock()
}

// Running reports whether the loop is active.
func (o *Observer) Running() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.done == nil {
		return false
	}
	select {
	case <-o.done:
		return false
	default:
		return true
	}
}

func (o *Observer) stopLocked() {
	if o.cancel == nil {
		return
	}
	o.unwatch()
	o.cancel()
	<-o.done
	o.cancel, o.done, o.unwatch = nil, nil, nil
	select {
	case <-o.kick:
	default:
	}
}

func (o *Observer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-o.kick:
			log.Debug().Msg("observer: out-of-cycle recompute on session warning")
		}
		if ctx.Err() != nil {
			return
		}
		o.Check(ctx)
	}
}

// Snapshot returns the last computed snapshot.
func (o *Observer) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneSnapshot(o.snapshot)
}

// Granted reports perm from the last snapshot.
func (o *Observer) Granted(perm models.Permission) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot.Granted[perm]
}

// Check refreshes claims, recomputes the permission map and refreshes the
// watchdog. Identity failures are logged; the map then reflects whatever
// principal, if any, the provider still reports.
func (o *Observer) Check(ctx context.Context) Snapshot {
	if _, err := o.provider.TokenInfo(ctx, true); err != nil {
		log.Warn().Err(err).Msg("observer: claims refresh failed")
	}
	principal, err := o.provider.CurrentPrincipal(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("observer: identity lookup failed")
		principal = nil
	}

	granted := make(map[models.Permission]bool, len(o.perms))
	for _, perm := range o.perms {
		ok := principal != nil && o.catalog.HasPermission(principal.Role, perm)
		granted[perm] = ok
		if _, sensitive := o.sensitive[perm]; sensitive {
			result := models.ResultSuccess
			if !ok {
				result = models.ResultBlocked
			}
			o.auditor.LogResourceAccess(ctx, principal, CheckAction, "permission", string(perm), result, map[string]any{"granted": ok})
		}
	}

	status := o.watchdog.Check(ctx)

	next := Snapshot{Granted: granted, Session: status, CheckedAt: time.Now()}
	if principal != nil {
		next.PrincipalID = principal.ID
	}

	o.mu.Lock()
	changed := next.PrincipalID != o.snapshot.PrincipalID || !maps.Equal(next.Granted, o.snapshot.Granted)
	o.snapshot = next
	var fire []func(Snapshot)
	if changed {
		for _, fn := range o.onChange {
			fire = append(fire, fn)
		}
	}
	o.mu.Unlock()

	if len(fire) > 0 {
		o.fireMu.Lock()
		o.mu.Lock()
		stopped := o.stopped
		o.mu.Unlock()
		if !stopped {
			for _, fn := range fire {
				fn(cloneSnapshot(next))
			}
		}
		o.fireMu.Unlock()
	}
	return cloneSnapshot(next)
}

func cloneSnapshot(s Snapshot) Snapshot {
	s.Granted = maps.Clone(s.Granted)
	return s
}
