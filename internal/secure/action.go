// Package secure wraps operations with permission, recency and audit
// enforcement.
package secure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/authcore/internal/audit"
	"github.com/org/authcore/internal/permission"
	"github.com/org/authcore/pkg/models"
)

// DefaultMaxAuthAge applies when a policy requires recent authentication
// without naming its own limit.
const DefaultMaxAuthAge = 15 * time.Minute

// ReasonRecentAuth is recorded when a step-up check fails.
const ReasonRecentAuth = "recent authentication required"

// Session supplies the acting principal and the recency predicate. The
// session Watchdog satisfies it.
type Session interface {
	CurrentPrincipal(ctx context.Context) (*models.Principal, error)
	RequiresRecentAuth(ctx context.Context, maxAge time.Duration) bool
}

// Auditor is the part of the audit writer the executor records through.
type Auditor interface {
	LogResourceAccess(ctx context.Context, principal *models.Principal, action, resourceType, resourceID string, result models.Result, details map[string]any)
	LogSensitiveAction(ctx context.Context, principal *models.Principal, action, resourceType, resourceID string, result models.Result, details map[string]any)
}

// Policy describes what a caller must hold to run an action.
type Policy struct {
	RequiredPermissions []models.Permission
	Resource            string
	ResourceID          string
	RequireRecentAuth   bool
	// MaxAuthAge bounds the time since authentication when RequireRecentAuth
	// is set. Zero uses the executor default.
	MaxAuthAge time.Duration
	// DisableAudit turns off every event for the action.
	DisableAudit bool
}

// Executor holds the collaborators shared by all actions.
type Executor struct {
	catalog    *permission.Catalog
	auditor    Auditor
	maxAuthAge time.Duration
}

// NewExecutor returns an Executor. maxAuthAge <= 0 takes DefaultMaxAuthAge.
func NewExecutor(catalog *permission.Catalog, auditor Auditor, maxAuthAge time.Duration) *Executor {
	if maxAuthAge <= 0 {
		maxAuthAge = DefaultMaxAuthAge
	}
	return &Executor{catalog: catalog, auditor: auditor, maxAuthAge: maxAuthAge}
}

// missing evaluates perms against the principal's materialized permission
// set. A principal without one is resolved through the catalog by role.
func (e *Executor) missing(p *models.Principal, perms []models.Permission) []models.Permission {
	if p.Permissions == nil {
		return e.catalog.Missing(p.Role, perms)
	}
	return p.Missing(perms)
}

// Op is the guarded operation.
type Op[A, R any] func(ctx context.Context, arg A) (R, error)

// Action is an operation bound to a name and a policy.
type Action[A, R any] struct {
	exec     *Executor
	name     string
	policy   Policy
	op       Op[A, R]
	details  func(A) map[string]any
	onDenied func(ctx context.Context, d Decision)
}

// Option configures an Action.
type Option[A, R any] func(*Action[A, R])

// WithDetails sets the projection of the argument recorded on success and
// failure events. Without it no argument data is recorded.
func WithDetails[A, R any](fn func(A) map[string]any) Option[A, R] {
	return func(a *Action[A, R]) { a.details = fn }
}

// WithOnDenied registers a hook that runs for every denial.
func WithOnDenied[A, R any](fn func(ctx context.Context, d Decision)) Option[A, R] {
	return func(a *Action[A, R]) { a.onDenied = fn }
}

// Define binds op to name and policy.
func Define[A, R any](exec *Executor, name string, policy Policy, op Op[A, R], opts ...Option[A, R]) *Action[A, R] {
	a := &Action[A, R]{
		exec:   exec,
		name:   name,
		policy: policy,
		op:     op,
	}
	a.policy.RequiredPermissions = append([]models.Permission(nil), policy.RequiredPermissions...)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the audited action name.
func (a *Action[A, R]) Name() string { return a.name }

// CanExecute reports whether sess has a principal holding every required
// permission. It has no side effects and ignores recency.
func (a *Action[A, R]) CanExecute(ctx context.Context, sess Session) bool {
	p, err := sess.CurrentPrincipal(ctx)
	if err != nil || p == nil {
		return false
	}
	return len(a.exec.missing(p, a.policy.RequiredPermissions)) == 0
}

// Execute runs the operation if sess passes the policy. A denial is reported
// through the Decision and never as an error; err is only ever the
// operation's own error. Exactly one audit event is written before Execute
// returns unless auditing is disabled.
func (a *Action[A, R]) Execute(ctx context.Context, sess Session, arg A) (R, Decision, error) {
	var zero R

	p, err := sess.CurrentPrincipal(ctx)
	if err != nil {
		log.Warn().Err(err).Str("action", a.name).Msg("secure: identity lookup failed")
	}
	if err != nil || p == nil {
		d := Decision{Reason: DenyUnauthenticated}
		a.deny(ctx, nil, d)
		return zero, d, nil
	}

	if missing := a.exec.missing(p, a.policy.RequiredPermissions); len(missing) > 0 {
		d := Decision{Reason: DenyPermission, Missing: missing}
		a.deny(ctx, p, d)
		return zero, d, nil
	}

	if a.policy.RequireRecentAuth && sess.RequiresRecentAuth(ctx, a.maxAuthAge()) {
		d := Decision{Reason: DenyReauth}
		a.deny(ctx, p, d)
		return zero, d, nil
	}

	result, opErr := a.run(ctx, p, arg)
	allowed := Decision{Allowed: true}
	if opErr != nil {
		decisionsTotal.WithLabelValues(a.name, "failure").Inc()
		if !a.policy.DisableAudit {
			details := a.projected(arg)
			details["error"] = opErr.Error()
			a.exec.auditor.LogSensitiveAction(ctx, p, a.name, a.policy.Resource, a.policy.ResourceID, models.ResultFailure, details)
		}
		return result, allowed, opErr
	}

	decisionsTotal.WithLabelValues(a.name, "success").Inc()
	if !a.policy.DisableAudit {
		a.exec.auditor.LogSensitiveAction(ctx, p, a.name, a.policy.Resource, a.policy.ResourceID, models.ResultSuccess, a.projected(arg))
	}
	return result, allowed, nil
}

// run calls the operation. A panicking operation is recorded as a failure
// before the panic continues up the stack.
func (a *Action[A, R]) run(ctx context.Context, p *models.Principal, arg A) (R, error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		decisionsTotal.WithLabelValues(a.name, "failure").Inc()
		if !a.policy.DisableAudit {
			details := a.projected(arg)
			details["error"] = fmt.Sprint(r)
			details["panic"] = true
			a.exec.auditor.LogSensitiveAction(ctx, p, a.name, a.policy.Resource, a.policy.ResourceID, models.ResultFailure, details)
		}
		panic(r)
	}()
	return a.op(ctx, arg)
}

func (a *Action[A, R]) deny(ctx context.Context, p *models.Principal, d Decision) {
	decisionsTotal.WithLabelValues(a.name, string(d.Reason)).Inc()
	if !a.policy.DisableAudit {
		details := map[string]any{"reason": d.Message()}
		if len(d.Missing) > 0 {
			missing := make([]string, len(d.Missing))
			for i, m := range d.Missing {
				missing[i] = string(m)
			}
			details["missing_permissions"] = missing
		}
		a.exec.auditor.LogResourceAccess(ctx, p, a.name, a.policy.Resource, a.policy.ResourceID, models.ResultBlocked, details)
	}
	if a.onDenied != nil {
		a.onDenied(ctx, d)
	}
}

func (a *Action[A, R]) projected(arg A) map[string]any {
	details := map[string]any{}
	if a.details != nil {
		for k, v := range a.details(arg) {
			details[k] = v
		}
	}
	return details
}

func (a *Action[A, R]) maxAuthAge() time.Duration {
	if a.policy.MaxAuthAge > 0 {
		return a.policy.MaxAuthAge
	}
	return a.exec.maxAuthAge
}

// DenyReason says why an action was refused.
type DenyReason string

const (
	DenyUnauthenticated DenyReason = "unauthenticated"
	DenyPermission      DenyReason = "permission"
	DenyReauth          DenyReason = "reauth"
)

// Decision is the authorization outcome of one Execute call.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	// Missing lists every required permission the principal lacks.
	Missing []models.Permission
}

// Message is the human-readable reason recorded in the audit trail.
func (d Decision) Message() string {
	switch d.Reason {
	case DenyUnauthenticated:
		return "no authenticated principal"
	case DenyPermission:
		perms := make([]string, len(d.Missing))
		for i, m := range d.Missing {
			perms[i] = string(m)
		}
		return fmt.Sprintf("missing permissions: %s", strings.Join(perms, ", "))
	case DenyReauth:
		return ReasonRecentAuth
	}
	return ""
}

var _ Auditor = (*audit.Writer)(nil)
