package models

import "time"

// Result is the outcome recorded on an audit event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultBlocked Result = "blocked"
)

// Severity grades an audit event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Well-known action names.
const (
	ActionLogin  = "login"
	ActionLogout = "logout"
)

// AuditEvent is an immutable record of an attempted or completed action.
type AuditEvent struct {
	ID            string         `json:"id"`
	PrincipalID   string         `json:"principal_id"`
	PrincipalRole Role           `json:"principal_role"`
	Action        string         `json:"action"`
	ResourceType  string         `json:"resource_type,omitempty"`
	ResourceID    string         `json:"resource_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Result        Result         `json:"result"`
	Severity      Severity       `json:"severity"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
}

// AlertType classifies a security alert.
type AlertType string

const (
	AlertSuspiciousActivity   AlertType = "suspicious_activity"
	AlertPermissionEscalation AlertType = "permission_escalation"
	AlertMultipleFailures     AlertType = "multiple_failures"
	AlertUnusualAccess        AlertType = "unusual_access"
)

// SecurityAlert is raised when a pattern of audit events matches a known
// risk signature. Only an external resolution flips Resolved.
type SecurityAlert struct {
	ID          string        `json:"id"`
	Type        AlertType     `json:"type"`
	PrincipalID string        `json:"principal_id"`
	Description string        `json:"description"`
	Events      []*AuditEvent `json:"events"`
	Timestamp   time.Time     `json:"timestamp"`
	Resolved    bool          `json:"resolved"`
}
