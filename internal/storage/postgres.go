package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/org/authcore/pkg/models"
)

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Credentials ---

func (p *PostgresBackend) WriteCredential(ctx context.Context, cred *models.Credential) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO credentials (principal_id, role, password_hash, created_at)
		 VALUES ($1, $2, $3, $4)`,
		cred.PrincipalID, string(cred.Role), cred.PasswordHash, cred.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresBackend) GetCredential(ctx context.Context, principalID string) (*models.Credential, error) {
	var c models.Credential
	var role string
	err := p.pool.QueryRow(ctx,
		`SELECT principal_id, role, password_hash, created_at FROM credentials WHERE principal_id = $1`,
		principalID,
	).Scan(&c.PrincipalID, &role, &c.PasswordHash, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Role = models.Role(role)
	return &c, nil
}

// --- Tokens ---

func (p *PostgresBackend) WriteToken(ctx context.Context, token *models.Token, tokenHash string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO tokens (id, token_hash, principal_id, role, ttl_seconds, created_at, authenticated_at, expires_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)`,
		token.ID, tokenHash, token.PrincipalID, string(token.Role),
		int64(token.TTL.Seconds()), token.CreatedAt, token.AuthenticatedAt, nullableTime(token.ExpiresAt),
	)
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *PostgresBackend) GetToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id::text, principal_id, role, ttl_seconds, created_at, authenticated_at, expires_at, revoked_at
		 FROM tokens WHERE token_hash = $1`,
		tokenHash,
	)
	var t models.Token
	var role string
	var ttlSec int64
	var expiresAt *time.Time
	err := row.Scan(&t.ID, &t.PrincipalID, &role, &ttlSec, &t.CreatedAt, &t.AuthenticatedAt, &expiresAt, &t.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Role = models.Role(role)
	t.TTL = time.Duration(ttlSec) * time.Second
	if expiresAt != nil {
		t.ExpiresAt = *expiresAt
	}
	return &t, nil
}

func (p *PostgresBackend) RenewToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	return p.execOne(ctx, `UPDATE tokens SET expires_at = $1 WHERE id = $2::uuid AND revoked_at IS NULL`, expiresAt, tokenID)
}

func (p *PostgresBackend) MarkAuthenticated(ctx context.Context, tokenID string, at time.Time) error {
	return p.execOne(ctx, `UPDATE tokens SET authenticated_at = $1 WHERE id = $2::uuid AND revoked_at IS NULL`, at, tokenID)
}

func (p *PostgresBackend) RevokeToken(ctx context.Context, tokenID string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE tokens SET revoked_at = NOW() WHERE id = $1::uuid AND revoked_at IS NULL`,
		tokenID,
	)
	return err
}

func (p *PostgresBackend) CountActiveTokens(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tokens WHERE revoked_at IS NULL AND (expires_at IS NULL OR expires_at > NOW())`,
	).Scan(&count)
	return count, err
}

func (p *PostgresBackend) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Audit events ---

const auditColumns = `id::text, principal_id, principal_role, action, resource_type, resource_id, details, result, severity, occurred_at, correlation_id`

func (p *PostgresBackend) AppendAuditEvent(ctx context.Context, e *models.AuditEvent) error {
	detailsJSON, err := json.Marshal(e.Details)
	if err != nil || e.Details == nil {
		detailsJSON = []byte("{}")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO audit_events (id, principal_id, principal_role, action, resource_type, resource_id, details, result, severity, occurred_at, correlation_id)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.PrincipalID, string(e.PrincipalRole), e.Action, e.ResourceType, e.ResourceID,
		detailsJSON, string(e.Result), string(e.Severity), e.Timestamp, e.CorrelationID,
	)
	return err
}

func (p *PostgresBackend) QueryRecentEvents(ctx context.Context, filter RecentFilter) ([]*models.AuditEvent, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + auditColumns + ` FROM audit_events WHERE principal_id = $1 AND occurred_at >= $2`)
	args := []any{filter.PrincipalID, filter.Since}
	n := 3
	if filter.Action != "" {
		fmt.Fprintf(&query, ` AND action = $%d`, n)
		args = append(args, filter.Action)
		n++
	}
	if filter.Result != "" {
		fmt.Fprintf(&query, ` AND result = $%d`, n)
		args = append(args, string(filter.Result))
	}
	query.WriteString(` ORDER BY occurred_at ASC`)
	return p.queryEvents(ctx, query.String(), args...)
}

func (p *PostgresBackend) QueryAuditEvents(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + auditColumns + ` FROM audit_events WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.PrincipalID != "" {
		fmt.Fprintf(&query, ` AND principal_id = $%d`, n)
		args = append(args, filter.PrincipalID)
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND occurred_at >= $%d`, n)
		args = append(args, *filter.Since)
		n++
	}
	query.WriteString(` ORDER BY occurred_at DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}
	return p.queryEvents(ctx, query.String(), args...)
}

func (p *PostgresBackend) queryEvents(ctx context.Context, sql string, args ...any) ([]*models.AuditEvent, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var role, result, severity string
		var detailsJSON []byte
		if err := rows.Scan(&e.ID, &e.PrincipalID, &role, &e.Action, &e.ResourceType, &e.ResourceID,
			&detailsJSON, &result, &severity, &e.Timestamp, &e.CorrelationID); err != nil {
			return nil, err
		}
		e.PrincipalRole = models.Role(role)
		e.Result = models.Result(result)
		e.Severity = models.Severity(severity)
		json.Unmarshal(detailsJSON, &e.Details) //nolint:errcheck
		events = append(events, &e)
	}
	return events, rows.Err()
}

// --- Security alerts ---

func (p *PostgresBackend) AppendSecurityAlert(ctx context.Context, a *models.SecurityAlert) error {
	eventsJSON, err := json.Marshal(a.Events)
	if err != nil {
		return fmt.Errorf("encoding alert events: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO security_alerts (id, type, principal_id, description, events, raised_at, resolved)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)`,
		a.ID, string(a.Type), a.PrincipalID, a.Description, eventsJSON, a.Timestamp, a.Resolved,
	)
	return err
}

func (p *PostgresBackend) QueryUnresolvedAlerts(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, type, principal_id, description, events, raised_at, resolved
		 FROM security_alerts WHERE resolved = FALSE
		 ORDER BY raised_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.SecurityAlert
	for rows.Next() {
		var a models.SecurityAlert
		var typ string
		var eventsJSON []byte
		if err := rows.Scan(&a.ID, &typ, &a.PrincipalID, &a.Description, &eventsJSON, &a.Timestamp, &a.Resolved); err != nil {
			return nil, err
		}
		a.Type = models.AlertType(typ)
		if err := json.Unmarshal(eventsJSON, &a.Events); err != nil {
			return nil, fmt.Errorf("decoding alert events: %w", err)
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}
