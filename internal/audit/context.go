package audit

import "context"

type contextKey string

const ctxKeyCorrelationID contextKey = "correlation_id"

// WithCorrelationID attaches a session/correlation id that the Writer stamps
// on every event written under ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationID returns the id attached with WithCorrelationID, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}
