package socialauth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuditAction enumerates auth-relevant actions.
type AuditAction string

const (
	AuditActionLogin        AuditAction = "login"
	AuditActionLogout       AuditAction = "logout"
	AuditActionLink         AuditAction = "link"
	AuditActionUnlink       AuditAction = "unlink"
	AuditActionFailedLogin  AuditAction = "failed_login"
	AuditActionTokenRefresh AuditAction = "token_refresh"
)

// ProviderJWT tags audit events produced by the token lifecycle rather than
// an external identity provider.
const ProviderJWT = "jwt"

// AuditTTL is the retention window for auth events.
const AuditTTL = 30 * 24 * time.Hour

// AuthEvent is an immutable record of an auth-relevant action. Created once,
// never mutated, purged after AuditTTL.
type AuthEvent struct {
	bun.BaseModel `bun:"table:auth_events,alias:evt"`
	ID            uuid.UUID   `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     *uuid.UUID  `bun:"account_id,nullzero,type:uuid" json:"account_id,omitempty"`
	Action        AuditAction `bun:"action,notnull" json:"action"`
	Provider      string      `bun:"provider,nullzero" json:"provider,omitempty"`
	Success       bool        `bun:"success" json:"success"`
	ErrorMessage  string      `bun:"error_message,nullzero" json:"error_message,omitempty"`
	IPAddress     string      `bun:"ip_address,nullzero" json:"ip_address,omitempty"`
	UserAgent     string      `bun:"user_agent,nullzero" json:"user_agent,omitempty"`
	CorrelationID string      `bun:"correlation_id,nullzero" json:"correlation_id,omitempty"`
	CreatedAt     *time.Time  `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// RequestMeta carries request context into audit records and log entries.
type RequestMeta struct {
	IPAddress     string
	UserAgent     string
	CorrelationID string
}

// Apply copies the request context onto an event.
func (m RequestMeta) Apply(event *AuthEvent) {
	if event == nil {
		return
	}
	event.IPAddress = m.IPAddress
	event.UserAgent = m.UserAgent
	event.CorrelationID = m.CorrelationID
}

// AuditSink consumes auth events. Recording is fire-and-forget: a sink
// failure must never roll back or block the operation being audited.
type AuditSink interface {
	Record(ctx context.Context, event AuthEvent) error
}

// AuditSinkFunc adapts a function to the AuditSink interface.
type AuditSinkFunc func(ctx context.Context, event AuthEvent) error

// Record implements AuditSink.
func (f AuditSinkFunc) Record(ctx context.Context, event AuthEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopAuditSink struct{}

func (noopAuditSink) Record(context.Context, AuthEvent) error {
	return nil
}

// NormalizeAuditSink substitutes a no-op sink for nil.
func NormalizeAuditSink(s AuditSink) AuditSink {
	if s == nil {
		return noopAuditSink{}
	}
	return s
}

// repoAuditSink persists events through the AuthEvents repository. Write
// failures are logged and swallowed.
type repoAuditSink struct {
	events AuthEvents
	logger Logger
}

// NewAuditSink creates a repository backed sink.
func NewAuditSink(events AuthEvents, logger Logger) AuditSink {
	if logger == nil {
		logger = defLogger{}
	}
	return &repoAuditSink{events: events, logger: logger}
}

func (s *repoAuditSink) Record(ctx context.Context, event AuthEvent) error {
	if s.events == nil {
		return nil
	}

	if _, err := s.events.Create(ctx, &event); err != nil {
		s.logger.Error("audit sink write failed",
			"action", string(event.Action),
			"correlation_id", event.CorrelationID,
			"error", err,
		)
	}

	return nil
}
