package memory

import (
	"context"
	"log/slog"
	"sync"

	"authjobs/internal/core/domain/model/audit"
	"authjobs/internal/core/ports"
)

var _ ports.AuditSink = (*AuditSink)(nil)

// AuditSink keeps events in order of arrival and logs each one.
type AuditSink struct {
	mu     sync.Mutex
	events []audit.Event
	logger *slog.Logger
}

func NewAuditSink(logger *slog.Logger) *AuditSink {
	return &AuditSink{logger: logger.With("component", "memory_audit")}
}

func (s *AuditSink) Record(ctx context.Context, event audit.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "audit event",
		"type", string(event.Type),
		"authorization_id", event.AuthorizationID.String(),
		"message", event.Message)
}

// Events returns a copy of everything recorded so far.
func (s *AuditSink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

// CountOf counts recorded events of the given type.
func (s *AuditSink) CountOf(t audit.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
