package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess     ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure     ActivityEventType = "auth.login.failure"
	ActivityEventLogout           ActivityEventType = "auth.logout"
	ActivityEventForcedLogout     ActivityEventType = "auth.logout.forced"
	ActivityEventRefreshSuccess   ActivityEventType = "auth.refresh.success"
	ActivityEventRefreshFailure   ActivityEventType = "auth.refresh.failure"
	ActivityEventBootstrapDone    ActivityEventType = "session.bootstrap.completed"
	ActivityEventBootstrapPurge   ActivityEventType = "session.bootstrap.purged"
	ActivityEventSyncReplayLogin  ActivityEventType = "session.sync.replay.login"
	ActivityEventSyncReplayLogout ActivityEventType = "session.sync.replay.logout"
)

// ActorRef identifies who/what triggered a session transition.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about a transition.
type ActivityEvent struct {
	ID         uuid.UUID
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

func newActivityEvent(eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) ActivityEvent {
	if actor == (ActorRef{}) {
		actor = ActorRef{Type: "system"}
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	return ActivityEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		Actor:      actor,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
}
