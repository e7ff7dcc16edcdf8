package influence

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/observer"
	"github.com/tbourn/go-outcomes/internal/sysutil"
)

// SessionEventKind distinguishes the transitions a SessionManager publishes.
type SessionEventKind string

const (
	// SessionRestarted is published on every session boundary except APP_CLOSE.
	SessionRestarted SessionEventKind = "restarted"
	// SessionUpgraded is published when a direct open or click replaces an
	// influence mid-session.
	SessionUpgraded SessionEventKind = "upgraded"
)

// SessionEvent describes one session transition. Ended holds the influences
// that were in effect before the transition replaced them.
type SessionEvent struct {
	Kind        SessionEventKind
	EntryAction domain.EntryAction
	Ended       []domain.Influence
}

// SessionManager turns received/opened/clicked signals and session
// boundaries into tracker transitions.
type SessionManager struct {
	factory *TrackerFactory
	events  *observer.Registry[SessionEvent]
	log     zerolog.Logger
}

// NewSessionManager returns a manager over factory publishing through d.
func NewSessionManager(factory *TrackerFactory, d observer.Dispatcher) *SessionManager {
	return &SessionManager{
		factory: factory,
		events:  observer.New[SessionEvent](d),
		log:     sysutil.Component("session"),
	}
}

// Factory returns the managed TrackerFactory.
func (m *SessionManager) Factory() *TrackerFactory { return m.factory }

// Subscribe registers fn for session events.
func (m *SessionManager) Subscribe(fn func(SessionEvent)) *observer.Subscription {
	return m.events.Subscribe(fn)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("influence/SessionManager").Start(ctx, name, trace.WithAttributes(attrs...))
}

// OnNotificationReceived records a delivered notification.
func (m *SessionManager) OnNotificationReceived(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "OnNotificationReceived", attribute.String("notification.id", id))
	defer span.End()
	return m.factory.Notification().RecordReceived(ctx, id)
}

// OnInAppMessageReceived records a displayed in-app message and reclassifies
// the in-app-message channel at once.
func (m *SessionManager) OnInAppMessageReceived(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "OnInAppMessageReceived", attribute.String("iam.id", id))
	defer span.End()
	t := m.factory.IAM()
	if err := t.RecordReceived(ctx, id); err != nil {
		return err
	}
	return t.ResetAndInitInfluence(ctx)
}

// RestartSessionIfNeeded applies the session-boundary policy of action.
func (m *SessionManager) RestartSessionIfNeeded(ctx context.Context, action domain.EntryAction) error {
	ctx, span := startSpan(ctx, "RestartSessionIfNeeded", attribute.String("entry_action", string(action)))
	defer span.End()

	if action.IsAppClose() {
		return nil
	}
	var ended []domain.Influence
	for _, t := range m.factory.ChannelsToResetForEntryAction(action) {
		before, changed, err := t.transition(ctx, func() (bool, error) { return t.resetLocked(ctx) })
		if err != nil {
			return err
		}
		if changed {
			ended = append(ended, before)
		}
	}
	sessionTransitions.WithLabelValues(string(SessionRestarted)).Inc()
	m.log.Debug().Str("entry_action", string(action)).Int("ended", len(ended)).Msg("session restarted")
	m.events.Notify(SessionEvent{Kind: SessionRestarted, EntryAction: action, Ended: ended})
	return nil
}

// OnDirectInfluenceFromNotificationOpen credits id directly and upgrades the
// remaining channels of the session.
func (m *SessionManager) OnDirectInfluenceFromNotificationOpen(ctx context.Context, action domain.EntryAction, id string) error {
	ctx, span := startSpan(ctx, "OnDirectInfluenceFromNotificationOpen",
		attribute.String("entry_action", string(action)),
		attribute.String("notification.id", id),
	)
	defer span.End()

	if id == "" {
		return ErrEmptyID
	}
	if !action.IsNotificationTap() {
		return eris.Wrapf(ErrNotDirectOpen, "entry action %s", action)
	}
	return m.attemptSessionUpgrade(ctx, action, id)
}

// AttemptSessionUpgrade promotes UNATTRIBUTED channels that have ids in
// window to INDIRECT.
func (m *SessionManager) AttemptSessionUpgrade(ctx context.Context, action domain.EntryAction) error {
	ctx, span := startSpan(ctx, "AttemptSessionUpgrade", attribute.String("entry_action", string(action)))
	defer span.End()
	return m.attemptSessionUpgrade(ctx, action, "")
}

func (m *SessionManager) attemptSessionUpgrade(ctx context.Context, action domain.EntryAction, directID string) error {
	var ended []domain.Influence

	if t := m.factory.ChannelForEntryAction(action); t != nil && directID != "" {
		before, changed, err := t.transition(ctx, func() (bool, error) {
			return t.setLocked(ctx, domain.InfluenceDirect, directID, nil)
		})
		if err != nil {
			return err
		}
		if changed {
			ended = append(ended, before)
		}
	}

	if !action.IsAppClose() {
		for _, t := range m.factory.ChannelsToResetForEntryAction(action) {
			before, changed, err := t.transition(ctx, func() (bool, error) {
				if !t.state.Type.IsUnattributed() {
					return false, nil
				}
				ids, err := t.idsInWindow(ctx)
				if err != nil || len(ids) == 0 {
					return false, err
				}
				return t.setLocked(ctx, domain.InfluenceIndirect, "", ids)
			})
			if err != nil {
				return err
			}
			if changed {
				ended = append(ended, before)
			}
		}
	}

	if len(ended) == 0 {
		return nil
	}
	sessionTransitions.WithLabelValues(string(SessionUpgraded)).Inc()
	m.log.Debug().Str("entry_action", string(action)).Int("ended", len(ended)).Msg("session upgraded")
	m.events.Notify(SessionEvent{Kind: SessionUpgraded, EntryAction: action, Ended: ended})
	return nil
}

// OnDirectInfluenceFromIAMClick credits an in-app message directly for the
// rest of the session.
func (m *SessionManager) OnDirectInfluenceFromIAMClick(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "OnDirectInfluenceFromIAMClick", attribute.String("iam.id", id))
	defer span.End()

	if id == "" {
		return ErrEmptyID
	}
	t := m.factory.IAM()
	before, changed, err := t.transition(ctx, func() (bool, error) {
		return t.setLocked(ctx, domain.InfluenceDirect, id, nil)
	})
	if err != nil || !changed {
		return err
	}
	sessionTransitions.WithLabelValues(string(SessionUpgraded)).Inc()
	m.events.Notify(SessionEvent{Kind: SessionUpgraded, Ended: []domain.Influence{before}})
	return nil
}

// OnDirectInfluenceFromIAMClickFinished ends a direct in-app-message credit.
func (m *SessionManager) OnDirectInfluenceFromIAMClickFinished(ctx context.Context) error {
	ctx, span := startSpan(ctx, "OnDirectInfluenceFromIAMClickFinished")
	defer span.End()
	return m.factory.IAM().ResetAndInitInfluence(ctx)
}

// SessionInfluences returns the influences annotating heartbeat calls.
func (m *SessionManager) SessionInfluences(ctx context.Context) ([]domain.Influence, error) {
	return m.factory.SessionInfluences(ctx)
}

// Influences returns the influences credited by outcomes.
func (m *SessionManager) Influences(ctx context.Context) ([]domain.Influence, error) {
	return m.factory.Influences(ctx)
}

// SessionAttribution returns the heartbeat annotation.
func (m *SessionManager) SessionAttribution(ctx context.Context) (map[string]any, error) {
	return m.factory.SessionAttribution(ctx)
}

// transition runs fn under the tracker lock and returns the influence in
// effect before it.
func (t *Tracker) transition(ctx context.Context, fn func() (bool, error)) (domain.Influence, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	before, err := t.currentLocked(ctx)
	if err != nil {
		return before, false, err
	}
	changed, err := fn()
	return before, changed, err
}
