package influence

import (
	"context"

	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/sysutil"
)

// TrackerFactory owns one Tracker per channel and the AttributionState they
// share. It decides which channels a session boundary resets.
type TrackerFactory struct {
	state    *AttributionState
	params   *Params
	trackers map[domain.Channel]*Tracker
}

// NewTrackerFactory builds a tracker for every known channel.
func NewTrackerFactory(store PreferenceStore, params *Params, clock sysutil.Clock) *TrackerFactory {
	if clock == nil {
		clock = sysutil.SystemClock{}
	}
	f := &TrackerFactory{
		state:    NewAttributionState(),
		params:   params,
		trackers: make(map[domain.Channel]*Tracker, len(domain.Channels)),
	}
	for _, ch := range domain.Channels {
		policy, _ := PolicyFor(ch)
		f.trackers[ch] = newTracker(policy, store, params, clock, f.state.channel(ch))
	}
	return f
}

// Params returns the remote-config reader shared by the trackers.
func (f *TrackerFactory) Params() *Params { return f.params }

// Tracker returns the tracker of ch.
func (f *TrackerFactory) Tracker(ch domain.Channel) (*Tracker, error) {
	t, ok := f.trackers[ch]
	if !ok {
		return nil, ErrUnknownChannel
	}
	return t, nil
}

// Notification returns the notification tracker.
func (f *TrackerFactory) Notification() *Tracker { return f.trackers[domain.ChannelNotification] }

// IAM returns the in-app-message tracker.
func (f *TrackerFactory) IAM() *Tracker { return f.trackers[domain.ChannelIAM] }

// Trackers returns every tracker in channel order.
func (f *TrackerFactory) Trackers() []*Tracker {
	out := make([]*Tracker, 0, len(domain.Channels))
	for _, ch := range domain.Channels {
		out = append(out, f.trackers[ch])
	}
	return out
}

// InitFromCache hydrates every tracker from the Preference Store.
func (f *TrackerFactory) InitFromCache(ctx context.Context) error {
	for _, t := range f.Trackers() {
		if err := t.InitFromCache(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ChannelsToResetForEntryAction returns the trackers a session boundary
// caused by action must reset. APP_CLOSE resets nothing. A notification tap
// keeps the notification channel so its direct open survives into the new
// session. Anything else resets every channel.
func (f *TrackerFactory) ChannelsToResetForEntryAction(action domain.EntryAction) []*Tracker {
	switch {
	case action.IsAppClose():
		return nil
	case action.IsNotificationTap():
		return []*Tracker{f.IAM()}
	default:
		return f.Trackers()
	}
}

// ChannelForEntryAction returns the tracker directly credited by action, or
// nil when the action is not a direct open.
func (f *TrackerFactory) ChannelForEntryAction(action domain.EntryAction) *Tracker {
	if action.IsNotificationTap() {
		return f.Notification()
	}
	return nil
}

// SessionInfluences aggregates the current influence of every channel that
// contributes to session heartbeat calls.
func (f *TrackerFactory) SessionInfluences(ctx context.Context) ([]domain.Influence, error) {
	var out []domain.Influence
	for _, t := range f.Trackers() {
		if !t.policy.ContributesToSession {
			continue
		}
		inf, err := t.CurrentSessionInfluence(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, inf)
	}
	return out, nil
}

// Influences returns the current influence of every channel, as credited in
// outcome payloads.
func (f *TrackerFactory) Influences(ctx context.Context) ([]domain.Influence, error) {
	out := make([]domain.Influence, 0, len(f.trackers))
	for _, t := range f.Trackers() {
		inf, err := t.CurrentSessionInfluence(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, inf)
	}
	return out, nil
}

// SessionAttribution merges the heartbeat annotations of every contributing
// channel. It is empty when no channel is attributed.
func (f *TrackerFactory) SessionAttribution(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	for _, t := range f.Trackers() {
		data, err := t.SessionData(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range data {
			out[k] = v
		}
	}
	return out, nil
}
