package influence

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/sysutil"
)

// Tracker maintains one channel's influence classification and its backing
// received-id ledger. The ledger read-modify-write sequence and every state
// transition run under mu.
type Tracker struct {
	policy ChannelPolicy
	store  PreferenceStore
	params *Params
	clock  sysutil.Clock
	state  *ChannelState
	log    zerolog.Logger

	mu sync.Mutex
}

func newTracker(policy ChannelPolicy, store PreferenceStore, params *Params, clock sysutil.Clock, state *ChannelState) *Tracker {
	return &Tracker{
		policy: policy,
		store:  store,
		params: params,
		clock:  clock,
		state:  state,
		log:    sysutil.Component("tracker").With().Str("channel", string(policy.Channel)).Logger(),
	}
}

// Channel is the tracker's channel tag.
func (t *Tracker) Channel() domain.Channel { return t.policy.Channel }

// Policy returns the tracker's channel policy.
func (t *Tracker) Policy() ChannelPolicy { return t.policy }

// RecordReceived appends id to the ledger, truncates it to the channel limit
// keeping the newest entries, and persists it. The influence type is left
// untouched.
func (t *Tracker) RecordReceived(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cp, err := t.params.Channel(ctx, t.policy.Channel)
	if err != nil {
		return err
	}
	ledger, err := t.loadLedger(ctx)
	if err != nil {
		return err
	}
	if t.policy.DedupOnReceive {
		ledger = slices.DeleteFunc(ledger, func(r domain.ReceivedRecord) bool { return r.ID == id })
	}
	ledger = append(ledger, domain.ReceivedRecord{ID: id, Time: t.clock.NowMillis()})
	if len(ledger) > cp.Limit {
		ledger = ledger[len(ledger)-cp.Limit:]
	}
	if err := t.saveLedger(ctx, ledger); err != nil {
		return err
	}
	receivedTotal.WithLabelValues(string(t.policy.Channel)).Inc()
	t.log.Debug().Str("id", id).Int("ledger_size", len(ledger)).Msg("message received")
	return nil
}

// Ledger returns the persisted received-id ledger in receipt order.
func (t *Tracker) Ledger(ctx context.Context) ([]domain.ReceivedRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLedger(ctx)
}

// LastReceivedIDs returns the ledger ids received within the attribution window.
func (t *Tracker) LastReceivedIDs(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idsInWindow(ctx)
}

// ResetAndInitInfluence clears the direct id and recomputes the indirect ids
// from the ledger window. The result is INDIRECT when any id is in window and
// UNATTRIBUTED otherwise.
func (t *Tracker) ResetAndInitInfluence(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.resetLocked(ctx)
	return err
}

func (t *Tracker) resetLocked(ctx context.Context) (bool, error) {
	ids, err := t.idsInWindow(ctx)
	if err != nil {
		return false, err
	}
	typ := domain.InfluenceUnattributed
	if len(ids) > 0 {
		typ = domain.InfluenceIndirect
	}
	return t.setLocked(ctx, typ, "", ids)
}

// SetDirectID marks id as the direct influence of this channel. Channels whose
// policy persists direct state cache both id and type; the others hold DIRECT
// in memory only and persist INDIRECT.
func (t *Tracker) SetDirectID(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.setLocked(ctx, domain.InfluenceDirect, id, nil)
	return err
}

// setLocked applies a new classification and persists it. It reports whether
// the state actually changed.
func (t *Tracker) setLocked(ctx context.Context, typ domain.InfluenceType, directID string, indirect []string) (bool, error) {
	changed := t.state.Type != typ || t.state.DirectID != directID || !slices.Equal(t.state.IndirectIDs, indirect)
	if err := t.persistLocked(ctx, typ, directID); err != nil {
		return false, err
	}
	t.state.Type = typ
	t.state.DirectID = directID
	t.state.IndirectIDs = indirect
	if changed {
		t.log.Debug().Str("influence_type", string(typ)).Str("direct_id", directID).Strs("indirect_ids", indirect).Msg("influence changed")
	}
	return changed, nil
}

func (t *Tracker) persistLocked(ctx context.Context, typ domain.InfluenceType, directID string) error {
	persisted := typ
	if typ.IsDirect() && !t.policy.PersistDirect {
		persisted = domain.InfluenceIndirect
	}
	if err := t.store.PutString(ctx, channelKey(keyInfluenceType, t.policy.Channel), string(persisted)); err != nil {
		return eris.Wrapf(err, "persist %s influence type", t.policy.Channel)
	}
	if !t.policy.PersistDirect {
		return nil
	}
	if persisted.IsDirect() {
		if err := t.store.PutString(ctx, channelKey(keyDirectID, t.policy.Channel), directID); err != nil {
			return eris.Wrapf(err, "persist %s direct id", t.policy.Channel)
		}
		return nil
	}
	if err := t.store.Delete(ctx, channelKey(keyDirectID, t.policy.Channel)); err != nil {
		return eris.Wrapf(err, "clear %s direct id", t.policy.Channel)
	}
	return nil
}

// CurrentSessionInfluence returns the channel's influence after applying the
// remote enablement flags. A classification whose flag is off reports
// DISABLED with no ids.
func (t *Tracker) CurrentSessionInfluence(ctx context.Context) (domain.Influence, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentLocked(ctx)
}

func (t *Tracker) currentLocked(ctx context.Context) (domain.Influence, error) {
	out := domain.Influence{Channel: t.policy.Channel, Type: domain.InfluenceDisabled}
	cp, err := t.params.Channel(ctx, t.policy.Channel)
	if err != nil {
		return out, err
	}
	switch t.state.Type {
	case domain.InfluenceDirect:
		if cp.DirectEnabled {
			out.Type = domain.InfluenceDirect
			out.IDs = []string{t.state.DirectID}
		}
	case domain.InfluenceIndirect:
		if cp.IndirectEnabled {
			out.Type = domain.InfluenceIndirect
			out.IDs = append([]string(nil), t.state.IndirectIDs...)
		}
	case domain.InfluenceUnattributed:
		if cp.UnattributedEnabled {
			out.Type = domain.InfluenceUnattributed
		}
	}
	return out, nil
}

// State returns a copy of the in-memory classification.
func (t *Tracker) State() ChannelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.copy()
}

// InitFromCache hydrates the classification from the Preference Store. Cached
// INDIRECT rebuilds its ids from the ledger; cached DIRECT reloads the direct
// id. A channel with nothing cached is reset.
func (t *Tracker) InitFromCache(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw, err := t.store.GetString(ctx, channelKey(keyInfluenceType, t.policy.Channel), "")
	if err != nil {
		return err
	}
	if raw == "" {
		_, err := t.resetLocked(ctx)
		return err
	}

	switch domain.ParseInfluenceType(raw) {
	case domain.InfluenceDirect:
		if t.policy.PersistDirect {
			id, err := t.store.GetString(ctx, channelKey(keyDirectID, t.policy.Channel), "")
			if err != nil {
				return err
			}
			if id != "" {
				t.state.Type, t.state.DirectID, t.state.IndirectIDs = domain.InfluenceDirect, id, nil
				return nil
			}
			t.log.Warn().Msg("cached direct influence without id, recomputing")
		}
		_, err := t.resetLocked(ctx)
		return err
	case domain.InfluenceIndirect:
		ids, err := t.idsInWindow(ctx)
		if err != nil {
			return err
		}
		t.state.Type, t.state.DirectID, t.state.IndirectIDs = domain.InfluenceIndirect, "", ids
	default:
		t.state.Type, t.state.DirectID, t.state.IndirectIDs = domain.InfluenceUnattributed, "", nil
	}
	return nil
}

// SessionData is the heartbeat annotation of this channel, or nil when the
// channel does not contribute or is not attributed.
func (t *Tracker) SessionData(ctx context.Context) (map[string]any, error) {
	if !t.policy.ContributesToSession {
		return nil, nil
	}
	inf, err := t.CurrentSessionInfluence(ctx)
	if err != nil {
		return nil, err
	}
	if !inf.Type.IsAttributed() {
		return nil, nil
	}
	return map[string]any{
		"direct":           inf.Type.IsDirect(),
		"notification_ids": inf.IDs,
	}, nil
}

func (t *Tracker) idsInWindow(ctx context.Context) ([]string, error) {
	cp, err := t.params.Channel(ctx, t.policy.Channel)
	if err != nil {
		return nil, err
	}
	ledger, err := t.loadLedger(ctx)
	if err != nil {
		return nil, err
	}
	now := t.clock.NowMillis()
	window := cp.WindowMillis()
	var ids []string
	for _, r := range ledger {
		if now-r.Time <= window {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

// loadLedger reads the ledger. Malformed JSON is logged and read as empty.
func (t *Tracker) loadLedger(ctx context.Context) ([]domain.ReceivedRecord, error) {
	raw, err := t.store.GetString(ctx, channelKey(keyReceivedLedger, t.policy.Channel), "")
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var ledger []domain.ReceivedRecord
	if err := json.Unmarshal([]byte(raw), &ledger); err != nil {
		t.log.Warn().Err(err).Msg("malformed received ledger, treating as empty")
		return nil, nil
	}
	return ledger, nil
}

func (t *Tracker) saveLedger(ctx context.Context, ledger []domain.ReceivedRecord) error {
	if ledger == nil {
		ledger = []domain.ReceivedRecord{}
	}
	b, err := json.Marshal(ledger)
	if err != nil {
		return eris.Wrap(err, "encode received ledger")
	}
	if err := t.store.PutString(ctx, channelKey(keyReceivedLedger, t.policy.Channel), string(b)); err != nil {
		return eris.Wrapf(err, "persist %s ledger", t.policy.Channel)
	}
	return nil
}
