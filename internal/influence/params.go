package influence

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-outcomes/internal/config"
	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/sysutil"
)

// PreferenceStore is the durable key/value store the trackers persist into.
type PreferenceStore interface {
	GetString(ctx context.Context, key, def string) (string, error)
	PutString(ctx context.Context, key, value string) error
	GetInt(ctx context.Context, key string, def int) (int, error)
	PutInt(ctx context.Context, key string, value int) error
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	PutBool(ctx context.Context, key string, value bool) error
	Delete(ctx context.Context, key string) error
}

// ChannelParams are the remote-config values of one channel.
type ChannelParams struct {
	Limit               int  `json:"limit"`
	WindowMinutes       int  `json:"window_minutes"`
	DirectEnabled       bool `json:"direct_enabled"`
	IndirectEnabled     bool `json:"indirect_enabled"`
	UnattributedEnabled bool `json:"unattributed_enabled"`
}

// WindowMillis is the attribution window in milliseconds.
func (p ChannelParams) WindowMillis() int64 { return int64(p.WindowMinutes) * 60_000 }

// RemoteParams is a full set of server-delivered attribution settings.
type RemoteParams struct {
	Notification ChannelParams `json:"notification"`
	IAM          ChannelParams `json:"iam"`
	OutcomesV2   bool          `json:"outcomes_v2"`
}

// Params reads remote-config values from the Preference Store, falling back
// to the configured defaults when a value was never delivered.
type Params struct {
	store    PreferenceStore
	defaults config.AttributionDefaults
	log      zerolog.Logger
}

// NewParams returns a Params reader over store.
func NewParams(store PreferenceStore, defaults config.AttributionDefaults) *Params {
	return &Params{store: store, defaults: defaults, log: sysutil.Component("params")}
}

func (p *Params) channelDefaults(ch domain.Channel) ChannelParams {
	d := p.defaults.Notification
	if ch == domain.ChannelIAM {
		d = p.defaults.IAM
	}
	return ChannelParams{
		Limit:               d.Limit,
		WindowMinutes:       d.WindowMinutes,
		DirectEnabled:       p.defaults.DirectEnabled,
		IndirectEnabled:     p.defaults.IndirectEnabled,
		UnattributedEnabled: p.defaults.UnattributedEnabled,
	}
}

// Channel returns the effective params of ch.
func (p *Params) Channel(ctx context.Context, ch domain.Channel) (ChannelParams, error) {
	def := p.channelDefaults(ch)
	out := def
	var err error

	if out.Limit, err = p.store.GetInt(ctx, channelKey(keyChannelLimit, ch), def.Limit); err != nil {
		return def, err
	}
	if out.Limit < 1 {
		p.log.Warn().Str("channel", string(ch)).Int("limit", out.Limit).Msg("invalid channel limit, using default")
		out.Limit = def.Limit
	}
	if out.WindowMinutes, err = p.store.GetInt(ctx, channelKey(keyAttributionWindow, ch), def.WindowMinutes); err != nil {
		return def, err
	}
	if out.WindowMinutes < 0 {
		p.log.Warn().Str("channel", string(ch)).Int("window", out.WindowMinutes).Msg("invalid attribution window, using default")
		out.WindowMinutes = def.WindowMinutes
	}
	if out.DirectEnabled, err = p.store.GetBool(ctx, channelKey(keyDirectEnabled, ch), def.DirectEnabled); err != nil {
		return def, err
	}
	if out.IndirectEnabled, err = p.store.GetBool(ctx, channelKey(keyIndirectEnabled, ch), def.IndirectEnabled); err != nil {
		return def, err
	}
	if out.UnattributedEnabled, err = p.store.GetBool(ctx, channelKey(keyUnattributedEnabled, ch), def.UnattributedEnabled); err != nil {
		return def, err
	}
	return out, nil
}

// OutcomesV2Enabled reports whether the V2 measurement schema is selected.
func (p *Params) OutcomesV2Enabled(ctx context.Context) (bool, error) {
	return p.store.GetBool(ctx, keyOutcomesV2Enabled, p.defaults.OutcomesV2)
}

// Save persists a full set of remote params.
func (p *Params) Save(ctx context.Context, rp RemoteParams) error {
	if rp.Notification.Limit < 1 || rp.IAM.Limit < 1 {
		return ErrInvalidParams
	}
	if rp.Notification.WindowMinutes < 0 || rp.IAM.WindowMinutes < 0 {
		return ErrInvalidParams
	}
	for ch, cp := range map[domain.Channel]ChannelParams{
		domain.ChannelNotification: rp.Notification,
		domain.ChannelIAM:          rp.IAM,
	} {
		if err := p.saveChannel(ctx, ch, cp); err != nil {
			return err
		}
	}
	if err := p.store.PutBool(ctx, keyOutcomesV2Enabled, rp.OutcomesV2); err != nil {
		return eris.Wrap(err, "save outcomes v2 flag")
	}
	p.log.Info().Bool("outcomes_v2", rp.OutcomesV2).Msg("remote params saved")
	return nil
}

func (p *Params) saveChannel(ctx context.Context, ch domain.Channel, cp ChannelParams) error {
	if err := p.store.PutInt(ctx, channelKey(keyChannelLimit, ch), cp.Limit); err != nil {
		return eris.Wrapf(err, "save %s limit", ch)
	}
	if err := p.store.PutInt(ctx, channelKey(keyAttributionWindow, ch), cp.WindowMinutes); err != nil {
		return eris.Wrapf(err, "save %s window", ch)
	}
	if err := p.store.PutBool(ctx, channelKey(keyDirectEnabled, ch), cp.DirectEnabled); err != nil {
		return eris.Wrapf(err, "save %s direct flag", ch)
	}
	if err := p.store.PutBool(ctx, channelKey(keyIndirectEnabled, ch), cp.IndirectEnabled); err != nil {
		return eris.Wrapf(err, "save %s indirect flag", ch)
	}
	if err := p.store.PutBool(ctx, channelKey(keyUnattributedEnabled, ch), cp.UnattributedEnabled); err != nil {
		return eris.Wrapf(err, "save %s unattributed flag", ch)
	}
	return nil
}
