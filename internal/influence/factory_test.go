package influence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-outcomes/internal/domain"
)

func channelsOf(ts []*Tracker) []domain.Channel {
	out := make([]domain.Channel, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Channel())
	}
	return out
}

func TestChannelsToResetForEntryAction(t *testing.T) {
	f := newFixture(t).factory
	tests := []struct {
		action domain.EntryAction
		want   []domain.Channel
	}{
		{domain.EntryAppClose, []domain.Channel{}},
		{domain.EntryAppOpen, []domain.Channel{domain.ChannelIAM}},
		{domain.EntryNotificationClick, []domain.Channel{domain.ChannelIAM}},
		{domain.EntryAppOpenNormal, []domain.Channel{domain.ChannelNotification, domain.ChannelIAM}},
	}
	for _, tc := range tests {
		t.Run(string(tc.action), func(t *testing.T) {
			assert.Equal(t, tc.want, channelsOf(f.ChannelsToResetForEntryAction(tc.action)))
		})
	}
}

func TestTracker_UnknownChannel(t *testing.T) {
	f := newFixture(t).factory
	_, err := f.Tracker("sms")
	assert.ErrorIs(t, err, ErrUnknownChannel)

	tr, err := f.Tracker(domain.ChannelIAM)
	require.NoError(t, err)
	assert.Same(t, f.IAM(), tr)
}

func TestSessionInfluences_ExcludeIAM(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.factory.IAM().SetDirectID(ctx, "M1"))
	require.NoError(t, f.factory.Notification().SetDirectID(ctx, "N1"))

	session, err := f.factory.SessionInfluences(ctx)
	require.NoError(t, err)
	require.Len(t, session, 1)
	assert.Equal(t, domain.ChannelNotification, session[0].Channel)

	all, err := f.factory.Influences(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.Influence{Channel: domain.ChannelIAM, Type: domain.InfluenceDirect, IDs: []string{"M1"}}, all[1])

	attr, err := f.factory.SessionAttribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, attr["direct"])
}

func TestInitFromCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.factory.Notification().SetDirectID(ctx, "N1"))
	require.NoError(t, f.factory.IAM().RecordReceived(ctx, "M1"))
	require.NoError(t, f.factory.IAM().ResetAndInitInfluence(ctx))

	// a fresh factory over the same store simulates a cold start
	cold := NewTrackerFactory(f.prefs, f.params, f.clock)
	require.NoError(t, cold.InitFromCache(ctx))

	n := cold.Notification().State()
	assert.Equal(t, domain.InfluenceDirect, n.Type)
	assert.Equal(t, "N1", n.DirectID)

	iam := cold.IAM().State()
	assert.Equal(t, domain.InfluenceIndirect, iam.Type)
	assert.Equal(t, []string{"M1"}, iam.IndirectIDs)
}

func TestInitFromCache_NothingCachedResets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.factory.Notification().RecordReceived(ctx, "A"))

	cold := NewTrackerFactory(f.prefs, f.params, f.clock)
	require.NoError(t, cold.InitFromCache(ctx))
	assert.Equal(t, domain.InfluenceIndirect, cold.Notification().State().Type)
	assert.Equal(t, domain.InfluenceUnattributed, cold.IAM().State().Type)
}

func TestInitFromCache_DirectWithoutIDRecomputes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.prefs.PutString(ctx, "cached_influence_type.notification", "DIRECT"))

	require.NoError(t, f.factory.InitFromCache(ctx))
	assert.Equal(t, domain.InfluenceUnattributed, f.factory.Notification().State().Type)
}

func TestParams_DefaultsAndInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cp, err := f.params.Channel(ctx, domain.ChannelIAM)
	require.NoError(t, err)
	assert.Equal(t, defaultChannelParams(), cp)

	require.NoError(t, f.prefs.PutInt(ctx, "channel_limit.iam", 0))
	cp, err = f.params.Channel(ctx, domain.ChannelIAM)
	require.NoError(t, err)
	assert.Equal(t, 10, cp.Limit)

	bad := defaultChannelParams()
	bad.Limit = 0
	assert.ErrorIs(t, f.params.Save(ctx, RemoteParams{Notification: bad, IAM: defaultChannelParams()}), ErrInvalidParams)

	v2, err := f.params.OutcomesV2Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, v2)
	require.NoError(t, f.params.Save(ctx, RemoteParams{Notification: defaultChannelParams(), IAM: defaultChannelParams(), OutcomesV2: true}))
	v2, err = f.params.OutcomesV2Enabled(ctx)
	require.NoError(t, err)
	assert.True(t, v2)
}
