// Package influence tracks, per channel, which recently received messages may
// be credited for a conversion. One Tracker type serves every channel; the
// per-channel differences live in a ChannelPolicy table.
package influence

import "github.com/tbourn/go-outcomes/internal/domain"

// ChannelPolicy is the data-driven variation point between channels.
type ChannelPolicy struct {
	Channel domain.Channel
	// DedupOnReceive purges earlier ledger entries with the same id before
	// appending, so a redisplayed message does not accumulate duplicates.
	DedupOnReceive bool
	// ContributesToSession includes the channel in session heartbeat payloads.
	ContributesToSession bool
	// PersistDirect caches DIRECT and the direct id across restarts. Channels
	// without it persist a DIRECT classification as INDIRECT.
	PersistDirect bool
}

var policies = map[domain.Channel]ChannelPolicy{
	domain.ChannelNotification: {
		Channel:              domain.ChannelNotification,
		DedupOnReceive:       false,
		ContributesToSession: true,
		PersistDirect:        true,
	},
	domain.ChannelIAM: {
		Channel:              domain.ChannelIAM,
		DedupOnReceive:       true,
		ContributesToSession: false,
		PersistDirect:        false,
	},
}

// PolicyFor returns the policy of ch.
func PolicyFor(ch domain.Channel) (ChannelPolicy, bool) {
	p, ok := policies[ch]
	return p, ok
}

// Preference keys. Channel-scoped keys are suffixed with the channel name.
const (
	keyInfluenceType        = "cached_influence_type."
	keyDirectID             = "cached_direct_id."
	keyReceivedLedger       = "received_ledger."
	keyChannelLimit         = "channel_limit."
	keyAttributionWindow    = "attribution_window_minutes."
	keyDirectEnabled        = "direct_enabled."
	keyIndirectEnabled      = "indirect_enabled."
	keyUnattributedEnabled  = "unattributed_enabled."
	keyOutcomesV2Enabled    = "outcomes_v2_service_enabled"
	keyUnattributedUniqueOK = "unattributed_unique_outcomes_sent"
)

func channelKey(prefix string, ch domain.Channel) string { return prefix + string(ch) }

// UnattributedUniqueOutcomesKey is the preference key of the set of outcome
// names already sent as unattributed unique outcomes.
const UnattributedUniqueOutcomesKey = keyUnattributedUniqueOK
