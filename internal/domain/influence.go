// Package domain defines the attribution vocabulary shared by the trackers,
// the outcome cache and the measurement services: channels, influence types,
// entry actions and the outcome event shapes sent to the backend.
package domain

import "strings"

// Channel identifies a source of attributable messages. It is used as a
// partition key for ledgers, cached influence state and dedup rows.
type Channel string

const (
	ChannelNotification Channel = "notification"
	ChannelIAM          Channel = "iam"
)

// Channels lists every channel in a stable order.
var Channels = []Channel{ChannelNotification, ChannelIAM}

// ParseChannel accepts the canonical name and a few aliases.
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "notification", "notifications":
		return ChannelNotification, true
	case "iam", "in_app_message", "in_app_messages":
		return ChannelIAM, true
	}
	return "", false
}

// InfluenceType classifies why a conversion is credited.
type InfluenceType string

const (
	InfluenceDirect       InfluenceType = "DIRECT"
	InfluenceIndirect     InfluenceType = "INDIRECT"
	InfluenceUnattributed InfluenceType = "UNATTRIBUTED"
	InfluenceDisabled     InfluenceType = "DISABLED"
)

// ParseInfluenceType maps a stored string back to an InfluenceType. Unknown
// or empty values map to UNATTRIBUTED.
func ParseInfluenceType(s string) InfluenceType {
	switch InfluenceType(strings.ToUpper(strings.TrimSpace(s))) {
	case InfluenceDirect:
		return InfluenceDirect
	case InfluenceIndirect:
		return InfluenceIndirect
	case InfluenceDisabled:
		return InfluenceDisabled
	default:
		return InfluenceUnattributed
	}
}

func (t InfluenceType) IsDirect() bool       { return t == InfluenceDirect }
func (t InfluenceType) IsIndirect() bool     { return t == InfluenceIndirect }
func (t InfluenceType) IsAttributed() bool   { return t == InfluenceDirect || t == InfluenceIndirect }
func (t InfluenceType) IsUnattributed() bool { return t == InfluenceUnattributed }
func (t InfluenceType) IsDisabled() bool     { return t == InfluenceDisabled }

// EntryAction is the reason the app came to the foreground (or left it).
type EntryAction string

const (
	// EntryAppOpen is a foreground caused by a notification tap.
	EntryAppOpen EntryAction = "APP_OPEN"
	// EntryAppClose is a backgrounding; attribution state is preserved.
	EntryAppClose EntryAction = "APP_CLOSE"
	// EntryNotificationClick is a notification tap while the app is running.
	EntryNotificationClick EntryAction = "NOTIFICATION_CLICK"
	// EntryAppOpenNormal is any foreground not caused by a notification.
	EntryAppOpenNormal EntryAction = "APP_OPEN_NORMAL"
)

// ParseEntryAction returns the entry action for s, or false when s is unknown.
func ParseEntryAction(s string) (EntryAction, bool) {
	switch a := EntryAction(strings.ToUpper(strings.TrimSpace(s))); a {
	case EntryAppOpen, EntryAppClose, EntryNotificationClick, EntryAppOpenNormal:
		return a, true
	}
	return "", false
}

// IsNotificationTap reports whether the action was caused by tapping a notification.
func (a EntryAction) IsNotificationTap() bool {
	return a == EntryAppOpen || a == EntryNotificationClick
}

func (a EntryAction) IsAppClose() bool { return a == EntryAppClose }

// Influence is one channel's current attribution: its type plus the message
// ids credited under that type.
type Influence struct {
	Channel Channel       `json:"channel"`
	Type    InfluenceType `json:"influence_type"`
	IDs     []string      `json:"ids"`
}

// Copy returns a deep copy so callers can narrow IDs without aliasing.
func (i Influence) Copy() Influence {
	out := i
	if i.IDs != nil {
		out.IDs = append([]string(nil), i.IDs...)
	}
	return out
}

// ReceivedRecord is one entry of a channel's received-id ledger.
type ReceivedRecord struct {
	ID   string `json:"id"`
	Time int64  `json:"time"`
}
