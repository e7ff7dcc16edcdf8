package domain

// OutcomeSourceBody holds the ids of one attribution bucket (direct or
// indirect) split by channel.
type OutcomeSourceBody struct {
	NotificationIDs  []string `json:"notification_ids,omitempty"`
	InAppMessagesIDs []string `json:"in_app_message_ids,omitempty"`
}

// IDs returns the body's ids for a channel.
func (b *OutcomeSourceBody) IDs(ch Channel) []string {
	if b == nil {
		return nil
	}
	if ch == ChannelIAM {
		return b.InAppMessagesIDs
	}
	return b.NotificationIDs
}

// SetIDs replaces the body's ids for a channel.
func (b *OutcomeSourceBody) SetIDs(ch Channel, ids []string) {
	if ch == ChannelIAM {
		b.InAppMessagesIDs = ids
		return
	}
	b.NotificationIDs = ids
}

func (b *OutcomeSourceBody) empty() bool {
	return b == nil || (len(b.NotificationIDs) == 0 && len(b.InAppMessagesIDs) == 0)
}

// OutcomeSource carries up to four (channel × direct/indirect) fragments. A
// single conversion can be direct on one channel and indirect on another.
type OutcomeSource struct {
	DirectBody   *OutcomeSourceBody `json:"direct,omitempty"`
	IndirectBody *OutcomeSourceBody `json:"indirect,omitempty"`
}

// InfluenceType returns the type recorded for a channel: DIRECT when the
// direct body has ids for it, INDIRECT when the indirect body does, and
// UNATTRIBUTED otherwise.
func (s *OutcomeSource) InfluenceType(ch Channel) InfluenceType {
	if s == nil {
		return InfluenceUnattributed
	}
	if len(s.DirectBody.IDs(ch)) > 0 {
		return InfluenceDirect
	}
	if len(s.IndirectBody.IDs(ch)) > 0 {
		return InfluenceIndirect
	}
	return InfluenceUnattributed
}

// IDs returns the ids for a channel in whichever bucket holds them.
func (s *OutcomeSource) IDs(ch Channel) []string {
	switch s.InfluenceType(ch) {
	case InfluenceDirect:
		return s.DirectBody.IDs(ch)
	case InfluenceIndirect:
		return s.IndirectBody.IDs(ch)
	}
	return nil
}

// OutcomeEventParams is a reported outcome, persisted until the backend
// acknowledges it.
type OutcomeEventParams struct {
	OutcomeID string         `json:"id"`
	Source    *OutcomeSource `json:"sources,omitempty"`
	Weight    float64        `json:"weight,omitempty"`
	// Timestamp is in milliseconds and doubles as the cache delete key.
	Timestamp int64 `json:"-"`
	// Unique marks events whose ids must be recorded for dedup once sent.
	Unique bool `json:"-"`
}

// IsUnattributed reports whether no channel contributed ids.
func (p *OutcomeEventParams) IsUnattributed() bool {
	return p.Source == nil || (p.Source.DirectBody.empty() && p.Source.IndirectBody.empty())
}

// OutcomeEvent is the flattened single-channel view used by the V1 schema,
// which predates multi-channel influence and only knows notification ids.
type OutcomeEvent struct {
	Session         InfluenceType `json:"session"`
	NotificationIDs []string      `json:"notification_ids,omitempty"`
	Name            string        `json:"id"`
	Timestamp       int64         `json:"timestamp,omitempty"`
	Weight          float64       `json:"weight,omitempty"`
}

// OutcomeEventFromParams flattens params into the V1 view: direct
// notification ids win over indirect ones, IAM ids are dropped.
func OutcomeEventFromParams(p OutcomeEventParams) OutcomeEvent {
	ev := OutcomeEvent{
		Session:   InfluenceUnattributed,
		Name:      p.OutcomeID,
		Timestamp: p.Timestamp,
		Weight:    p.Weight,
	}
	if p.Source == nil {
		return ev
	}
	if ids := p.Source.DirectBody.IDs(ChannelNotification); len(ids) > 0 {
		ev.Session = InfluenceDirect
		ev.NotificationIDs = ids
	} else if ids := p.Source.IndirectBody.IDs(ChannelNotification); len(ids) > 0 {
		ev.Session = InfluenceIndirect
		ev.NotificationIDs = ids
	}
	return ev
}
