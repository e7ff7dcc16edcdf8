package influence

import (
	"sync"

	"github.com/tbourn/go-outcomes/internal/domain"
)

// ChannelState is the in-memory attribution of one channel.
type ChannelState struct {
	Type        domain.InfluenceType `json:"influence_type"`
	DirectID    string               `json:"direct_id,omitempty"`
	IndirectIDs []string             `json:"indirect_ids,omitempty"`
}

func (s ChannelState) copy() ChannelState {
	out := s
	if s.IndirectIDs != nil {
		out.IndirectIDs = append([]string(nil), s.IndirectIDs...)
	}
	return out
}

// AttributionState holds every channel's ChannelState. One instance is
// constructed per process and owned by the TrackerFactory; each channel's
// entry is guarded by that channel's tracker lock.
type AttributionState struct {
	mu       sync.Mutex
	channels map[domain.Channel]*ChannelState
}

// NewAttributionState returns an empty state with every channel UNATTRIBUTED.
func NewAttributionState() *AttributionState {
	s := &AttributionState{channels: make(map[domain.Channel]*ChannelState, len(domain.Channels))}
	for _, ch := range domain.Channels {
		s.channels[ch] = &ChannelState{Type: domain.InfluenceUnattributed}
	}
	return s
}

func (s *AttributionState) channel(ch domain.Channel) *ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.channels[ch]
	if !ok {
		cs = &ChannelState{Type: domain.InfluenceUnattributed}
		s.channels[ch] = cs
	}
	return cs
}
