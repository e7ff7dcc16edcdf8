package outcomes

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-outcomes/internal/domain"
	"github.com/tbourn/go-outcomes/internal/influence"
	"github.com/tbourn/go-outcomes/internal/repo"
	"github.com/tbourn/go-outcomes/internal/sysutil"
)

// maxTimestampBumps bounds how far SaveOutcomeEvent shifts a colliding
// timestamp before giving up.
const maxTimestampBumps = 1000

// StringSetStore persists small string sets.
type StringSetStore interface {
	GetStringSet(ctx context.Context, key string) ([]string, error)
	PutStringSet(ctx context.Context, key string, values []string) error
	Delete(ctx context.Context, key string) error
}

// Cache is the durable queue of pending outcome events and the unique
// outcome dedup store. Every call completes its writes before returning.
type Cache struct {
	db   *gorm.DB
	sets StringSetStore
	log  zerolog.Logger

	setMu sync.Mutex
}

// NewCache returns a cache over db, keeping name sets in sets.
func NewCache(db *gorm.DB, sets StringSetStore) *Cache {
	return &Cache{db: db, sets: sets, log: sysutil.Component("outcome_cache")}
}

// SaveOutcomeEvent inserts a pending row for p. The timestamp is the delete
// key, so a colliding timestamp is moved forward one millisecond at a time;
// p.Timestamp holds the stored value afterwards.
func (c *Cache) SaveOutcomeEvent(ctx context.Context, p *domain.OutcomeEventParams) error {
	row, err := toRow(*p)
	if err != nil {
		return err
	}
	for i := 0; i < maxTimestampBumps; i++ {
		row.ID = ""
		row.Timestamp = p.Timestamp
		err = repo.InsertOutcomeEvent(ctx, c.db, &row)
		if !errors.Is(err, repo.ErrDuplicate) {
			break
		}
		p.Timestamp++
	}
	if err != nil {
		return eris.Wrapf(err, "save outcome event %q", p.OutcomeID)
	}
	c.refreshPending(ctx)
	c.log.Debug().Str("name", p.OutcomeID).Int64("timestamp", p.Timestamp).Msg("outcome event saved")
	return nil
}

// GetAllEventsToSend returns every pending event, oldest first.
func (c *Cache) GetAllEventsToSend(ctx context.Context) ([]domain.OutcomeEventParams, error) {
	rows, err := repo.ListOutcomeEvents(ctx, c.db)
	if err != nil {
		return nil, eris.Wrap(err, "list outcome events")
	}
	out := make([]domain.OutcomeEventParams, 0, len(rows))
	for _, r := range rows {
		out = append(out, c.fromRow(r))
	}
	return out, nil
}

// PendingPage returns one page of pending events and the total count.
func (c *Cache) PendingPage(ctx context.Context, offset, limit int) ([]domain.OutcomeEventParams, int64, error) {
	total, err := repo.CountOutcomeEvents(ctx, c.db)
	if err != nil {
		return nil, 0, eris.Wrap(err, "count outcome events")
	}
	rows, err := repo.ListOutcomeEventsPage(ctx, c.db, offset, limit)
	if err != nil {
		return nil, 0, eris.Wrap(err, "list outcome events")
	}
	out := make([]domain.OutcomeEventParams, 0, len(rows))
	for _, r := range rows {
		out = append(out, c.fromRow(r))
	}
	return out, total, nil
}

// DeleteOldOutcomeEvent removes the row of an acknowledged event.
func (c *Cache) DeleteOldOutcomeEvent(ctx context.Context, p domain.OutcomeEventParams) error {
	n, err := repo.DeleteOutcomeEventByTimestamp(ctx, c.db, p.Timestamp)
	if err != nil {
		return eris.Wrapf(err, "delete outcome event %d", p.Timestamp)
	}
	if n == 0 {
		c.log.Warn().Int64("timestamp", p.Timestamp).Msg("acknowledged outcome event was not cached")
	}
	c.refreshPending(ctx)
	return nil
}

// SaveUniqueOutcomeEventParams records every id credited by p, direct or
// indirect, on every channel. Call it only after a successful send.
func (c *Cache) SaveUniqueOutcomeEventParams(ctx context.Context, p domain.OutcomeEventParams) error {
	if p.Source == nil {
		return nil
	}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, body := range []*domain.OutcomeSourceBody{p.Source.DirectBody, p.Source.IndirectBody} {
			for _, ch := range domain.Channels {
				for _, id := range body.IDs(ch) {
					if err := repo.InsertCachedUniqueOutcome(ctx, tx, id, ch, p.OutcomeID); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "save unique outcome %q", p.OutcomeID)
	}
	return nil
}

// GetNotCachedUniqueInfluencesForOutcome narrows each attributed influence to
// the ids not yet credited for name. Ids held by a pending unique event for
// the same name count as credited. Influences left without ids, and
// influences that are not attributed, are dropped.
func (c *Cache) GetNotCachedUniqueInfluencesForOutcome(ctx context.Context, name string, influences []domain.Influence) ([]domain.Influence, error) {
	pending, err := c.pendingUniqueIDs(ctx, name)
	if err != nil {
		return nil, err
	}

	var out []domain.Influence
	for _, inf := range influences {
		if !inf.Type.IsAttributed() || len(inf.IDs) == 0 {
			continue
		}
		cached, err := repo.CachedUniqueOutcomeIDs(ctx, c.db, inf.Channel, name, inf.IDs)
		if err != nil {
			return nil, eris.Wrapf(err, "lookup unique outcome %q", name)
		}
		seen := make(map[string]struct{}, len(cached))
		for _, id := range cached {
			seen[id] = struct{}{}
		}
		for id := range pending[inf.Channel] {
			seen[id] = struct{}{}
		}
		narrowed := inf.Copy()
		narrowed.IDs = narrowed.IDs[:0]
		for _, id := range inf.IDs {
			if _, ok := seen[id]; !ok {
				narrowed.IDs = append(narrowed.IDs, id)
			}
		}
		if len(narrowed.IDs) > 0 {
			out = append(out, narrowed)
		}
	}
	return out, nil
}

// pendingUniqueIDs collects, per channel, the ids credited by queued unique
// events reported under name.
func (c *Cache) pendingUniqueIDs(ctx context.Context, name string) (map[domain.Channel]map[string]struct{}, error) {
	rows, err := repo.ListPendingUniqueOutcomeEvents(ctx, c.db, name)
	if err != nil {
		return nil, eris.Wrapf(err, "list pending unique outcome %q", name)
	}
	out := make(map[domain.Channel]map[string]struct{})
	for _, r := range rows {
		p := c.fromRow(r)
		for _, ch := range domain.Channels {
			for _, id := range p.Source.IDs(ch) {
				if out[ch] == nil {
					out[ch] = make(map[string]struct{})
				}
				out[ch][id] = struct{}{}
			}
		}
	}
	return out, nil
}

// UnattributedUniqueOutcomesSent returns the names already sent as
// unattributed unique outcomes during the current session.
func (c *Cache) UnattributedUniqueOutcomesSent(ctx context.Context) ([]string, error) {
	return c.sets.GetStringSet(ctx, influence.UnattributedUniqueOutcomesKey)
}

// MarkUnattributedUniqueOutcomeSent adds name to the unattributed set.
func (c *Cache) MarkUnattributedUniqueOutcomeSent(ctx context.Context, name string) error {
	c.setMu.Lock()
	defer c.setMu.Unlock()
	names, err := c.UnattributedUniqueOutcomesSent(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	return c.sets.PutStringSet(ctx, influence.UnattributedUniqueOutcomesKey, append(names, name))
}

// ClearUnattributedUniqueOutcomes empties the unattributed set.
func (c *Cache) ClearUnattributedUniqueOutcomes(ctx context.Context) error {
	c.setMu.Lock()
	defer c.setMu.Unlock()
	return c.sets.Delete(ctx, influence.UnattributedUniqueOutcomesKey)
}

func (c *Cache) refreshPending(ctx context.Context) {
	if n, err := repo.CountOutcomeEvents(ctx, c.db); err == nil {
		pendingEvents.Set(float64(n))
	}
}

func toRow(p domain.OutcomeEventParams) (domain.OutcomeEventRow, error) {
	row := domain.OutcomeEventRow{
		Name:      p.OutcomeID,
		Weight:    p.Weight,
		Timestamp: p.Timestamp,
		IsUnique:  p.Unique,
	}
	notifIDs, err := encodeIDs(p.Source.IDs(domain.ChannelNotification))
	if err != nil {
		return row, err
	}
	iamIDs, err := encodeIDs(p.Source.IDs(domain.ChannelIAM))
	if err != nil {
		return row, err
	}
	row.NotificationInfluenceType = string(p.Source.InfluenceType(domain.ChannelNotification))
	row.NotificationIDs = notifIDs
	row.IAMInfluenceType = string(p.Source.InfluenceType(domain.ChannelIAM))
	row.IAMIDs = iamIDs
	return row, nil
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", eris.Wrap(err, "encode ids")
	}
	return string(b), nil
}

// fromRow rebuilds the per-channel source fragments. Malformed id lists are
// logged and read as unattributed.
func (c *Cache) fromRow(r domain.OutcomeEventRow) domain.OutcomeEventParams {
	src := &domain.OutcomeSource{}
	for _, part := range []struct {
		ch  domain.Channel
		typ string
		ids string
	}{
		{domain.ChannelNotification, r.NotificationInfluenceType, r.NotificationIDs},
		{domain.ChannelIAM, r.IAMInfluenceType, r.IAMIDs},
	} {
		var ids []string
		if err := json.Unmarshal([]byte(part.ids), &ids); err != nil {
			c.log.Warn().Err(err).Str("channel", string(part.ch)).Int64("timestamp", r.Timestamp).Msg("malformed cached ids, treating as unattributed")
			continue
		}
		if len(ids) == 0 {
			continue
		}
		switch domain.ParseInfluenceType(part.typ) {
		case domain.InfluenceDirect:
			if src.DirectBody == nil {
				src.DirectBody = &domain.OutcomeSourceBody{}
			}
			src.DirectBody.SetIDs(part.ch, ids)
		case domain.InfluenceIndirect:
			if src.IndirectBody == nil {
				src.IndirectBody = &domain.OutcomeSourceBody{}
			}
			src.IndirectBody.SetIDs(part.ch, ids)
		}
	}
	return domain.OutcomeEventParams{
		OutcomeID: r.Name,
		Source:    src,
		Weight:    r.Weight,
		Timestamp: r.Timestamp,
		Unique:    r.IsUnique,
	}
}
