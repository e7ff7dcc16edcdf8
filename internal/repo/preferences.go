// Package repo implements the data persistence layer for the attribution
// engine, backed by GORM. This file provides the key/value Preference Store
// used for small scalars: cached influence types, the cached direct id,
// received-id ledgers, remote-config values and the unattributed unique set.
//
// Error semantics:
//   - Missing keys are not errors; typed getters return the caller's default.
//   - Values that cannot be parsed are logged and treated as missing.
//   - DB errors are wrapped and propagated.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-outcomes/internal/domain"
)

// Preferences is a Preference Store over the preferences table.
// It is safe for concurrent use; each write is a single upsert.
type Preferences struct {
	DB *gorm.DB
}

// NewPreferences binds a Preferences store to db.
func NewPreferences(db *gorm.DB) *Preferences {
	return &Preferences{DB: db}
}

// Get returns the raw value for key and whether it exists.
func (p *Preferences) Get(ctx context.Context, key string) (string, bool, error) {
	var row domain.Preference
	err := p.DB.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "read preference %q", key)
	}
	return row.Value, true, nil
}

// Put upserts the raw value for key.
func (p *Preferences) Put(ctx context.Context, key, value string) error {
	row := domain.Preference{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return eris.Wrapf(err, "write preference %q", key)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (p *Preferences) Delete(ctx context.Context, key string) error {
	if err := p.DB.WithContext(ctx).Where("key = ?", key).Delete(&domain.Preference{}).Error; err != nil {
		return eris.Wrapf(err, "delete preference %q", key)
	}
	return nil
}

// GetString returns the value for key, or def when missing.
func (p *Preferences) GetString(ctx context.Context, key, def string) (string, error) {
	v, ok, err := p.Get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

// PutString stores a string value.
func (p *Preferences) PutString(ctx context.Context, key, value string) error {
	return p.Put(ctx, key, value)
}

// GetInt returns the integer value for key, or def when missing or malformed.
func (p *Preferences) GetInt(ctx context.Context, key string, def int) (int, error) {
	v, ok, err := p.Get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	n, perr := strconv.Atoi(v)
	if perr != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("malformed int preference, using default")
		return def, nil
	}
	return n, nil
}

// PutInt stores an integer value.
func (p *Preferences) PutInt(ctx context.Context, key string, value int) error {
	return p.Put(ctx, key, strconv.Itoa(value))
}

// GetBool returns the boolean value for key, or def when missing or malformed.
func (p *Preferences) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, ok, err := p.Get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	b, perr := strconv.ParseBool(v)
	if perr != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("malformed bool preference, using default")
		return def, nil
	}
	return b, nil
}

// PutBool stores a boolean value.
func (p *Preferences) PutBool(ctx context.Context, key string, value bool) error {
	return p.Put(ctx, key, strconv.FormatBool(value))
}

// GetStringSet returns the set stored under key as a slice (insertion order).
// A malformed value is logged and treated as empty.
func (p *Preferences) GetStringSet(ctx context.Context, key string) ([]string, error) {
	v, ok, err := p.Get(ctx, key)
	if err != nil || !ok || v == "" {
		return nil, err
	}
	var out []string
	if jerr := json.Unmarshal([]byte(v), &out); jerr != nil {
		log.Warn().Err(jerr).Str("key", key).Msg("malformed string set preference, treating as empty")
		return nil, nil
	}
	return out, nil
}

// PutStringSet stores values as a set, dropping duplicates while keeping order.
func (p *Preferences) PutStringSet(ctx context.Context, key string, values []string) error {
	seen := make(map[string]struct{}, len(values))
	set := make([]string, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		set = append(set, v)
	}
	b, err := json.Marshal(set)
	if err != nil {
		return eris.Wrapf(err, "encode string set %q", key)
	}
	return p.Put(ctx, key, string(b))
}
