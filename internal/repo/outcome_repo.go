// Package repo implements the data persistence layer for the attribution
// engine, backed by GORM. This file provides repository functions for pending
// outcome events and unique-outcome dedup records.
//
// The repository follows a "thin" approach: it performs persistence and simple
// query composition, leaving serialization and business rules to the outcomes
// package.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-outcomes/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique index rejected the insert.
var ErrDuplicate = errors.New("duplicate")

// InsertOutcomeEvent inserts a pending outcome row, assigning an id when empty.
// It returns ErrDuplicate when the timestamp is already taken.
func InsertOutcomeEvent(ctx context.Context, db *gorm.DB, row *domain.OutcomeEventRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(row).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ListOutcomeEvents returns every pending row ordered by timestamp.
func ListOutcomeEvents(ctx context.Context, db *gorm.DB) ([]domain.OutcomeEventRow, error) {
	var out []domain.OutcomeEventRow
	err := db.WithContext(ctx).Order("timestamp ASC").Find(&out).Error
	return out, err
}

// ListPendingUniqueOutcomeEvents returns the pending unique rows reported
// under name.
func ListPendingUniqueOutcomeEvents(ctx context.Context, db *gorm.DB, name string) ([]domain.OutcomeEventRow, error) {
	var out []domain.OutcomeEventRow
	err := db.WithContext(ctx).
		Where("name = ? AND is_unique = ?", name, true).
		Order("timestamp ASC").
		Find(&out).Error
	return out, err
}

// CountOutcomeEvents returns the number of pending rows.
func CountOutcomeEvents(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.OutcomeEventRow{}).Count(&total).Error
	return total, err
}

// ListOutcomeEventsPage returns a page of pending rows ordered by timestamp.
func ListOutcomeEventsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.OutcomeEventRow, error) {
	var out []domain.OutcomeEventRow
	err := db.WithContext(ctx).
		Order("timestamp ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteOutcomeEventByTimestamp removes the pending row with the given
// timestamp and reports how many rows were removed.
func DeleteOutcomeEventByTimestamp(ctx context.Context, db *gorm.DB, timestamp int64) (int64, error) {
	res := db.WithContext(ctx).Where("timestamp = ?", timestamp).Delete(&domain.OutcomeEventRow{})
	return res.RowsAffected, res.Error
}

// InsertCachedUniqueOutcome records a credited (id, channel, name) triple.
// Re-inserting an existing triple is a no-op.
func InsertCachedUniqueOutcome(ctx context.Context, db *gorm.DB, influenceID string, channel domain.Channel, name string) error {
	row := &domain.CachedUniqueOutcome{
		ID:                 uuid.NewString(),
		ChannelInfluenceID: influenceID,
		ChannelType:        string(channel),
		Name:               name,
		CreatedAt:          time.Now().UTC(),
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
}

// CachedUniqueOutcomeIDs returns the subset of ids already credited for
// (channel, name).
func CachedUniqueOutcomeIDs(ctx context.Context, db *gorm.DB, channel domain.Channel, name string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.CachedUniqueOutcome{}).
		Where("channel_type = ? AND name = ? AND channel_influence_id IN ?", string(channel), name, ids).
		Pluck("channel_influence_id", &out).Error
	return out, err
}

// isDuplicate detects unique-constraint violations; glebarez/sqlite often
// returns plain-text errors that do not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
