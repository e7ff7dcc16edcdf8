// Package domain defines the persistence models for pending outcome events,
// unique-outcome dedup records and the key/value preference store. These types
// are mapped with GORM and form the durable state of the attribution engine.
package domain

import "time"

// OutcomeEventRow is a pending outcome event, inserted before delivery is
// attempted and deleted once the backend acknowledges it.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - NotificationInfluenceType / IAMInfluenceType: per-channel influence
//     classification at report time.
//   - NotificationIDs / IAMIDs: JSON arrays of credited ids.
//   - Name / Weight: the reported outcome.
//   - Timestamp: report time in milliseconds; unique, used as the delete key.
//   - IsUnique: dedup rows must be written once the event is acknowledged.
type OutcomeEventRow struct {
	ID                        string  `gorm:"type:char(36);primaryKey"`
	NotificationInfluenceType string  `gorm:"type:varchar(16);not null;default:'UNATTRIBUTED'"`
	IAMInfluenceType          string  `gorm:"column:iam_influence_type;type:varchar(16);not null;default:'UNATTRIBUTED'"`
	NotificationIDs           string  `gorm:"type:text;not null;default:'[]'"`
	IAMIDs                    string  `gorm:"column:iam_ids;type:text;not null;default:'[]'"`
	Name                      string  `gorm:"type:varchar(255);not null"`
	Weight                    float64 `gorm:"not null;default:0"`
	Timestamp                 int64   `gorm:"not null;uniqueIndex:ux_outcome_event_timestamp"`
	IsUnique                  bool    `gorm:"not null;default:false"`
	CreatedAt                 time.Time
}

// TableName returns the database table name for OutcomeEventRow.
func (OutcomeEventRow) TableName() string { return "outcome_event" }

// CachedUniqueOutcome records that a (channel object id, outcome name) pair
// was already credited as unique. Rows are append-only.
type CachedUniqueOutcome struct {
	ID                 string    `gorm:"type:char(36);primaryKey"`
	ChannelInfluenceID string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_cached_unique_outcome,priority:1"`
	ChannelType        string    `gorm:"type:varchar(16);not null;uniqueIndex:ux_cached_unique_outcome,priority:2"`
	Name               string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_cached_unique_outcome,priority:3"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
}

// TableName returns the database table name for CachedUniqueOutcome.
func (CachedUniqueOutcome) TableName() string { return "cached_unique_outcome" }

// Preference is one entry of the key/value preference store.
type Preference struct {
	Key       string    `gorm:"type:varchar(128);primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName implements the GORM tabler interface.
func (Preference) TableName() string { return "preferences" }
