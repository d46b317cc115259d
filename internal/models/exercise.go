package models

import "time"

// Exercise is one row of the GymBro exercise library, queried by the
// backend exercise_lookup agent tool.
type Exercise struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Slug        string `gorm:"type:varchar(255);not null;uniqueIndex"` // Stable lookup key.
	Name        string `gorm:"type:text;not null"`                     // Display name.
	MuscleGroup string `gorm:"type:varchar(64);not null;index"`        // Primary muscle group.
	Equipment   string `gorm:"type:varchar(64)"`                       // Required equipment.
	Difficulty  string `gorm:"type:varchar(32)"`                       // beginner, intermediate, advanced.
	Description string `gorm:"type:text"`                              // Coaching notes.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
