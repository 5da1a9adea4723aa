package models

import (
	"time"

	"github.com/veridia-labs/certledger-backend/pkg/types"
)

// CertificateType declares the achievement payload a certificate of this
// type must carry. Edits never revalidate certificates already referencing
// the type.
type CertificateType struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string `gorm:"column:name;not null;uniqueIndex"`
	Description string `gorm:"column:description"`
	// AchievementSchema holds {"required": [...], "fields": {name: kind}}.
	AchievementSchema types.JSONMap `gorm:"column:achievement_schema;type:jsonb;serializer:json"`
	Active            bool          `gorm:"column:active;not null;default:true"`
	CreatedAt         time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}
