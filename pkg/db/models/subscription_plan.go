package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// SubscriptionPlan is static reference data owned by admin tooling; the
// engine only reads it.
type SubscriptionPlan struct {
	ID               string          `gorm:"column:id;primaryKey"`
	Name             string          `gorm:"column:name;not null"`
	DurationDays     int             `gorm:"column:duration_days;not null"`
	MaxDevices       int             `gorm:"column:max_devices;not null;default:1"`
	BandwidthLimitMB int64           `gorm:"column:bandwidth_limit_mb;not null;default:0"`
	Price            decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Currency         string          `gorm:"column:currency;not null;default:'USD'"`
	Features         pq.StringArray  `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	Active           bool            `gorm:"column:active;not null;default:true"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
